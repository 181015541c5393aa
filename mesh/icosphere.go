// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package mesh generates the geometry rendered by the raytracer.
package mesh

import (
	"encoding/binary"

	"github.com/chewxy/math32"
	"golang.org/x/image/math/f32"
)

// VertexStride is the byte size of one packed position.
const VertexStride = 12

// icosahedron vertices on the unit sphere.
var icoVertices = func() []f32.Vec3 {
	t := (1 + math32.Sqrt(5)) / 2
	raw := []f32.Vec3{
		{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
		{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
		{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
	}
	for i := range raw {
		raw[i] = normalize(raw[i])
	}
	return raw
}()

var icoFaces = [20][3]int{
	{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
	{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
	{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
	{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
}

// Icosphere returns a unit sphere made by subdividing an icosahedron
// subdivisions times, as a non-indexed triangle list. It has
// 20*4^subdivisions triangles.
func Icosphere(subdivisions int) []f32.Vec3 {
	tris := make([]f32.Vec3, 0, 60)
	for _, f := range icoFaces {
		tris = append(tris, icoVertices[f[0]], icoVertices[f[1]], icoVertices[f[2]])
	}
	for s := 0; s < subdivisions; s++ {
		next := make([]f32.Vec3, 0, len(tris)*4)
		for i := 0; i < len(tris); i += 3 {
			a, b, c := tris[i], tris[i+1], tris[i+2]
			ab, bc, ca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
			next = append(next,
				a, ab, ca,
				b, bc, ab,
				c, ca, bc,
				ab, bc, ca,
			)
		}
		tris = next
	}
	return tris
}

// TriangleCount returns the triangle count of Icosphere(subdivisions).
func TriangleCount(subdivisions int) int {
	return 20 << (2 * subdivisions)
}

// Bytes packs positions as little-endian R32G32B32_FLOAT.
func Bytes(vertices []f32.Vec3) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	for i, v := range vertices {
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint32(out[i*VertexStride+j*4:], math32.Float32bits(v[j]))
		}
	}
	return out
}

func midpoint(a, b f32.Vec3) f32.Vec3 {
	return normalize(f32.Vec3{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2})
}

func normalize(v f32.Vec3) f32.Vec3 {
	l := math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	return f32.Vec3{v[0] / l, v[1] / l, v[2] / l}
}
