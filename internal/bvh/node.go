package bvh

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"
)

// NodeSize is the encoded byte size of one node.
const NodeSize = 32

// leafBit marks the second index word of a leaf node.
const leafBit = 1 << 31

// Node is a BVH node. Interior nodes reference two children; leaves
// reference a contiguous run of primitives set up by the LeafCallback.
type Node struct {
	Min, Max f32.Vec3

	// Left and Right are child indices of an interior node.
	Left, Right uint32

	// First and Count locate a leaf's primitives.
	First, Count uint32

	leaf bool
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.leaf }

// SetChildNodes links an interior node to its children.
func (n *Node) SetChildNodes(left, right uint32) {
	n.Left = left
	n.Right = right
	n.leaf = false
}

// Encode writes the node as min.xyz, a, max.xyz, b where a/b are the child
// indices of an interior node or first/count|leafBit of a leaf.
func (n *Node) Encode(dst []byte) {
	le := binary.LittleEndian
	a, b := n.Left, n.Right
	if n.leaf {
		a, b = n.First, n.Count|leafBit
	}
	for i := 0; i < 3; i++ {
		le.PutUint32(dst[i*4:], math.Float32bits(n.Min[i]))
		le.PutUint32(dst[16+i*4:], math.Float32bits(n.Max[i]))
	}
	le.PutUint32(dst[12:], a)
	le.PutUint32(dst[28:], b)
}

// DecodeNode parses one encoded node.
func DecodeNode(src []byte) (Node, error) {
	if len(src) < NodeSize {
		return Node{}, fmt.Errorf("bvh: short node: %d bytes", len(src))
	}
	le := binary.LittleEndian
	var n Node
	for i := 0; i < 3; i++ {
		n.Min[i] = math.Float32frombits(le.Uint32(src[i*4:]))
		n.Max[i] = math.Float32frombits(le.Uint32(src[16+i*4:]))
	}
	a, b := le.Uint32(src[12:]), le.Uint32(src[28:])
	if b&leafBit != 0 {
		n.leaf = true
		n.First, n.Count = a, b&^leafBit
	} else {
		n.Left, n.Right = a, b
	}
	return n, nil
}

// MinVec3 returns the component-wise minimum.
func MinVec3(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

// MaxVec3 returns the component-wise maximum.
func MaxVec3(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}

func sub(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func maxVec() f32.Vec3 { return f32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32} }
func minVec() f32.Vec3 { return f32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32} }

// Triangle is a bounded triangle carrying the index of its source
// primitive.
type Triangle struct {
	V     [3]f32.Vec3
	Index int
}

// BBox returns the triangle bounds.
func (t *Triangle) BBox() [2]f32.Vec3 {
	return [2]f32.Vec3{
		MinVec3(MinVec3(t.V[0], t.V[1]), t.V[2]),
		MaxVec3(MaxVec3(t.V[0], t.V[1]), t.V[2]),
	}
}

// Center returns the triangle centroid.
func (t *Triangle) Center() f32.Vec3 {
	return f32.Vec3{
		(t.V[0][0] + t.V[1][0] + t.V[2][0]) / 3,
		(t.V[0][1] + t.V[1][1] + t.V[2][1]) / 3,
		(t.V[0][2] + t.V[1][2] + t.V[2][2]) / 3,
	}
}

// Box is an axis-aligned box carrying the index of its source item.
type Box struct {
	Min, Max f32.Vec3
	Index    int
}

// BBox returns the box bounds.
func (b *Box) BBox() [2]f32.Vec3 { return [2]f32.Vec3{b.Min, b.Max} }

// Center returns the box midpoint.
func (b *Box) Center() f32.Vec3 {
	return f32.Vec3{(b.Min[0] + b.Max[0]) / 2, (b.Min[1] + b.Max[1]) / 2, (b.Min[2] + b.Max[2]) / 2}
}
