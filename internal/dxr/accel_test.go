package dxr

import (
	"errors"
	"testing"

	"golang.org/x/image/math/f32"
)

func TestPrebuildInfoValidation(t *testing.T) {
	d := newTestDevice(t)
	const va GPUVirtualAddress = 0x10000

	tests := []struct {
		name   string
		mutate func(*BuildInputs)
	}{
		{"vertex count not a triangle list", func(in *BuildInputs) { in.Geometries[0].Triangles.VertexCount = 4 }},
		{"zero vertices", func(in *BuildInputs) { in.Geometries[0].Triangles.VertexCount = 0 }},
		{"wrong format", func(in *BuildInputs) { in.Geometries[0].Triangles.VertexFormat = FormatR32Typeless }},
		{"short stride", func(in *BuildInputs) { in.Geometries[0].Triangles.VertexBuffer.StrideInBytes = 8 }},
		{"count mismatch", func(in *BuildInputs) { in.NumDescs = 2 }},
		{"procedural", func(in *BuildInputs) { in.Geometries[0].Type = GeometryTypeProceduralAABBs }},
		{"empty tlas", func(in *BuildInputs) { *in = BuildInputs{Type: TopLevel} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := triangleInputs(va, 3)
			tt.mutate(&in)
			if _, err := d.AccelerationStructurePrebuildInfo(&in); !errors.Is(err, ErrInvalidBuildInputs) {
				t.Errorf("error = %v, want ErrInvalidBuildInputs", err)
			}
		})
	}
}

func TestPrebuildInfoFallbackSizes(t *testing.T) {
	d := newTestDevice(t)

	in := triangleInputs(0x10000, 3)
	info, err := d.AccelerationStructurePrebuildInfo(&in)
	if err != nil {
		t.Fatalf("prebuild: %v", err)
	}
	// 64 header + 1 node + 1 triangle record, rounded to 256.
	if info.ResultDataMaxSizeInBytes != 256 || info.ScratchDataSizeInBytes != 256 {
		t.Errorf("one triangle: %+v", info)
	}
	if info.UpdateScratchDataSizeInBytes != 0 {
		t.Errorf("update scratch without AllowUpdate = %d", info.UpdateScratchDataSizeInBytes)
	}

	big := triangleInputs(0x10000, 3*1280)
	big.Flags |= BuildFlagAllowUpdate
	a, _ := d.AccelerationStructurePrebuildInfo(&big)
	b, _ := d.AccelerationStructurePrebuildInfo(&big)
	if a != b {
		t.Errorf("prebuild is not deterministic: %+v vs %+v", a, b)
	}
	want := Align(64+(2*1280-1)*32+1280*36, 256)
	if a.ResultDataMaxSizeInBytes != want {
		t.Errorf("result size = %d, want %d", a.ResultDataMaxSizeInBytes, want)
	}
	if a.UpdateScratchDataSizeInBytes != a.ScratchDataSizeInBytes {
		t.Errorf("update scratch = %d, want %d", a.UpdateScratchDataSizeInBytes, a.ScratchDataSizeInBytes)
	}

	tlas := BuildInputs{Type: TopLevel, NumDescs: 1, InstanceDescs: 0x10000}
	ti, err := d.AccelerationStructurePrebuildInfo(&tlas)
	if err != nil {
		t.Fatalf("tlas prebuild: %v", err)
	}
	if ti.ResultDataMaxSizeInBytes != 256 {
		t.Errorf("one instance result = %d, want 256", ti.ResultDataMaxSizeInBytes)
	}
}

func TestPrebuildInfoNative(t *testing.T) {
	d, _ := newNativeDevice(t)
	in := triangleInputs(0x10000, 3)
	info, err := d.AccelerationStructurePrebuildInfo(&in)
	if err != nil {
		t.Fatalf("prebuild: %v", err)
	}
	if info.ResultDataMaxSizeInBytes != 4096 {
		t.Errorf("native prebuild was not forwarded: %+v", info)
	}
}

func TestTransformBounds(t *testing.T) {
	m := IdentityTransform
	m[3], m[7], m[11] = 10, 0, -1
	lo, hi := transformBounds(&m, [2]f32.Vec3{{-1, -1, -1}, {1, 1, 1}})
	if lo != (f32.Vec3{9, -1, -2}) || hi != (f32.Vec3{11, 1, 0}) {
		t.Errorf("transformBounds = %v..%v", lo, hi)
	}
}
