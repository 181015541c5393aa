// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"fmt"
)

// GeometryType selects the primitive kind of a geometry description.
type GeometryType uint8

const (
	GeometryTypeTriangles GeometryType = iota
	GeometryTypeProceduralAABBs
)

// GeometryFlags modify how rays interact with a geometry.
type GeometryFlags uint32

const (
	GeometryFlagNone GeometryFlags = 0
	// GeometryFlagOpaque disables any-hit invocation for the geometry.
	GeometryFlagOpaque GeometryFlags = 1 << 0
)

// AccelerationStructureType distinguishes bottom- and top-level structures.
type AccelerationStructureType uint8

const (
	BottomLevel AccelerationStructureType = iota
	TopLevel
)

// String returns "BLAS" or "TLAS".
func (t AccelerationStructureType) String() string {
	if t == TopLevel {
		return "TLAS"
	}
	return "BLAS"
}

// BuildFlags tune the build for trace speed, build speed or updates.
type BuildFlags uint32

const (
	BuildFlagNone            BuildFlags = 0
	BuildFlagAllowUpdate     BuildFlags = 1 << 0
	BuildFlagAllowCompaction BuildFlags = 1 << 1
	BuildFlagPreferFastTrace BuildFlags = 1 << 2
	BuildFlagPreferFastBuild BuildFlags = 1 << 3
)

// AddressAndStride locates strided elements in GPU memory.
type AddressAndStride struct {
	StartAddress  GPUVirtualAddress
	StrideInBytes uint64
}

// TrianglesDesc describes a non-indexed triangle list.
type TrianglesDesc struct {
	VertexBuffer AddressAndStride
	VertexCount  uint32
	VertexFormat Format
}

// GeometryDesc describes one geometry of a bottom-level structure.
type GeometryDesc struct {
	Type      GeometryType
	Flags     GeometryFlags
	Triangles TrianglesDesc
}

// BuildInputs describe what an acceleration structure is built from.
// Bottom-level inputs use Geometries; top-level inputs use NumDescs
// instances stored at InstanceDescs.
type BuildInputs struct {
	Type          AccelerationStructureType
	Flags         BuildFlags
	NumDescs      uint32
	Geometries    []GeometryDesc
	InstanceDescs GPUVirtualAddress
}

// PrebuildInfo holds the buffer sizes a build requires.
type PrebuildInfo struct {
	ResultDataMaxSizeInBytes     uint64
	ScratchDataSizeInBytes       uint64
	UpdateScratchDataSizeInBytes uint64
}

// BuildDesc is a complete build command.
type BuildDesc struct {
	Inputs         BuildInputs
	DestAddress    GPUVirtualAddress
	ScratchAddress GPUVirtualAddress
}

// validate checks inputs independently of the addresses they reference.
func (in *BuildInputs) validate() error {
	switch in.Type {
	case BottomLevel:
		if in.NumDescs != uint32(len(in.Geometries)) {
			return fmt.Errorf("%w: NumDescs %d does not match %d geometries",
				ErrInvalidBuildInputs, in.NumDescs, len(in.Geometries))
		}
		if len(in.Geometries) == 0 {
			return fmt.Errorf("%w: bottom-level build without geometry", ErrInvalidBuildInputs)
		}
		for i := range in.Geometries {
			g := &in.Geometries[i]
			if g.Type != GeometryTypeTriangles {
				return fmt.Errorf("%w: geometry %d: only triangles are supported", ErrInvalidBuildInputs, i)
			}
			t := &g.Triangles
			if t.VertexCount == 0 || t.VertexCount%3 != 0 {
				return fmt.Errorf("%w: geometry %d: vertex count %d is not a triangle list",
					ErrInvalidBuildInputs, i, t.VertexCount)
			}
			if t.VertexFormat != FormatR32G32B32Float {
				return fmt.Errorf("%w: geometry %d: unsupported vertex format %s",
					ErrInvalidBuildInputs, i, t.VertexFormat)
			}
			if t.VertexBuffer.StrideInBytes < uint64(t.VertexFormat.Size()) {
				return fmt.Errorf("%w: geometry %d: stride %d smaller than vertex",
					ErrInvalidBuildInputs, i, t.VertexBuffer.StrideInBytes)
			}
		}
	case TopLevel:
		if in.NumDescs == 0 {
			return fmt.Errorf("%w: top-level build without instances", ErrInvalidBuildInputs)
		}
	default:
		return fmt.Errorf("%w: unknown structure type %d", ErrInvalidBuildInputs, in.Type)
	}
	return nil
}

// primitiveCount returns the number of BVH leaves the inputs produce.
func (in *BuildInputs) primitiveCount() uint64 {
	if in.Type == TopLevel {
		return uint64(in.NumDescs)
	}
	var n uint64
	for i := range in.Geometries {
		n += uint64(in.Geometries[i].Triangles.VertexCount / 3)
	}
	return n
}

// AccelerationStructurePrebuildInfo reports the scratch and result sizes
// required to build inputs. The result is a pure function of the inputs.
func (d *Device) AccelerationStructurePrebuildInfo(inputs *BuildInputs) (PrebuildInfo, error) {
	if err := inputs.validate(); err != nil {
		return PrebuildInfo{}, err
	}
	if d.mode == ModeNative {
		info, err := d.native.AccelerationStructurePrebuildInfo(inputs)
		if err != nil {
			return PrebuildInfo{}, fmt.Errorf("dxr: native prebuild: %w", err)
		}
		return info, nil
	}
	return fallbackPrebuildInfo(inputs), nil
}

// fallbackPrebuildInfo sizes the fallback layout for the worst case tree
// of 2n-1 nodes.
func fallbackPrebuildInfo(inputs *BuildInputs) PrebuildInfo {
	n := inputs.primitiveCount()
	prim := uint64(triangleRecordSize)
	if inputs.Type == TopLevel {
		prim = instanceRecordSize
	}
	result := structureHeaderSize + (2*n-1)*nodeRecordSize + n*prim
	scratch := n * primitiveRefSize
	var update uint64
	if inputs.Flags&BuildFlagAllowUpdate != 0 {
		update = scratch
	}
	return PrebuildInfo{
		ResultDataMaxSizeInBytes:     Align(result, AccelerationStructureByteAlignment),
		ScratchDataSizeInBytes:       Align(scratch, AccelerationStructureByteAlignment),
		UpdateScratchDataSizeInBytes: Align(update, AccelerationStructureByteAlignment),
	}
}
