// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import "fmt"

// GPUVirtualAddress is a device-wide byte address of buffer memory.
// Zero is never a valid address.
type GPUVirtualAddress uint64

// Platform alignment and size constants.
const (
	// ShaderIdentifierSize is the byte size of an opaque shader identifier.
	ShaderIdentifierSize = 32

	// ShaderRecordByteAlignment is the alignment of a single shader record.
	ShaderRecordByteAlignment = 32

	// ShaderTableByteAlignment is the alignment of a shader table start
	// address.
	ShaderTableByteAlignment = 64

	// AccelerationStructureByteAlignment is the alignment of acceleration
	// structure result and scratch sizes.
	AccelerationStructureByteAlignment = 256

	// InstanceDescSize is the byte size of one encoded InstanceDesc.
	InstanceDescSize = 64

	// MaxRecursionDepth is the deepest TraceRay recursion a pipeline may
	// declare.
	MaxRecursionDepth = 31
)

// Align rounds size up to a multiple of alignment. Alignment must be a power
// of two.
func Align(size, alignment uint64) uint64 {
	return (size + alignment - 1) &^ (alignment - 1)
}

// Format describes the element layout of vertices and buffer views.
type Format uint8

const (
	// FormatUnknown is the zero format.
	FormatUnknown Format = iota
	// FormatR32G32B32Float is three 32-bit floats (12 bytes).
	FormatR32G32B32Float
	// FormatR32Typeless is an untyped 32-bit element, used by raw views.
	FormatR32Typeless
)

// Size returns the byte width of one element of the format.
func (f Format) Size() uint32 {
	switch f {
	case FormatR32G32B32Float:
		return 12
	case FormatR32Typeless:
		return 4
	default:
		return 0
	}
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatR32G32B32Float:
		return "R32G32B32_FLOAT"
	case FormatR32Typeless:
		return "R32_TYPELESS"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// HeapType classifies the memory a buffer lives in.
type HeapType uint8

const (
	// HeapDefault is device-local memory, not CPU visible.
	HeapDefault HeapType = iota
	// HeapUpload is CPU-writable memory read by the GPU.
	HeapUpload
)

// String returns the heap name.
func (h HeapType) String() string {
	switch h {
	case HeapDefault:
		return "default"
	case HeapUpload:
		return "upload"
	default:
		return fmt.Sprintf("HeapType(%d)", uint8(h))
	}
}

// ResourceState is the usage state a buffer is in.
type ResourceState uint32

const (
	StateCommon ResourceState = iota
	StateGenericRead
	StateUnorderedAccess
	StateRaytracingAccelerationStructure
	StateCopyDest
	StateNonPixelShaderResource
)

// String returns the state name.
func (s ResourceState) String() string {
	switch s {
	case StateCommon:
		return "COMMON"
	case StateGenericRead:
		return "GENERIC_READ"
	case StateUnorderedAccess:
		return "UNORDERED_ACCESS"
	case StateRaytracingAccelerationStructure:
		return "RAYTRACING_ACCELERATION_STRUCTURE"
	case StateCopyDest:
		return "COPY_DEST"
	case StateNonPixelShaderResource:
		return "NON_PIXEL_SHADER_RESOURCE"
	default:
		return fmt.Sprintf("ResourceState(%d)", uint32(s))
	}
}

// ResourceFlags are creation flags of a buffer.
type ResourceFlags uint32

const (
	// FlagNone requests no special access.
	FlagNone ResourceFlags = 0
	// FlagAllowUnorderedAccess allows UAV access to the buffer.
	FlagAllowUnorderedAccess ResourceFlags = 1 << 0
)

// Contains reports whether all bits of other are set.
func (f ResourceFlags) Contains(other ResourceFlags) bool {
	return f&other == other
}

// AccelerationStructureResourceState returns the state an acceleration
// structure result buffer must be created in.
func (d *Device) AccelerationStructureResourceState() ResourceState {
	if d.mode == ModeNative {
		return StateRaytracingAccelerationStructure
	}
	// The fallback reads and writes results through raw UAVs.
	return StateUnorderedAccess
}
