// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package accel

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/raytrace/mesh"
	"golang.org/x/image/math/f32"
)

// InstanceMask is the mask of the scene instance; no ray is masked out.
const InstanceMask = 0xFF

// Geometry is the triangle list a scene is built from.
type Geometry struct {
	// Label prefixes the debug names of every buffer of the scene.
	Label string

	// Vertices is a non-indexed triangle list.
	Vertices []f32.Vec3
}

// Structure is one built acceleration structure and its buffers.
type Structure struct {
	Prebuild dxr.PrebuildInfo
	Scratch  *alloc.Buffer
	Result   *alloc.Buffer
}

// Address returns the GPU address of the built structure.
func (s *Structure) Address() dxr.GPUVirtualAddress {
	return s.Result.GPUAddress()
}

// Scene is a single mesh built into a BLAS and wrapped by a one-instance
// TLAS.
type Scene struct {
	Vertices    *alloc.Buffer
	VertexCount uint32

	BLAS      Structure
	Pointer   dxr.WrappedGPUPointer
	Instances *alloc.Buffer
	TLAS      Structure
}

// TLASAddress returns the address shaders trace against.
func (s *Scene) TLASAddress() dxr.GPUVirtualAddress {
	return s.TLAS.Address()
}

// ReleaseScratch frees both scratch buffers. Call it once the build has
// completed on the GPU.
func (s *Scene) ReleaseScratch() {
	for _, b := range []*alloc.Buffer{s.BLAS.Scratch, s.TLAS.Scratch} {
		if b != nil {
			b.Release()
		}
	}
	s.BLAS.Scratch, s.TLAS.Scratch = nil, nil
}

// Release frees every buffer of the scene.
func (s *Scene) Release() {
	s.ReleaseScratch()
	for _, b := range []*alloc.Buffer{s.Vertices, s.BLAS.Result, s.Instances, s.TLAS.Result} {
		if b != nil {
			b.Release()
		}
	}
	*s = Scene{}
}

// Builder records scene builds.
type Builder struct {
	dev   *dxr.Device
	alloc *alloc.Allocator
	heap  *descriptor.Heap
	flags dxr.BuildFlags
}

// NewBuilder creates a builder allocating from a and, in fallback mode,
// wrapping pointers through heap.
func NewBuilder(a *alloc.Allocator, heap *descriptor.Heap) *Builder {
	return &Builder{
		dev:   a.Device(),
		alloc: a,
		heap:  heap,
		flags: dxr.BuildFlagPreferFastTrace,
	}
}

func (b *Builder) bottomLevelInputs(vertices dxr.GPUVirtualAddress, count uint32) dxr.BuildInputs {
	return dxr.BuildInputs{
		Type:     dxr.BottomLevel,
		Flags:    b.flags,
		NumDescs: 1,
		Geometries: []dxr.GeometryDesc{{
			Type:  dxr.GeometryTypeTriangles,
			Flags: dxr.GeometryFlagOpaque,
			Triangles: dxr.TrianglesDesc{
				VertexBuffer: dxr.AddressAndStride{StartAddress: vertices, StrideInBytes: mesh.VertexStride},
				VertexCount:  count,
				VertexFormat: dxr.FormatR32G32B32Float,
			},
		}},
	}
}

func (b *Builder) topLevelInputs(instances dxr.GPUVirtualAddress) dxr.BuildInputs {
	return dxr.BuildInputs{
		Type:          dxr.TopLevel,
		Flags:         b.flags,
		NumDescs:      1,
		InstanceDescs: instances,
	}
}

// Prebuild reports the BLAS and TLAS sizes BuildScene would allocate for
// geom without allocating anything.
func (b *Builder) Prebuild(geom Geometry) (blas, tlas dxr.PrebuildInfo, err error) {
	in := b.bottomLevelInputs(0, uint32(len(geom.Vertices)))
	if blas, err = b.dev.AccelerationStructurePrebuildInfo(&in); err != nil {
		return blas, tlas, fmt.Errorf("accel: BLAS prebuild: %w", err)
	}
	in = b.topLevelInputs(0)
	if tlas, err = b.dev.AccelerationStructurePrebuildInfo(&in); err != nil {
		return blas, tlas, fmt.Errorf("accel: TLAS prebuild: %w", err)
	}
	return blas, tlas, nil
}

// BuildScene uploads geom and records the BLAS build, the UAV barrier on
// its result and the TLAS build into cl. The command list must be executed
// and waited on before the scene is traced. On error every buffer
// allocated so far is released.
func (b *Builder) BuildScene(cl *dxr.CommandList, geom Geometry) (_ *Scene, err error) {
	if len(geom.Vertices) == 0 {
		return nil, errors.New("accel: scene without vertices")
	}
	label := geom.Label
	if label == "" {
		label = "scene"
	}

	s := &Scene{VertexCount: uint32(len(geom.Vertices))}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	s.Vertices, err = b.alloc.CreateUploadBuffer(label+" vertices", mesh.Bytes(geom.Vertices))
	if err != nil {
		return nil, fmt.Errorf("accel: vertex buffer: %w", err)
	}

	blasInputs := b.bottomLevelInputs(s.Vertices.GPUAddress(), s.VertexCount)
	if err = b.build(cl, &s.BLAS, label+" BLAS", &blasInputs); err != nil {
		return nil, err
	}
	if err = cl.ResourceBarrierUAV(s.BLAS.Result.Raw()); err != nil {
		return nil, fmt.Errorf("accel: BLAS barrier: %w", err)
	}

	numElements := uint32(s.BLAS.Prebuild.ResultDataMaxSizeInBytes / uint64(dxr.FormatR32Typeless.Size()))
	s.Pointer, err = CreateWrappedPointer(b.dev, b.heap, s.BLAS.Result, numElements)
	if err != nil {
		return nil, err
	}

	inst := dxr.InstanceDesc{
		Transform:             dxr.IdentityTransform,
		InstanceMask:          InstanceMask,
		Flags:                 dxr.InstanceFlagNone,
		AccelerationStructure: s.Pointer,
	}
	raw := make([]byte, dxr.InstanceDescSize)
	if err = inst.Encode(raw, b.dev.Mode()); err != nil {
		return nil, fmt.Errorf("accel: instance descriptor: %w", err)
	}
	s.Instances, err = b.alloc.CreateUploadBuffer(label+" instances", raw)
	if err != nil {
		return nil, fmt.Errorf("accel: instance buffer: %w", err)
	}

	cl.SetDescriptorHeap(b.heap)
	tlasInputs := b.topLevelInputs(s.Instances.GPUAddress())
	if err = b.build(cl, &s.TLAS, label+" TLAS", &tlasInputs); err != nil {
		return nil, err
	}

	logging.Logger().Info("accel: scene recorded",
		"triangles", s.VertexCount/3,
		"blas_bytes", s.BLAS.Prebuild.ResultDataMaxSizeInBytes,
		"tlas_bytes", s.TLAS.Prebuild.ResultDataMaxSizeInBytes,
		"pointer", s.Pointer)
	return s, nil
}

// build queries sizes, allocates scratch and result and records one build.
func (b *Builder) build(cl *dxr.CommandList, st *Structure, label string, inputs *dxr.BuildInputs) error {
	info, err := b.dev.AccelerationStructurePrebuildInfo(inputs)
	if err != nil {
		return fmt.Errorf("accel: %s prebuild: %w", label, err)
	}
	if info.ResultDataMaxSizeInBytes == 0 {
		return fmt.Errorf("accel: %s prebuild reported an empty result", label)
	}
	st.Prebuild = info

	st.Scratch, err = b.alloc.CreateUAVBuffer(label+" scratch",
		max(info.ScratchDataSizeInBytes, dxr.AccelerationStructureByteAlignment), dxr.StateUnorderedAccess)
	if err != nil {
		return fmt.Errorf("accel: %s scratch: %w", label, err)
	}
	st.Result, err = b.alloc.CreateUAVBuffer(label+" result",
		info.ResultDataMaxSizeInBytes, b.dev.AccelerationStructureResourceState())
	if err != nil {
		return fmt.Errorf("accel: %s result: %w", label, err)
	}

	err = cl.BuildRaytracingAccelerationStructure(&dxr.BuildDesc{
		Inputs:         *inputs,
		DestAddress:    st.Result.GPUAddress(),
		ScratchAddress: st.Scratch.GPUAddress(),
	})
	if err != nil {
		return fmt.Errorf("accel: %s build: %w", label, err)
	}
	logging.Logger().Debug("accel: build recorded", "label", label,
		"result", info.ResultDataMaxSizeInBytes, "scratch", info.ScratchDataSizeInBytes)
	return nil
}
