// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// CommandList records raytracing work. It owns one hal.CommandEncoder,
// which plays the role of the command allocator: Reset must only be called
// once the GPU has finished every execution of the list.
type CommandList struct {
	dev   *Device
	enc   hal.CommandEncoder
	label string

	closed   bool
	deferred []func() error
	executed []hal.CommandBuffer

	heap       DescriptorTable
	rootSig    *RootSignature
	tables     map[uint32]uint32
	views      map[uint32]GPUVirtualAddress
	state      *StateObject
	bindGroups []hal.BindGroup
}

// CreateCommandList creates a command list ready for recording.
func (d *Device) CreateCommandList(label string) (*CommandList, error) {
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("dxr: create command encoder %q: %w", label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("dxr: begin encoding %q: %w", label, err)
	}
	return &CommandList{
		dev:    d,
		enc:    enc,
		label:  label,
		tables: make(map[uint32]uint32),
		views:  make(map[uint32]GPUVirtualAddress),
	}, nil
}

// Label returns the debug label of the list.
func (cl *CommandList) Label() string { return cl.label }

// Reset recycles the list for recording. The caller must have waited for
// every prior execution to complete.
func (cl *CommandList) Reset() error {
	if !cl.closed {
		cl.enc.DiscardEncoding()
	}
	cl.enc.ResetAll(cl.executed)
	for _, cmd := range cl.executed {
		cl.dev.hal.FreeCommandBuffer(cmd)
	}
	cl.executed = cl.executed[:0]
	for _, bg := range cl.bindGroups {
		cl.dev.hal.DestroyBindGroup(bg)
	}
	cl.bindGroups = cl.bindGroups[:0]
	cl.deferred = cl.deferred[:0]
	cl.heap, cl.rootSig, cl.state = nil, nil, nil
	clear(cl.tables)
	clear(cl.views)

	if err := cl.enc.BeginEncoding(cl.label); err != nil {
		return fmt.Errorf("dxr: reset %q: %w", cl.label, err)
	}
	cl.closed = false
	return nil
}

// Release destroys the encoder. The list must not be in flight.
func (cl *CommandList) Release() {
	for _, bg := range cl.bindGroups {
		cl.dev.hal.DestroyBindGroup(bg)
	}
	cl.bindGroups = nil
	if !cl.closed {
		cl.enc.DiscardEncoding()
	}
	cl.enc.Destroy()
}

func (cl *CommandList) checkOpen() error {
	if cl.closed {
		return fmt.Errorf("%w: %q", ErrCommandListClosed, cl.label)
	}
	return nil
}

// SetDescriptorHeap binds the shader-visible descriptor heap. Fallback TLAS
// builds resolve wrapped pointers through it.
func (cl *CommandList) SetDescriptorHeap(heap DescriptorTable) {
	cl.heap = heap
}

// BuildRaytracingAccelerationStructure records a build. The destination
// and scratch must be sized by AccelerationStructurePrebuildInfo.
func (cl *CommandList) BuildRaytracingAccelerationStructure(desc *BuildDesc) error {
	if err := cl.checkOpen(); err != nil {
		return err
	}
	if err := desc.Inputs.validate(); err != nil {
		return err
	}
	if desc.DestAddress == 0 || desc.ScratchAddress == 0 {
		return fmt.Errorf("%w: build without result or scratch address", ErrInvalidBuildInputs)
	}
	d := cl.dev
	if d.mode == ModeNative {
		if err := d.native.BuildAccelerationStructure(cl.enc, desc); err != nil {
			return fmt.Errorf("dxr: native %s build: %w", desc.Inputs.Type, err)
		}
		return nil
	}

	snapshot := *desc
	snapshot.Inputs.Geometries = append([]GeometryDesc(nil), desc.Inputs.Geometries...)
	heap := cl.heap
	cl.deferred = append(cl.deferred, func() error {
		if snapshot.Inputs.Type == TopLevel {
			return d.buildTopLevelOnHost(&snapshot, heap)
		}
		return d.buildBottomLevelOnHost(&snapshot)
	})
	return nil
}

// ResourceBarrierUAV orders all prior UAV writes to buf before later reads.
func (cl *CommandList) ResourceBarrierUAV(buf hal.Buffer) error {
	if err := cl.checkOpen(); err != nil {
		return err
	}
	cl.enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: buf,
		Usage: hal.BufferUsageTransition{
			OldUsage: gputypes.BufferUsageStorage,
			NewUsage: gputypes.BufferUsageStorage,
		},
	}})
	if cl.dev.mode == ModeFallback {
		d := cl.dev
		cl.deferred = append(cl.deferred, func() error {
			d.uavBarrierOnHost(buf)
			return nil
		})
	}
	return nil
}

// SetComputeRootSignature binds the global root signature for dispatch.
func (cl *CommandList) SetComputeRootSignature(rs *RootSignature) {
	cl.rootSig = rs
}

// SetComputeRootDescriptorTable binds a descriptor table parameter to the
// slot range starting at baseIndex.
func (cl *CommandList) SetComputeRootDescriptorTable(param, baseIndex uint32) {
	cl.tables[param] = baseIndex
}

// SetComputeRootShaderResourceView binds a root SRV parameter to va.
func (cl *CommandList) SetComputeRootShaderResourceView(param uint32, va GPUVirtualAddress) {
	cl.views[param] = va
}

// SetPipelineState1 binds a raytracing state object.
func (cl *CommandList) SetPipelineState1(so *StateObject) {
	cl.state = so
}
