// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// Mode is the raytracing strategy of a Device. It is fixed at creation.
type Mode uint8

const (
	// ModeFallback emulates raytracing with host BVH builds and compute.
	ModeFallback Mode = iota
	// ModeNative forwards raytracing work to a NativeRaytracer.
	ModeNative
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeNative {
		return "native"
	}
	return "fallback"
}

// NativeRaytracer is an optional interface implemented by hal devices that
// expose hardware raytracing. Devices that do not implement it, or report
// RaytracingSupported false, run in ModeFallback.
type NativeRaytracer interface {
	// RaytracingSupported reports whether the driver can build acceleration
	// structures and dispatch rays.
	RaytracingSupported() bool

	// AccelerationStructurePrebuildInfo reports scratch and result sizes
	// for inputs.
	AccelerationStructurePrebuildInfo(inputs *BuildInputs) (PrebuildInfo, error)

	// BuildAccelerationStructure records a build into enc.
	BuildAccelerationStructure(enc hal.CommandEncoder, desc *BuildDesc) error

	// DispatchRays records a ray dispatch into enc.
	DispatchRays(enc hal.CommandEncoder, so *StateObject, desc *DispatchRaysDesc) error
}

// Option configures a Device.
type Option func(*deviceOptions)

type deviceOptions struct {
	forceFallback bool
	requireNative bool
}

// WithForceFallback selects ModeFallback even if the hal device implements
// NativeRaytracer.
func WithForceFallback(force bool) Option {
	return func(o *deviceOptions) {
		o.forceFallback = force
	}
}

// WithRequireNative makes New fail with ErrNoRaytracing instead of selecting
// ModeFallback.
func WithRequireNative(require bool) Option {
	return func(o *deviceOptions) {
		o.requireNative = require
	}
}

// Device is a raytracing device over a hal device and queue.
type Device struct {
	hal    hal.Device
	queue  hal.Queue
	native NativeRaytracer
	mode   Mode

	space addressSpace
	built structureTable

	// lastSubmission is the queue index of the most recent submit.
	lastSubmission uint64
	stateObjects   uint64
}

// New creates a raytracing device. The capability strategy is selected here
// and never changes.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("dxr: nil hal device or queue")
	}
	var o deviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		hal:   device,
		queue: queue,
		mode:  ModeFallback,
		space: newAddressSpace(),
		built: make(structureTable),
	}
	if nr, ok := device.(NativeRaytracer); ok && nr.RaytracingSupported() && !o.forceFallback {
		d.native = nr
		d.mode = ModeNative
	}
	if d.mode != ModeNative && o.requireNative {
		return nil, ErrNoRaytracing
	}

	if d.mode == ModeFallback {
		logging.Logger().Warn("dxr: no native raytracing driver, using compute fallback")
	} else {
		logging.Logger().Info("dxr: native raytracing driver present")
	}
	return d, nil
}

// Mode returns the capability strategy of the device.
func (d *Device) Mode() Mode { return d.mode }

// UsingRaytracingDriver reports whether a native raytracing driver is in
// use. When it is, wrapped pointers need no descriptor indirection.
func (d *Device) UsingRaytracingDriver() bool { return d.mode == ModeNative }

// HAL returns the underlying hal device.
func (d *Device) HAL() hal.Device { return d.hal }

// Queue returns the underlying hal queue.
func (d *Device) Queue() hal.Queue { return d.queue }

// ShaderIdentifierSize returns the byte size of shader identifiers returned
// by StateObject.ShaderIdentifier.
func (d *Device) ShaderIdentifierSize() uint32 { return ShaderIdentifierSize }

// WrappedPointerSimple mints a wrapped pointer for an acceleration structure
// at gpuVA. In fallback mode descriptorIndex must name the raw UAV that
// covers the structure; in native mode it is ignored.
func (d *Device) WrappedPointerSimple(descriptorIndex uint32, gpuVA GPUVirtualAddress) WrappedGPUPointer {
	if d.mode == ModeNative {
		return WrappedGPUPointer{GPUAddress: gpuVA}
	}
	return WrappedGPUPointer{DescriptorIndex: descriptorIndex, GPUAddress: gpuVA}
}

// ExecuteCommandList closes cl, runs its deferred host work in record order
// and submits it to the queue.
func (d *Device) ExecuteCommandList(cl *CommandList) error {
	if cl.dev != d {
		return errors.New("dxr: command list belongs to another device")
	}
	if cl.closed {
		return ErrCommandListClosed
	}
	cl.closed = true
	cmd, err := cl.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("dxr: close command list %q: %w", cl.label, err)
	}
	for i, op := range cl.deferred {
		if err := op(); err != nil {
			cl.enc.ResetAll([]hal.CommandBuffer{cmd})
			return fmt.Errorf("dxr: command list %q op %d: %w", cl.label, i, err)
		}
	}
	cl.deferred = cl.deferred[:0]

	idx, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("dxr: submit command list %q: %w", cl.label, err)
	}
	d.lastSubmission = idx
	cl.executed = append(cl.executed, cmd)
	logging.Logger().Debug("dxr: command list executed", "label", cl.label, "submission", idx)
	return nil
}
