// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package descriptor manages the shader-visible descriptor heap used by
// raytracing dispatches.
//
// Slots are handed out in strictly increasing order and are never reused.
// A Heap implements dxr.DescriptorTable so that it can be bound with
// CommandList.SetDescriptorHeap.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
)

// DefaultCapacity is the number of slots of a heap created with capacity 0.
const DefaultCapacity = 100000

// HandleIncrement is the byte distance between two consecutive handles.
const HandleIncrement = 32

// Base addresses of the handle ranges. Handles are opaque; only their
// spacing matters.
const (
	cpuHandleBase = 0x1000_0000
	gpuHandleBase = 0x8000_0000
)

var (
	// ErrHeapFull is returned by Allocate once every slot has been handed out.
	ErrHeapFull = errors.New("descriptor: heap capacity exceeded")

	// ErrSlotOutOfRange is returned when a view is written to a slot the
	// heap never allocated.
	ErrSlotOutOfRange = errors.New("descriptor: slot not allocated")
)

// CPUHandle addresses a slot for descriptor writes.
type CPUHandle uint64

// GPUHandle addresses a slot from shader-visible tables.
type GPUHandle uint64

// Slot is one allocated descriptor heap entry.
type Slot struct {
	Index uint32
	CPU   CPUHandle
	GPU   GPUHandle
}

// Heap is a fixed-capacity, shader-visible descriptor heap.
//
// Heap is not safe for concurrent use.
type Heap struct {
	capacity uint32
	next     uint32
	views    []dxr.UnorderedAccessView
	written  []bool
}

// NewHeap creates a heap with the given capacity, or DefaultCapacity when
// capacity is 0.
func NewHeap(capacity uint32) *Heap {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Heap{capacity: capacity}
}

// Capacity returns the number of slots the heap can hold.
func (h *Heap) Capacity() uint32 { return h.capacity }

// Used returns the number of slots allocated so far.
func (h *Heap) Used() uint32 { return h.next }

// Allocate returns the next free slot. Indices run 0, 1, ... in call order;
// the last valid index is Capacity()-1, after which ErrHeapFull is
// returned.
func (h *Heap) Allocate() (Slot, error) {
	if h.next >= h.capacity {
		return Slot{}, fmt.Errorf("%w: %d of %d slots in use", ErrHeapFull, h.next, h.capacity)
	}
	idx := h.next
	h.next++
	h.views = append(h.views, dxr.UnorderedAccessView{})
	h.written = append(h.written, false)
	return Slot{
		Index: idx,
		CPU:   CPUHandle(cpuHandleBase + uint64(idx)*HandleIncrement),
		GPU:   GPUHandle(gpuHandleBase + uint64(idx)*HandleIncrement),
	}, nil
}

// GPUHandle returns the shader-visible handle of index.
func (h *Heap) GPUHandle(index uint32) GPUHandle {
	return GPUHandle(gpuHandleBase + uint64(index)*HandleIncrement)
}

// CreateUnorderedAccessView writes a UAV over buf into slot. Raw views must
// use dxr.FormatR32Typeless and must not extend past the end of buf.
func (h *Heap) CreateUnorderedAccessView(buf *alloc.Buffer, desc dxr.UAVDesc, slot Slot) error {
	if slot.Index >= h.next {
		return fmt.Errorf("%w: index %d, %d allocated", ErrSlotOutOfRange, slot.Index, h.next)
	}
	if err := dxr.ValidateRawUAV(desc); err != nil {
		return err
	}
	if desc.Format.Size() == 0 {
		return fmt.Errorf("descriptor: view format %s has no element size", desc.Format)
	}
	width := uint64(desc.Format.Size())
	if end := (desc.FirstElement + uint64(desc.NumElements)) * width; end > buf.Size() {
		return fmt.Errorf("descriptor: view of %d bytes past %q (%d bytes)", end, buf.Label(), buf.Size())
	}

	h.views[slot.Index] = dxr.UnorderedAccessView{Address: buf.GPUAddress(), Desc: desc}
	h.written[slot.Index] = true
	logging.Logger().Debug("descriptor: UAV created",
		"slot", slot.Index, "buffer", buf.Label(), "elements", desc.NumElements, "format", desc.Format)
	return nil
}

// Lookup returns the view written into index.
func (h *Heap) Lookup(index uint32) (dxr.UnorderedAccessView, bool) {
	if index >= h.next || !h.written[index] {
		return dxr.UnorderedAccessView{}, false
	}
	return h.views[index], true
}
