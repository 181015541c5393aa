// Package alloc creates committed GPU buffers for the raytracing device:
// it validates heap, flag and state combinations, assigns each buffer a
// GPU virtual address and tracks the allocation budget.
package alloc

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// Allocator errors.
var (
	// ErrInvalidBufferDesc is returned when a buffer description combines
	// heap, flags and initial state in a way the platform rejects.
	ErrInvalidBufferDesc = errors.New("alloc: invalid buffer description")

	// ErrBudgetExceeded is returned when an allocation would exceed the
	// configured budget. It is always wrapped together with
	// dxr.ErrAllocation.
	ErrBudgetExceeded = errors.New("alloc: memory budget exceeded")
)

// BufferDesc describes a committed buffer.
type BufferDesc struct {
	// Label is an optional debug name.
	Label string

	// Size in bytes. Must be positive.
	Size uint64

	// Flags such as dxr.FlagAllowUnorderedAccess.
	Flags dxr.ResourceFlags

	// State is the initial resource state.
	State dxr.ResourceState

	// Heap selects device-local or upload memory.
	Heap dxr.HeapType
}

// Validate checks the heap, flag and state combination.
func (d *BufferDesc) Validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: %q has zero size", ErrInvalidBufferDesc, d.Label)
	}
	uav := d.Flags.Contains(dxr.FlagAllowUnorderedAccess)
	if uav && d.Heap != dxr.HeapDefault {
		return fmt.Errorf("%w: %q: unordered access requires the default heap", ErrInvalidBufferDesc, d.Label)
	}
	if d.Heap == dxr.HeapUpload && d.State != dxr.StateGenericRead {
		return fmt.Errorf("%w: %q: upload buffers must start in %s, not %s",
			ErrInvalidBufferDesc, d.Label, dxr.StateGenericRead, d.State)
	}
	switch d.State {
	case dxr.StateCommon:
	case dxr.StateUnorderedAccess:
		if !uav {
			return fmt.Errorf("%w: %q: %s requires the unordered access flag", ErrInvalidBufferDesc, d.Label, d.State)
		}
	case dxr.StateRaytracingAccelerationStructure:
		if !uav || d.Heap != dxr.HeapDefault {
			return fmt.Errorf("%w: %q: %s requires unordered access on the default heap",
				ErrInvalidBufferDesc, d.Label, d.State)
		}
	default:
		if uav {
			return fmt.Errorf("%w: %q: unordered access buffers cannot start in %s",
				ErrInvalidBufferDesc, d.Label, d.State)
		}
	}
	return nil
}

// usage maps the heap to hal buffer usage. Upload buffers are also bound
// as read-only storage by the compute fallback.
func (d *BufferDesc) usage() gputypes.BufferUsage {
	if d.Heap == dxr.HeapUpload {
		return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc | gputypes.BufferUsageStorage
	}
	return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
}

// Stats contains allocation statistics.
type Stats struct {
	// Buffers is the number of live buffers.
	Buffers int

	// UsedBytes is the size of all live buffers.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes seen.
	PeakBytes uint64

	// BudgetBytes is the configured budget, zero when unlimited.
	BudgetBytes uint64
}

// String returns a human-readable string of the stats.
func (s Stats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Alloc[%d buffers, %d KB used, %d KB peak]",
			s.Buffers, s.UsedBytes/1024, s.PeakBytes/1024)
	}
	return fmt.Sprintf("Alloc[%d buffers, %d/%d KB used, %d KB peak]",
		s.Buffers, s.UsedBytes/1024, s.BudgetBytes/1024, s.PeakBytes/1024)
}

// Config holds configuration for creating an Allocator.
type Config struct {
	// BudgetBytes caps the total size of live buffers. Zero means no cap.
	BudgetBytes uint64
}

// Allocator creates committed buffers on a raytracing device.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	dev   *dxr.Device
	cfg   Config
	stats Stats
}

// New creates an allocator for dev.
func New(dev *dxr.Device, cfg Config) *Allocator {
	return &Allocator{dev: dev, cfg: cfg, stats: Stats{BudgetBytes: cfg.BudgetBytes}}
}

// Device returns the device buffers are created on.
func (a *Allocator) Device() *dxr.Device { return a.dev }

// Stats returns a snapshot of the allocation statistics.
func (a *Allocator) Stats() Stats { return a.stats }

// CreateBuffer validates desc and commits a buffer. Creation failures
// wrap dxr.ErrAllocation; description errors wrap ErrInvalidBufferDesc.
func (a *Allocator) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if a.cfg.BudgetBytes > 0 && a.stats.UsedBytes+desc.Size > a.cfg.BudgetBytes {
		return nil, fmt.Errorf("%w: %w: %q needs %d bytes, %d of %d in use",
			dxr.ErrAllocation, ErrBudgetExceeded, desc.Label, desc.Size, a.stats.UsedBytes, a.cfg.BudgetBytes)
	}

	hb, err := a.dev.HAL().CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.usage(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create %q (%d bytes): %w", dxr.ErrAllocation, desc.Label, desc.Size, err)
	}

	b := &Buffer{
		alloc:     a,
		halBuffer: hb,
		desc:      desc,
		va:        a.dev.RegisterBuffer(hb, desc.Size),
	}
	a.stats.Buffers++
	a.stats.UsedBytes += desc.Size
	a.stats.PeakBytes = max(a.stats.PeakBytes, a.stats.UsedBytes)

	logging.Logger().Debug("alloc: buffer created",
		"label", desc.Label, "size", desc.Size, "heap", desc.Heap, "state", desc.State,
		"va", fmt.Sprintf("0x%x", uint64(b.va)))
	return b, nil
}

// CreateUploadBuffer commits an upload buffer and fills it with data.
func (a *Allocator) CreateUploadBuffer(label string, data []byte) (*Buffer, error) {
	b, err := a.CreateBuffer(BufferDesc{
		Label: label,
		Size:  uint64(len(data)),
		State: dxr.StateGenericRead,
		Heap:  dxr.HeapUpload,
	})
	if err != nil {
		return nil, err
	}
	if err := b.Write(0, data); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// CreateUAVBuffer commits a device-local buffer with unordered access in
// the given initial state.
func (a *Allocator) CreateUAVBuffer(label string, size uint64, state dxr.ResourceState) (*Buffer, error) {
	return a.CreateBuffer(BufferDesc{
		Label: label,
		Size:  size,
		Flags: dxr.FlagAllowUnorderedAccess,
		State: state,
		Heap:  dxr.HeapDefault,
	})
}

func (a *Allocator) release(b *Buffer) {
	a.dev.UnregisterBuffer(b.halBuffer)
	a.dev.HAL().DestroyBuffer(b.halBuffer)
	a.stats.Buffers--
	a.stats.UsedBytes -= b.desc.Size
	logging.Logger().Debug("alloc: buffer released", "label", b.desc.Label, "size", b.desc.Size)
}
