// Package accel builds the bottom- and top-level acceleration structures of
// a static scene.
package accel

import (
	"fmt"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
)

// CreateWrappedPointer returns the reference an instance descriptor uses to
// name the structure in buf. With a native driver the pointer is the
// buffer address alone. Otherwise a heap slot is allocated and a raw UAV of
// numElements 32-bit elements over buf is written to it.
func CreateWrappedPointer(dev *dxr.Device, heap *descriptor.Heap, buf *alloc.Buffer, numElements uint32) (dxr.WrappedGPUPointer, error) {
	if dev.UsingRaytracingDriver() {
		return dev.WrappedPointerSimple(0, buf.GPUAddress()), nil
	}

	if heap == nil {
		return dxr.WrappedGPUPointer{}, fmt.Errorf("accel: wrapped pointer for %q: fallback needs a descriptor heap", buf.Label())
	}
	slot, err := heap.Allocate()
	if err != nil {
		return dxr.WrappedGPUPointer{}, fmt.Errorf("accel: wrapped pointer for %q: %w", buf.Label(), err)
	}
	uav := dxr.UAVDesc{
		Format:      dxr.FormatR32Typeless,
		NumElements: numElements,
		Flags:       dxr.BufferViewFlagRaw,
	}
	if err := heap.CreateUnorderedAccessView(buf, uav, slot); err != nil {
		return dxr.WrappedGPUPointer{}, fmt.Errorf("accel: wrapped pointer for %q: %w", buf.Label(), err)
	}
	p := dev.WrappedPointerSimple(slot.Index, buf.GPUAddress())
	logging.Logger().Debug("accel: wrapped pointer", "buffer", buf.Label(), "pointer", p)
	return p, nil
}
