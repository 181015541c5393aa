package frame

import (
	"fmt"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
)

// TileSize is the edge of the dispatch tile. Output rows and columns are
// padded to it.
const TileSize = 8

// Output is the UAV the ray generation shader writes, one packed RGBA8
// texel per 32-bit element.
type Output struct {
	Buffer *alloc.Buffer
	Slot   descriptor.Slot
	Width  uint32
	Height uint32
}

// NewOutput allocates the render target and writes its raw UAV into the
// next heap slot.
func NewOutput(a *alloc.Allocator, heap *descriptor.Heap, width, height uint32) (*Output, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("frame: output extent %dx%d", width, height)
	}
	pw, ph := dxr.Align(uint64(width), TileSize), dxr.Align(uint64(height), TileSize)
	buf, err := a.CreateUAVBuffer("render target", pw*ph*4, dxr.StateUnorderedAccess)
	if err != nil {
		return nil, fmt.Errorf("frame: output: %w", err)
	}
	slot, err := heap.Allocate()
	if err != nil {
		buf.Release()
		return nil, fmt.Errorf("frame: output: %w", err)
	}
	uav := dxr.UAVDesc{Format: dxr.FormatR32Typeless, NumElements: uint32(pw * ph), Flags: dxr.BufferViewFlagRaw}
	if err := heap.CreateUnorderedAccessView(buf, uav, slot); err != nil {
		buf.Release()
		return nil, fmt.Errorf("frame: output: %w", err)
	}
	return &Output{Buffer: buf, Slot: slot, Width: width, Height: height}, nil
}

// RowPitch returns the byte distance between rows.
func (o *Output) RowPitch() uint64 {
	return dxr.Align(uint64(o.Width), TileSize) * 4
}

// Release frees the render target. The heap slot is not reused.
func (o *Output) Release() {
	if o.Buffer != nil {
		o.Buffer.Release()
		o.Buffer = nil
	}
}
