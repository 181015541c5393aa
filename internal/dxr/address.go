package dxr

import (
	"fmt"
	"sort"

	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// addressBase is the first address handed out. Keeping it away from zero
// makes a zero address detectable as "unset".
const addressBase GPUVirtualAddress = 0x10000

type allocation struct {
	buffer hal.Buffer // nil once released
	base   GPUVirtualAddress
	size   uint64
}

// addressSpace mints GPU virtual addresses for committed buffers.
// Addresses grow monotonically and are never reused, so allocations stay
// sorted by base.
type addressSpace struct {
	next     GPUVirtualAddress
	allocs   []allocation
	byBuffer map[hal.Buffer]int
}

func newAddressSpace() addressSpace {
	return addressSpace{
		next:     addressBase,
		byBuffer: make(map[hal.Buffer]int),
	}
}

func (s *addressSpace) reserve(buf hal.Buffer, size uint64) GPUVirtualAddress {
	base := s.next
	s.next += GPUVirtualAddress(Align(size, AccelerationStructureByteAlignment))
	s.allocs = append(s.allocs, allocation{buffer: buf, base: base, size: size})
	s.byBuffer[buf] = len(s.allocs) - 1
	return base
}

func (s *addressSpace) release(buf hal.Buffer) {
	i, ok := s.byBuffer[buf]
	if !ok {
		return
	}
	s.allocs[i].buffer = nil
	delete(s.byBuffer, buf)
}

func (s *addressSpace) lookup(buf hal.Buffer) (GPUVirtualAddress, bool) {
	i, ok := s.byBuffer[buf]
	if !ok {
		return 0, false
	}
	return s.allocs[i].base, true
}

func (s *addressSpace) resolve(va GPUVirtualAddress) (hal.Buffer, uint64, error) {
	i := sort.Search(len(s.allocs), func(i int) bool {
		return s.allocs[i].base > va
	}) - 1
	if i < 0 {
		return nil, 0, fmt.Errorf("%w: 0x%x", ErrInvalidAddress, uint64(va))
	}
	a := s.allocs[i]
	offset := uint64(va - a.base)
	if a.buffer == nil || offset >= a.size {
		return nil, 0, fmt.Errorf("%w: 0x%x", ErrInvalidAddress, uint64(va))
	}
	return a.buffer, offset, nil
}

// RegisterBuffer assigns a GPU virtual address to a committed buffer of the
// given size. Each buffer is registered once by the allocator.
func (d *Device) RegisterBuffer(buf hal.Buffer, size uint64) GPUVirtualAddress {
	va := d.space.reserve(buf, size)
	logging.Logger().Debug("dxr: buffer registered", "va", fmt.Sprintf("0x%x", uint64(va)), "size", size)
	return va
}

// UnregisterBuffer retires the address range of buf. Later lookups of any
// address inside it fail with ErrInvalidAddress.
func (d *Device) UnregisterBuffer(buf hal.Buffer) {
	d.space.release(buf)
	if va, ok := d.built.lookupBuffer(buf); ok {
		delete(d.built, va)
	}
}

// AddressOf returns the GPU virtual address of a registered buffer.
func (d *Device) AddressOf(buf hal.Buffer) (GPUVirtualAddress, bool) {
	return d.space.lookup(buf)
}

// Resolve maps a GPU virtual address back to its buffer and byte offset.
func (d *Device) Resolve(va GPUVirtualAddress) (hal.Buffer, uint64, error) {
	return d.space.resolve(va)
}
