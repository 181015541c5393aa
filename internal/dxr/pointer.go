package dxr

import "fmt"

// WrappedGPUPointer references an acceleration structure. With a native
// driver only GPUAddress is meaningful and DescriptorIndex is zero. In
// fallback mode DescriptorIndex names a raw UAV that covers the structure.
type WrappedGPUPointer struct {
	DescriptorIndex uint32
	GPUAddress      GPUVirtualAddress
}

// String formats the pointer for logs.
func (p WrappedGPUPointer) String() string {
	return fmt.Sprintf("{index=%d va=0x%x}", p.DescriptorIndex, uint64(p.GPUAddress))
}

// BufferViewFlags modify buffer views.
type BufferViewFlags uint32

const (
	BufferViewFlagNone BufferViewFlags = 0
	// BufferViewFlagRaw marks a byte-address view. Requires FormatR32Typeless.
	BufferViewFlagRaw BufferViewFlags = 1 << 0
)

// UAVDesc describes a buffer unordered-access view.
type UAVDesc struct {
	Format       Format
	FirstElement uint64
	NumElements  uint32
	Flags        BufferViewFlags
}

// UnorderedAccessView is a UAV written into a descriptor slot.
type UnorderedAccessView struct {
	// Address is the GPU virtual address of the viewed buffer's first byte.
	Address GPUVirtualAddress
	Desc    UAVDesc
}

// ByteRange returns the first address and byte length covered by the view.
func (v UnorderedAccessView) ByteRange() (GPUVirtualAddress, uint64) {
	width := uint64(v.Desc.Format.Size())
	return v.Address + GPUVirtualAddress(v.Desc.FirstElement*width), uint64(v.Desc.NumElements) * width
}

// Covers reports whether the view spans [va, va+size).
func (v UnorderedAccessView) Covers(va GPUVirtualAddress, size uint64) bool {
	start, n := v.ByteRange()
	return va >= start && uint64(va-start)+size <= n
}

// DescriptorTable resolves descriptor slots to views. A descriptor heap
// bound with CommandList.SetDescriptorHeap implements it.
type DescriptorTable interface {
	Lookup(index uint32) (UnorderedAccessView, bool)
	Capacity() uint32
}

// ValidateRawUAV checks that desc is a raw R32_TYPELESS view.
func ValidateRawUAV(desc UAVDesc) error {
	if desc.Flags&BufferViewFlagRaw == 0 {
		return nil
	}
	if desc.Format != FormatR32Typeless {
		return fmt.Errorf("dxr: raw view requires %s, got %s", FormatR32Typeless, desc.Format)
	}
	if desc.NumElements == 0 {
		return fmt.Errorf("dxr: raw view with zero elements")
	}
	return nil
}
