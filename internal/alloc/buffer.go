package alloc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/wgpu/hal"
)

// Buffer errors.
var (
	// ErrBufferReleased is returned when operating on a released buffer.
	ErrBufferReleased = errors.New("alloc: buffer has been released")

	// ErrShortWrite is returned when a write would not fit the buffer.
	ErrShortWrite = errors.New("alloc: write does not fit buffer")

	// ErrBufferAlreadyMapped is returned when Map is re-entered from its
	// own callback.
	ErrBufferAlreadyMapped = errors.New("alloc: buffer is already mapped")
)

// BufferMapState represents the mapping state of a buffer.
type BufferMapState int

const (
	// BufferMapStateUnmapped means the buffer is not mapped.
	BufferMapStateUnmapped BufferMapState = iota
	// BufferMapStateMapped means a scoped mapping is active.
	BufferMapStateMapped
)

// String returns the string representation of BufferMapState.
func (s BufferMapState) String() string {
	switch s {
	case BufferMapStateUnmapped:
		return "Unmapped"
	case BufferMapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Buffer is a committed GPU buffer with a GPU virtual address.
//
// Lifecycle:
//  1. Create via Allocator.CreateBuffer
//  2. Fill upload buffers with Write or Map
//  3. Reference it from GPU work through GPUAddress
//  4. Call Release once no in-flight work uses it
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	alloc     *Allocator
	halBuffer hal.Buffer
	desc      BufferDesc
	va        dxr.GPUVirtualAddress
	mapState  BufferMapState
	released  bool
}

// Label returns the buffer's debug label.
func (b *Buffer) Label() string { return b.desc.Label }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Desc returns a copy of the creation descriptor.
func (b *Buffer) Desc() BufferDesc { return b.desc }

// InitialState returns the state the buffer was created in.
func (b *Buffer) InitialState() dxr.ResourceState { return b.desc.State }

// MapState returns the current mapping state.
func (b *Buffer) MapState() BufferMapState { return b.mapState }

// GPUAddress returns the GPU virtual address of the first byte.
func (b *Buffer) GPUAddress() dxr.GPUVirtualAddress { return b.va }

// Raw returns the underlying hal buffer, or nil once released.
func (b *Buffer) Raw() hal.Buffer {
	if b.released {
		return nil
	}
	return b.halBuffer
}

// Map maps the whole buffer, runs fn on the mapped bytes and unmaps,
// whatever fn returns. The slice must not be retained after fn returns.
func (b *Buffer) Map(fn func(data []byte) error) (err error) {
	if b.released {
		return ErrBufferReleased
	}
	if b.mapState == BufferMapStateMapped {
		return ErrBufferAlreadyMapped
	}
	dev := b.alloc.dev.HAL()
	mapping, err := dev.MapBuffer(b.halBuffer, 0, b.desc.Size)
	if err != nil {
		return fmt.Errorf("alloc: map %q: %w", b.desc.Label, err)
	}
	b.mapState = BufferMapStateMapped
	defer func() {
		b.mapState = BufferMapStateUnmapped
		if uerr := dev.UnmapBuffer(b.halBuffer); uerr != nil && err == nil {
			err = fmt.Errorf("alloc: unmap %q: %w", b.desc.Label, uerr)
		}
	}()
	return fn(unsafe.Slice((*byte)(mapping.Ptr), b.desc.Size))
}

// Write copies data into the buffer at offset through a scoped mapping.
// Partial writes are rejected with ErrShortWrite.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset > b.desc.Size || uint64(len(data)) > b.desc.Size-offset {
		return fmt.Errorf("%w: %d bytes at offset %d into %q of %d bytes",
			ErrShortWrite, len(data), offset, b.desc.Label, b.desc.Size)
	}
	return b.Map(func(mapped []byte) error {
		if n := copy(mapped[offset:], data); n != len(data) {
			return fmt.Errorf("%w: copied %d of %d bytes", ErrShortWrite, n, len(data))
		}
		return nil
	})
}

// Read copies n bytes starting at offset out of the buffer. Only
// host-visible buffers can be read on real backends.
func (b *Buffer) Read(offset, n uint64) ([]byte, error) {
	if offset > b.desc.Size || n > b.desc.Size-offset {
		return nil, fmt.Errorf("alloc: read %d bytes at offset %d from %q of %d bytes",
			n, offset, b.desc.Label, b.desc.Size)
	}
	out := make([]byte, n)
	err := b.Map(func(mapped []byte) error {
		copy(out, mapped[offset:offset+n])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release destroys the hal buffer and retires its address range. It is
// safe to call more than once.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.alloc.release(b)
}
