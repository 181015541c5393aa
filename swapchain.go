package raytrace

import (
	"fmt"

	"github.com/gogpu/raytrace/internal/frame"
)

// OffscreenSwapchain is a headless swapchain: a ring of back buffer
// indices that advances on every Present.
type OffscreenSwapchain struct {
	count    int
	index    int
	presents uint64
}

var _ frame.Swapchain = (*OffscreenSwapchain)(nil)

// NewOffscreenSwapchain creates a ring of count back buffers.
func NewOffscreenSwapchain(count int) (*OffscreenSwapchain, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: swapchain needs at least one buffer, got %d", ErrInvalidConfig, count)
	}
	return &OffscreenSwapchain{count: count}, nil
}

// BufferCount returns the number of back buffers.
func (s *OffscreenSwapchain) BufferCount() int { return s.count }

// CurrentBackBufferIndex returns the buffer the next frame renders to.
func (s *OffscreenSwapchain) CurrentBackBufferIndex() int { return s.index }

// Present advances to the next back buffer.
func (s *OffscreenSwapchain) Present() error {
	s.index = (s.index + 1) % s.count
	s.presents++
	return nil
}

// Presents returns the number of Present calls.
func (s *OffscreenSwapchain) Presents() uint64 { return s.presents }
