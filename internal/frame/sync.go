// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package frame runs the per-frame dispatch and bounds the number of
// frames in flight with a fence.
package frame

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/raytrace/internal/dxr"
)

// Sync owns one fence value per back buffer and the current frame cursor.
//
// Sync is not safe for concurrent use.
type Sync struct {
	dev     *dxr.Device
	fence   *dxr.Fence
	values  []uint64
	current int
	timeout time.Duration

	// signaled holds the fence value signaled at the end of each frame's
	// last use.
	signaled []uint64
}

// NewSync creates the fence for bufferCount frames starting at frame
// current. A positive timeout bounds every wait.
func NewSync(dev *dxr.Device, bufferCount, current int, timeout time.Duration) (*Sync, error) {
	if bufferCount < 1 {
		return nil, fmt.Errorf("frame: buffer count %d", bufferCount)
	}
	if current < 0 || current >= bufferCount {
		return nil, fmt.Errorf("frame: current frame %d out of %d", current, bufferCount)
	}
	s := &Sync{
		dev:      dev,
		fence:    dev.CreateFence(0),
		values:   make([]uint64, bufferCount),
		signaled: make([]uint64, bufferCount),
		current:  current,
		timeout:  timeout,
	}
	s.values[current] = 1
	return s, nil
}

// Current returns the frame cursor.
func (s *Sync) Current() int { return s.current }

// BufferCount returns the number of frames tracked.
func (s *Sync) BufferCount() int { return len(s.values) }

// Value returns the fence value the frame will signal next.
func (s *Sync) Value(frame int) uint64 { return s.values[frame] }

// Fence returns the underlying fence.
func (s *Sync) Fence() *dxr.Fence { return s.fence }

// Ready reports whether the GPU has finished the last submission that used
// frame, so its command list may be reset.
func (s *Sync) Ready(frame int) bool {
	return s.fence.CompletedValue() >= s.signaled[frame]
}

func (s *Sync) wait(ctx context.Context, value uint64) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.fence.Wait(ctx, value)
}

// WaitForGPU blocks until all submitted work has completed.
func (s *Sync) WaitForGPU(ctx context.Context) error {
	v := s.values[s.current]
	if err := s.dev.Signal(s.fence, v); err != nil {
		return fmt.Errorf("frame: signal: %w", err)
	}
	s.signaled[s.current] = v
	s.values[s.current]++
	if err := s.wait(ctx, v); err != nil {
		return fmt.Errorf("frame: wait for GPU: %w", err)
	}
	return nil
}

// WaitFrame blocks until the GPU has finished the last submission that
// used frame. After a timed-out wait the frame can be waited on again.
func (s *Sync) WaitFrame(ctx context.Context, frame int) error {
	if s.Ready(frame) {
		return nil
	}
	if err := s.wait(ctx, s.signaled[frame]); err != nil {
		return fmt.Errorf("frame: wait for frame %d: %w", frame, err)
	}
	return nil
}

// MoveToNextFrame signals the end of the current frame, makes next current
// and waits until the GPU has finished next's previous frame.
//
// The fence values are advanced before the wait, so an ErrWaitTimeout
// leaves the ring consistent: the next Render or WaitFrame waits for the
// same frame again.
func (s *Sync) MoveToNextFrame(ctx context.Context, next int) error {
	if next < 0 || next >= len(s.values) {
		return fmt.Errorf("frame: next frame %d out of %d", next, len(s.values))
	}
	v := s.values[s.current]
	if err := s.dev.Signal(s.fence, v); err != nil {
		return fmt.Errorf("frame: signal: %w", err)
	}
	s.signaled[s.current] = v
	s.current = next
	s.values[next] = v + 1
	return s.WaitFrame(ctx, next)
}
