package dxr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// fencePollInterval is the sleep between completion polls in Wait.
const fencePollInterval = 200 * time.Microsecond

type fencePoint struct {
	value      uint64
	submission uint64
}

// Fence is a monotonically increasing value signaled by the queue after
// the work submitted before the signal completes.
type Fence struct {
	dev       *Device
	points    []fencePoint
	completed uint64
}

// CreateFence creates a fence whose completed value starts at initial.
func (d *Device) CreateFence(initial uint64) *Fence {
	return &Fence{dev: d, completed: initial}
}

// Signal schedules f to reach value once every command list executed so
// far has finished. Values must increase.
func (d *Device) Signal(f *Fence, value uint64) error {
	if f.dev != d {
		return errors.New("dxr: fence belongs to another device")
	}
	last := f.completed
	if n := len(f.points); n > 0 {
		last = f.points[n-1].value
	}
	if value <= last {
		return fmt.Errorf("dxr: fence signal %d not above %d", value, last)
	}
	f.points = append(f.points, fencePoint{value: value, submission: d.lastSubmission})
	return nil
}

// CompletedValue returns the highest value the GPU has reached.
func (f *Fence) CompletedValue() uint64 {
	done := f.dev.queue.PollCompleted()
	i := 0
	for ; i < len(f.points) && f.points[i].submission <= done; i++ {
		f.completed = f.points[i].value
	}
	f.points = f.points[i:]
	return f.completed
}

// Wait blocks until the fence reaches value. A context deadline surfaces
// as ErrWaitTimeout.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	if f.CompletedValue() >= value {
		return nil
	}
	if n := len(f.points); n == 0 || f.points[n-1].value < value {
		return fmt.Errorf("dxr: wait for fence value %d that is never signaled", value)
	}
	ticker := time.NewTicker(fencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: value %d, completed %d", ErrWaitTimeout, value, f.completed)
			}
			return ctx.Err()
		case <-ticker.C:
			if f.CompletedValue() >= value {
				return nil
			}
		}
	}
}
