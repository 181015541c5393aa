package frame

import (
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// laggingQueue reports completion lag submissions behind the real queue.
type laggingQueue struct {
	hal.Queue
	lag uint64
}

func (q laggingQueue) PollCompleted() uint64 {
	done := q.Queue.PollCompleted()
	if done < q.lag {
		return 0
	}
	return done - q.lag
}

func newDevice(t *testing.T, lag uint64) *dxr.Device {
	t.Helper()
	device, queue := createNoopDevice(t)
	if lag > 0 {
		queue = laggingQueue{Queue: queue, lag: lag}
	}
	dev, err := dxr.New(device, queue)
	if err != nil {
		t.Fatalf("dxr.New: %v", err)
	}
	return dev
}

// stallQueue reports no completed submissions while stalled.
type stallQueue struct {
	hal.Queue
	stalled atomic.Bool
}

func (q *stallQueue) PollCompleted() uint64 {
	if q.stalled.Load() {
		return 0
	}
	return q.Queue.PollCompleted()
}

func newStallDevice(t *testing.T) (*dxr.Device, *stallQueue) {
	t.Helper()
	device, queue := createNoopDevice(t)
	q := &stallQueue{Queue: queue}
	dev, err := dxr.New(device, q)
	if err != nil {
		t.Fatalf("dxr.New: %v", err)
	}
	return dev, q
}

// ringSwapchain rotates through its buffers on every Present.
type ringSwapchain struct {
	count, index, presents int
}

func (s *ringSwapchain) BufferCount() int            { return s.count }
func (s *ringSwapchain) CurrentBackBufferIndex() int { return s.index }

func (s *ringSwapchain) Present() error {
	s.presents++
	s.index = (s.index + 1) % s.count
	return nil
}

// submit executes an empty command list so fence signals have work to
// follow.
func submit(t *testing.T, dev *dxr.Device) {
	t.Helper()
	cl, err := dev.CreateCommandList("work")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cl.Release)
	if err := dev.ExecuteCommandList(cl); err != nil {
		t.Fatal(err)
	}
}
