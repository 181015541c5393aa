package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/raytrace/internal/dxr"
)

func TestNewSyncValidation(t *testing.T) {
	dev := newDevice(t, 0)
	if _, err := NewSync(dev, 0, 0, 0); err == nil {
		t.Error("zero buffers should fail")
	}
	if _, err := NewSync(dev, 2, 2, 0); err == nil {
		t.Error("cursor past the buffer count should fail")
	}
	s, err := NewSync(dev, 2, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Current() != 1 || s.Value(1) != 1 || s.Value(0) != 0 {
		t.Errorf("initial state: current %d, values %d/%d", s.Current(), s.Value(0), s.Value(1))
	}
}

func TestWaitForGPU(t *testing.T) {
	dev := newDevice(t, 0)
	s, err := NewSync(dev, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	submit(t, dev)
	if err := s.WaitForGPU(context.Background()); err != nil {
		t.Fatalf("WaitForGPU: %v", err)
	}
	if got := s.Fence().CompletedValue(); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if s.Value(0) != 2 {
		t.Errorf("value after WaitForGPU = %d, want 2", s.Value(0))
	}
}

// TestFenceOrdering checks that a frame is only reused once the GPU has
// finished its previous submission, with completion lagging one frame.
func TestFenceOrdering(t *testing.T) {
	dev := newDevice(t, 1)
	const buffers = 2
	s, err := NewSync(dev, buffers, 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var signaled []uint64
	for frame := 0; frame < 8; frame++ {
		cur := s.Current()
		if !s.Ready(cur) {
			t.Fatalf("frame %d: buffer %d reused before its fence completed", frame, cur)
		}
		submit(t, dev)
		signaled = append(signaled, s.Value(cur))
		next := (cur + 1) % buffers
		if err := s.MoveToNextFrame(context.Background(), next); err != nil {
			t.Fatalf("frame %d: MoveToNextFrame: %v", frame, err)
		}
		if s.Current() != next {
			t.Fatalf("cursor = %d, want %d", s.Current(), next)
		}
	}
	for i := 1; i < len(signaled); i++ {
		if signaled[i] <= signaled[i-1] {
			t.Errorf("signal %d = %d not above %d", i, signaled[i], signaled[i-1])
		}
	}
}

func TestMoveToNextFrameTimeout(t *testing.T) {
	dev := newDevice(t, 3)
	s, err := NewSync(dev, 2, 0, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	var werr error
	for frame := 0; frame < 4 && werr == nil; frame++ {
		submit(t, dev)
		werr = s.MoveToNextFrame(context.Background(), (s.Current()+1)%2)
	}
	if !errors.Is(werr, dxr.ErrWaitTimeout) {
		t.Errorf("error = %v, want ErrWaitTimeout", werr)
	}
}

func TestSyncRecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	dev, queue := newStallDevice(t)
	s, err := NewSync(dev, 2, 0, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	step := func() error {
		submit(t, dev)
		return s.MoveToNextFrame(ctx, (s.Current()+1)%2)
	}
	for frame := 0; frame < 2; frame++ {
		if err := step(); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
	}

	queue.stalled.Store(true)
	var werr error
	for frame := 0; frame < 4 && werr == nil; frame++ {
		werr = step()
	}
	if !errors.Is(werr, dxr.ErrWaitTimeout) {
		t.Fatalf("stalled frame: error = %v, want ErrWaitTimeout", werr)
	}
	if err := s.WaitFrame(ctx, s.Current()); !errors.Is(err, dxr.ErrWaitTimeout) {
		t.Errorf("WaitFrame while stalled = %v, want ErrWaitTimeout", err)
	}

	queue.stalled.Store(false)
	if err := s.WaitFrame(ctx, s.Current()); err != nil {
		t.Fatalf("WaitFrame after stall: %v", err)
	}
	for frame := 0; frame < 4; frame++ {
		if err := step(); err != nil {
			t.Fatalf("frame %d after timeout: %v", frame, err)
		}
	}

	queue.stalled.Store(true)
	submit(t, dev)
	if err := s.WaitForGPU(ctx); !errors.Is(err, dxr.ErrWaitTimeout) {
		t.Fatalf("WaitForGPU while stalled = %v, want ErrWaitTimeout", err)
	}
	queue.stalled.Store(false)
	if err := s.WaitForGPU(ctx); err != nil {
		t.Fatalf("WaitForGPU after stall: %v", err)
	}
}
