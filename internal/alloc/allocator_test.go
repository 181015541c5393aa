package alloc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func newNoopAllocator(t *testing.T, cfg Config) *Allocator {
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
	dev, err := dxr.New(openDev.Device, openDev.Queue)
	if err != nil {
		t.Fatalf("dxr.New: %v", err)
	}
	return New(dev, cfg)
}

func TestBufferDescValidate(t *testing.T) {
	tests := []struct {
		name string
		desc BufferDesc
		ok   bool
	}{
		{"upload", BufferDesc{Size: 64, State: dxr.StateGenericRead, Heap: dxr.HeapUpload}, true},
		{"scratch", BufferDesc{Size: 256, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateUnorderedAccess}, true},
		{"result", BufferDesc{Size: 256, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateRaytracingAccelerationStructure}, true},
		{"zero size", BufferDesc{State: dxr.StateGenericRead, Heap: dxr.HeapUpload}, false},
		{"uav on upload heap", BufferDesc{Size: 64, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateGenericRead, Heap: dxr.HeapUpload}, false},
		{"upload not generic read", BufferDesc{Size: 64, State: dxr.StateCommon, Heap: dxr.HeapUpload}, false},
		{"uav state without flag", BufferDesc{Size: 64, State: dxr.StateUnorderedAccess}, false},
		{"as state without flag", BufferDesc{Size: 64, State: dxr.StateRaytracingAccelerationStructure}, false},
		{"uav in common", BufferDesc{Size: 64, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateCommon}, true},
		{"uav in generic read", BufferDesc{Size: 64, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateGenericRead}, false},
		{"uav in copy dest", BufferDesc{Size: 64, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateCopyDest}, false},
		{"uav in shader resource", BufferDesc{Size: 64, Flags: dxr.FlagAllowUnorderedAccess, State: dxr.StateNonPixelShaderResource}, false},
		{"default in copy dest", BufferDesc{Size: 64, State: dxr.StateCopyDest}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidBufferDesc) {
				t.Errorf("Validate() = %v, want ErrInvalidBufferDesc", err)
			}
		})
	}
}

func TestCreateBuffer(t *testing.T) {
	a := newNoopAllocator(t, Config{})

	b, err := a.CreateUAVBuffer("result", 1000, dxr.StateRaytracingAccelerationStructure)
	if err != nil {
		t.Fatalf("CreateUAVBuffer: %v", err)
	}
	if b.GPUAddress() == 0 || uint64(b.GPUAddress())%dxr.AccelerationStructureByteAlignment != 0 {
		t.Errorf("GPUAddress() = 0x%x, want non-zero and 256-byte aligned", uint64(b.GPUAddress()))
	}
	if b.InitialState() != dxr.StateRaytracingAccelerationStructure {
		t.Errorf("InitialState() = %v", b.InitialState())
	}
	if got, ok := a.Device().AddressOf(b.Raw()); !ok || got != b.GPUAddress() {
		t.Errorf("device does not know the buffer address: 0x%x, %v", uint64(got), ok)
	}

	s := a.Stats()
	if s.Buffers != 1 || s.UsedBytes != 1000 {
		t.Errorf("Stats() = %+v", s)
	}

	va := b.GPUAddress()
	b.Release()
	b.Release()
	if b.Raw() != nil {
		t.Error("Raw() after Release should be nil")
	}
	if _, _, err := a.Device().Resolve(va); !errors.Is(err, dxr.ErrInvalidAddress) {
		t.Errorf("released address still resolves: %v", err)
	}
	if s := a.Stats(); s.Buffers != 0 || s.UsedBytes != 0 || s.PeakBytes != 1000 {
		t.Errorf("Stats() after release = %+v", s)
	}

	if _, err := a.CreateBuffer(BufferDesc{Label: "bad"}); !errors.Is(err, ErrInvalidBufferDesc) {
		t.Errorf("zero-size CreateBuffer error = %v", err)
	}
}

func TestBudget(t *testing.T) {
	a := newNoopAllocator(t, Config{BudgetBytes: 1024})
	if _, err := a.CreateUAVBuffer("a", 1000, dxr.StateUnorderedAccess); err != nil {
		t.Fatal(err)
	}
	_, err := a.CreateUAVBuffer("b", 100, dxr.StateUnorderedAccess)
	if !errors.Is(err, dxr.ErrAllocation) || !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("over-budget error = %v, want ErrAllocation and ErrBudgetExceeded", err)
	}
}

func TestScopedWrite(t *testing.T) {
	a := newNoopAllocator(t, Config{})
	b, err := a.CreateUploadBuffer("vertices", []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("CreateUploadBuffer: %v", err)
	}
	defer b.Release()

	if err := b.Write(4, []byte{9, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(0, 8)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := []byte{1, 2, 3, 4, 9, 9, 7, 8}; !bytes.Equal(got, want) {
		t.Errorf("Read = %v, want %v", got, want)
	}

	if err := b.Write(6, []byte{1, 2, 3}); !errors.Is(err, ErrShortWrite) {
		t.Errorf("overflowing Write error = %v, want ErrShortWrite", err)
	}
	if _, err := b.Read(4, 5); err == nil {
		t.Error("overflowing Read should fail")
	}
	if b.MapState() != BufferMapStateUnmapped {
		t.Errorf("MapState() = %v after scoped write", b.MapState())
	}
}

func TestMapAlwaysUnmaps(t *testing.T) {
	a := newNoopAllocator(t, Config{})
	b, err := a.CreateUploadBuffer("table", make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	boom := errors.New("boom")
	err = b.Map(func(data []byte) error {
		if b.MapState() != BufferMapStateMapped {
			t.Errorf("MapState() inside Map = %v", b.MapState())
		}
		if nested := b.Map(func([]byte) error { return nil }); !errors.Is(nested, ErrBufferAlreadyMapped) {
			t.Errorf("nested Map error = %v, want ErrBufferAlreadyMapped", nested)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Map error = %v, want the callback error", err)
	}
	if b.MapState() != BufferMapStateUnmapped {
		t.Error("buffer left mapped after a failing callback")
	}

	b.Release()
	if err := b.Map(func([]byte) error { return nil }); !errors.Is(err, ErrBufferReleased) {
		t.Errorf("Map after Release error = %v, want ErrBufferReleased", err)
	}
}

// failingDevice rejects every buffer creation.
type failingDevice struct {
	hal.Device
}

func (failingDevice) CreateBuffer(*hal.BufferDescriptor) (hal.Buffer, error) {
	return nil, errors.New("out of device memory")
}

func TestCreateBufferWrapsHALFailure(t *testing.T) {
	base := newNoopAllocator(t, Config{})
	dev, err := dxr.New(failingDevice{base.Device().HAL()}, base.Device().Queue())
	if err != nil {
		t.Fatal(err)
	}
	a := New(dev, Config{})
	if _, err := a.CreateUAVBuffer("scratch", 256, dxr.StateUnorderedAccess); !errors.Is(err, dxr.ErrAllocation) {
		t.Errorf("error = %v, want ErrAllocation", err)
	}
}
