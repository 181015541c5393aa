package accel

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/alloc"
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

// nativeDevice pretends to be a driver with hardware raytracing.
type nativeDevice struct {
	hal.Device
	builds []dxr.BuildDesc
}

func (*nativeDevice) RaytracingSupported() bool { return true }

func (*nativeDevice) AccelerationStructurePrebuildInfo(in *dxr.BuildInputs) (dxr.PrebuildInfo, error) {
	if in.Type == dxr.TopLevel {
		return dxr.PrebuildInfo{ResultDataMaxSizeInBytes: 512, ScratchDataSizeInBytes: 256}, nil
	}
	return dxr.PrebuildInfo{ResultDataMaxSizeInBytes: 4096, ScratchDataSizeInBytes: 1024}, nil
}

func (n *nativeDevice) BuildAccelerationStructure(_ hal.CommandEncoder, desc *dxr.BuildDesc) error {
	n.builds = append(n.builds, *desc)
	return nil
}

func (*nativeDevice) DispatchRays(hal.CommandEncoder, *dxr.StateObject, *dxr.DispatchRaysDesc) error {
	return nil
}

func newAllocator(t *testing.T, native bool) (*alloc.Allocator, *nativeDevice) {
	t.Helper()
	device, queue := createNoopDevice(t)
	var fake *nativeDevice
	if native {
		fake = &nativeDevice{Device: device}
		device = fake
	}
	dev, err := dxr.New(device, queue)
	if err != nil {
		t.Fatalf("dxr.New: %v", err)
	}
	return alloc.New(dev, alloc.Config{}), fake
}

func newCommandList(t *testing.T, dev *dxr.Device) *dxr.CommandList {
	t.Helper()
	cl, err := dev.CreateCommandList("init")
	if err != nil {
		t.Fatalf("CreateCommandList: %v", err)
	}
	t.Cleanup(cl.Release)
	return cl
}
