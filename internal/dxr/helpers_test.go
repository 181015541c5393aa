package dxr

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"golang.org/x/image/math/f32"
)

// createNoopDevice creates a noop device and queue for testing.
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

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	device, queue := createNoopDevice(t)
	d, err := New(device, queue, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// fakeNative is a hal device that claims native raytracing support and
// records what it was asked to do.
type fakeNative struct {
	hal.Device
	supported  bool
	builds     []BuildDesc
	dispatches int
}

func (f *fakeNative) RaytracingSupported() bool { return f.supported }

func (f *fakeNative) AccelerationStructurePrebuildInfo(in *BuildInputs) (PrebuildInfo, error) {
	return PrebuildInfo{ResultDataMaxSizeInBytes: 4096, ScratchDataSizeInBytes: 1024}, nil
}

func (f *fakeNative) BuildAccelerationStructure(_ hal.CommandEncoder, desc *BuildDesc) error {
	f.builds = append(f.builds, *desc)
	return nil
}

func (f *fakeNative) DispatchRays(hal.CommandEncoder, *StateObject, *DispatchRaysDesc) error {
	f.dispatches++
	return nil
}

func newNativeDevice(t *testing.T) (*Device, *fakeNative) {
	t.Helper()
	device, queue := createNoopDevice(t)
	fake := &fakeNative{Device: device, supported: true}
	d, err := New(fake, queue)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, fake
}

// testTable is a map-backed DescriptorTable.
type testTable map[uint32]UnorderedAccessView

func (tt testTable) Lookup(i uint32) (UnorderedAccessView, bool) {
	v, ok := tt[i]
	return v, ok
}

func (tt testTable) Capacity() uint32 { return 16 }

func newBuffer(t *testing.T, d *Device, size uint64) (hal.Buffer, GPUVirtualAddress) {
	t.Helper()
	buf, err := d.HAL().CreateBuffer(&hal.BufferDescriptor{
		Label: "test",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	return buf, d.RegisterBuffer(buf, size)
}

func writeBuffer(t *testing.T, d *Device, buf hal.Buffer, data []byte) {
	t.Helper()
	if err := d.Queue().WriteBuffer(buf, 0, data); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
}

func vertexBytes(verts ...f32.Vec3) []byte {
	out := make([]byte, 0, len(verts)*12)
	for _, v := range verts {
		for _, c := range v {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(c))
		}
	}
	return out
}

func triangleInputs(va GPUVirtualAddress, vertexCount uint32) BuildInputs {
	return BuildInputs{
		Type:     BottomLevel,
		Flags:    BuildFlagPreferFastTrace,
		NumDescs: 1,
		Geometries: []GeometryDesc{{
			Type:  GeometryTypeTriangles,
			Flags: GeometryFlagOpaque,
			Triangles: TrianglesDesc{
				VertexBuffer: AddressAndStride{StartAddress: va, StrideInBytes: 12},
				VertexCount:  vertexCount,
				VertexFormat: FormatR32G32B32Float,
			},
		}},
	}
}
