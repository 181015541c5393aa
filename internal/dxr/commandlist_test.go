package dxr

import (
	"errors"
	"testing"

	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/math/f32"
)

type testScene struct {
	table   testTable
	blas    hal.Buffer
	blasVA  GPUVirtualAddress
	tlasVA  GPUVirtualAddress
	outVA   GPUVirtualAddress
	outSize uint64
}

// recordScene records the BLAS and TLAS builds of a single triangle. The
// BLAS view lives in descriptor 1; descriptor 0 is the output UAV.
func recordScene(t *testing.T, d *Device, cl *CommandList, blasBarrier bool) *testScene {
	t.Helper()
	s := &testScene{table: testTable{}}

	vb, vbVA := newBuffer(t, d, 36)
	writeBuffer(t, d, vb, vertexBytes(f32.Vec3{0, -0.7, 1}, f32.Vec3{-0.7, 0.7, 1}, f32.Vec3{0.7, 0.7, 1}))

	blasInputs := triangleInputs(vbVA, 3)
	info, err := d.AccelerationStructurePrebuildInfo(&blasInputs)
	if err != nil {
		t.Fatalf("BLAS prebuild: %v", err)
	}
	s.blas, s.blasVA = newBuffer(t, d, info.ResultDataMaxSizeInBytes)
	_, scratchVA := newBuffer(t, d, info.ScratchDataSizeInBytes)
	if err := cl.BuildRaytracingAccelerationStructure(&BuildDesc{
		Inputs: blasInputs, DestAddress: s.blasVA, ScratchAddress: scratchVA,
	}); err != nil {
		t.Fatalf("record BLAS build: %v", err)
	}
	if blasBarrier {
		if err := cl.ResourceBarrierUAV(s.blas); err != nil {
			t.Fatalf("barrier: %v", err)
		}
	}

	s.table[1] = UnorderedAccessView{
		Address: s.blasVA,
		Desc: UAVDesc{
			Format:      FormatR32Typeless,
			NumElements: uint32(info.ResultDataMaxSizeInBytes / 4),
			Flags:       BufferViewFlagRaw,
		},
	}
	inst := InstanceDesc{
		Transform:             IdentityTransform,
		InstanceMask:          1,
		AccelerationStructure: d.WrappedPointerSimple(1, s.blasVA),
	}
	ib, ibVA := newBuffer(t, d, InstanceDescSize)
	raw := make([]byte, InstanceDescSize)
	if err := inst.Encode(raw, d.Mode()); err != nil {
		t.Fatal(err)
	}
	writeBuffer(t, d, ib, raw)

	tlasInputs := BuildInputs{Type: TopLevel, Flags: BuildFlagPreferFastTrace, NumDescs: 1, InstanceDescs: ibVA}
	tinfo, err := d.AccelerationStructurePrebuildInfo(&tlasInputs)
	if err != nil {
		t.Fatalf("TLAS prebuild: %v", err)
	}
	tlas, tlasVA := newBuffer(t, d, tinfo.ResultDataMaxSizeInBytes)
	_, tscratchVA := newBuffer(t, d, tinfo.ScratchDataSizeInBytes)
	s.tlasVA = tlasVA
	cl.SetDescriptorHeap(s.table)
	if err := cl.BuildRaytracingAccelerationStructure(&BuildDesc{
		Inputs: tlasInputs, DestAddress: tlasVA, ScratchAddress: tscratchVA,
	}); err != nil {
		t.Fatalf("record TLAS build: %v", err)
	}
	if err := cl.ResourceBarrierUAV(tlas); err != nil {
		t.Fatalf("barrier: %v", err)
	}

	s.outSize = 16 * 16 * 4
	_, s.outVA = newBuffer(t, d, s.outSize)
	s.table[0] = UnorderedAccessView{
		Address: s.outVA,
		Desc:    UAVDesc{Format: FormatR32Typeless, NumElements: uint32(s.outSize / 4), Flags: BufferViewFlagRaw},
	}
	return s
}

func TestFallbackSceneBuild(t *testing.T) {
	d := newTestDevice(t)
	cl, err := d.CreateCommandList("scene")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	s := recordScene(t, d, cl, true)
	if err := d.ExecuteCommandList(cl); err != nil {
		t.Fatalf("ExecuteCommandList: %v", err)
	}

	blas, ok := d.BuiltStructure(s.blasVA)
	if !ok || blas.Type != BottomLevel || blas.Primitives != 1 || blas.Nodes != 1 {
		t.Errorf("BLAS = %+v, %v", blas, ok)
	}
	if blas.Bounds[0] != (f32.Vec3{-0.7, -0.7, 1}) || blas.Bounds[1] != (f32.Vec3{0.7, 0.7, 1}) {
		t.Errorf("BLAS bounds = %v", blas.Bounds)
	}
	tlas, ok := d.BuiltStructure(s.tlasVA)
	if !ok || tlas.Type != TopLevel || tlas.Primitives != 1 {
		t.Errorf("TLAS = %+v, %v", tlas, ok)
	}
	if tlas.Bounds != blas.Bounds {
		t.Errorf("identity instance should keep BLAS bounds: %v vs %v", tlas.Bounds, blas.Bounds)
	}
}

func TestFallbackMissingBarrier(t *testing.T) {
	d := newTestDevice(t)
	cl, err := d.CreateCommandList("scene")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	recordScene(t, d, cl, false)
	if err := d.ExecuteCommandList(cl); !errors.Is(err, ErrMissingBarrier) {
		t.Errorf("ExecuteCommandList error = %v, want ErrMissingBarrier", err)
	}
}

func TestFallbackWrongDescriptor(t *testing.T) {
	d := newTestDevice(t)
	cl, err := d.CreateCommandList("scene")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	s := recordScene(t, d, cl, true)
	// Shrink the view so it no longer covers the whole BLAS.
	v := s.table[1]
	v.Desc.NumElements = 4
	s.table[1] = v
	if err := d.ExecuteCommandList(cl); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ExecuteCommandList error = %v, want ErrInvalidAddress", err)
	}
}

func TestNativeBuildIsForwarded(t *testing.T) {
	d, fake := newNativeDevice(t)
	cl, err := d.CreateCommandList("native")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	in := triangleInputs(0x10000, 3)
	if err := cl.BuildRaytracingAccelerationStructure(&BuildDesc{Inputs: in, DestAddress: 0x20000, ScratchAddress: 0x30000}); err != nil {
		t.Fatal(err)
	}
	if len(fake.builds) != 1 || fake.builds[0].DestAddress != 0x20000 {
		t.Errorf("native builds = %+v", fake.builds)
	}
	if len(cl.deferred) != 0 {
		t.Error("native builds should not defer host work")
	}
	if err := d.ExecuteCommandList(cl); err != nil {
		t.Fatal(err)
	}
}

func TestCommandListLifecycle(t *testing.T) {
	d := newTestDevice(t)
	cl, err := d.CreateCommandList("frame")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	if err := cl.BuildRaytracingAccelerationStructure(&BuildDesc{Inputs: triangleInputs(0x10000, 3)}); !errors.Is(err, ErrInvalidBuildInputs) {
		t.Errorf("build without addresses error = %v, want ErrInvalidBuildInputs", err)
	}
	if err := d.ExecuteCommandList(cl); err != nil {
		t.Fatalf("execute empty list: %v", err)
	}
	if err := d.ExecuteCommandList(cl); !errors.Is(err, ErrCommandListClosed) {
		t.Errorf("second execute error = %v, want ErrCommandListClosed", err)
	}
	if err := cl.ResourceBarrierUAV(nil); !errors.Is(err, ErrCommandListClosed) {
		t.Errorf("record on closed list error = %v, want ErrCommandListClosed", err)
	}
	if err := cl.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := d.ExecuteCommandList(cl); err != nil {
		t.Errorf("execute after reset: %v", err)
	}

	other := newTestDevice(t)
	if err := other.ExecuteCommandList(cl); err == nil {
		t.Error("executing on a foreign device should fail")
	}
}
