package accel

import (
	"errors"
	"testing"

	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/mesh"
)

func TestBuildSceneFallback(t *testing.T) {
	a, _ := newAllocator(t, false)
	dev := a.Device()
	heap := descriptor.NewHeap(16)
	b := NewBuilder(a, heap)
	cl := newCommandList(t, dev)

	geom := Geometry{Label: "sphere", Vertices: mesh.Icosphere(1)}
	scene, err := b.BuildScene(cl, geom)
	if err != nil {
		t.Fatalf("BuildScene: %v", err)
	}
	if err := dev.ExecuteCommandList(cl); err != nil {
		t.Fatalf("ExecuteCommandList: %v", err)
	}

	if scene.Pointer.DescriptorIndex != 0 || heap.Used() != 1 {
		t.Errorf("pointer = %v, heap used = %d; want slot 0 allocated", scene.Pointer, heap.Used())
	}
	view, ok := heap.Lookup(scene.Pointer.DescriptorIndex)
	if !ok {
		t.Fatal("wrapped pointer slot holds no view")
	}
	if got := uint64(view.Desc.NumElements) * 4; got != scene.BLAS.Prebuild.ResultDataMaxSizeInBytes {
		t.Errorf("view covers %d bytes, BLAS result is %d", got, scene.BLAS.Prebuild.ResultDataMaxSizeInBytes)
	}
	if scene.BLAS.Result.Size() != scene.BLAS.Prebuild.ResultDataMaxSizeInBytes {
		t.Errorf("BLAS result allocated %d bytes, prebuild reported %d",
			scene.BLAS.Result.Size(), scene.BLAS.Prebuild.ResultDataMaxSizeInBytes)
	}

	blas, ok := dev.BuiltStructure(scene.BLAS.Address())
	if !ok || blas.Primitives != uint32(mesh.TriangleCount(1)) {
		t.Errorf("BLAS = %+v, %v; want %d triangles", blas, ok, mesh.TriangleCount(1))
	}
	tlas, ok := dev.BuiltStructure(scene.TLASAddress())
	if !ok || tlas.Type != dxr.TopLevel || tlas.Primitives != 1 {
		t.Errorf("TLAS = %+v, %v; want one instance", tlas, ok)
	}
	if scene.TLAS.Result.Size() == 0 {
		t.Error("TLAS result must be non-zero")
	}

	raw, err := scene.Instances.Read(0, dxr.InstanceDescSize)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := dxr.DecodeInstanceDesc(raw, dxr.ModeFallback)
	if err != nil {
		t.Fatal(err)
	}
	if inst.InstanceMask != 0xFF || inst.InstanceID != 0 || inst.Transform != dxr.IdentityTransform {
		t.Errorf("instance = %+v", inst)
	}

	before := a.Stats().Buffers
	scene.ReleaseScratch()
	if got := a.Stats().Buffers; got != before-2 {
		t.Errorf("ReleaseScratch freed %d buffers, want 2", before-got)
	}
	scene.Release()
	if got := a.Stats().Buffers; got != 0 {
		t.Errorf("%d buffers alive after Release", got)
	}
}

func TestBuildSceneNative(t *testing.T) {
	a, fake := newAllocator(t, true)
	heap := descriptor.NewHeap(16)
	cl := newCommandList(t, a.Device())

	scene, err := NewBuilder(a, heap).BuildScene(cl, Geometry{Vertices: mesh.Icosphere(0)})
	if err != nil {
		t.Fatalf("BuildScene: %v", err)
	}
	defer scene.Release()

	if heap.Used() != 0 {
		t.Errorf("native build allocated %d descriptors, want 0", heap.Used())
	}
	if scene.Pointer.DescriptorIndex != 0 || scene.Pointer.GPUAddress != scene.BLAS.Address() {
		t.Errorf("pointer = %v, want address-only pointer to the BLAS", scene.Pointer)
	}
	if len(fake.builds) != 2 {
		t.Fatalf("native builds = %d, want 2", len(fake.builds))
	}
	if fake.builds[0].Inputs.Type != dxr.BottomLevel || fake.builds[1].Inputs.Type != dxr.TopLevel {
		t.Error("BLAS must be built before the TLAS")
	}
	if fake.builds[1].Inputs.InstanceDescs != scene.Instances.GPUAddress() {
		t.Error("TLAS build does not reference the instance buffer")
	}
	if scene.TLAS.Result.Size() != 512 || scene.BLAS.Scratch.Size() != 1024 {
		t.Errorf("buffers not sized by the driver prebuild: tlas %d, blas scratch %d",
			scene.TLAS.Result.Size(), scene.BLAS.Scratch.Size())
	}
}

func TestPrebuildDeterministic(t *testing.T) {
	a, _ := newAllocator(t, false)
	b := NewBuilder(a, descriptor.NewHeap(4))
	geom := Geometry{Vertices: mesh.Icosphere(3)}

	blas1, tlas1, err := b.Prebuild(geom)
	if err != nil {
		t.Fatal(err)
	}
	blas2, tlas2, err := b.Prebuild(geom)
	if err != nil {
		t.Fatal(err)
	}
	if blas1 != blas2 || tlas1 != tlas2 {
		t.Errorf("prebuild not deterministic: %+v/%+v vs %+v/%+v", blas1, tlas1, blas2, tlas2)
	}
	if blas1.ResultDataMaxSizeInBytes%4 != 0 {
		t.Errorf("BLAS result %d is not a whole number of raw elements", blas1.ResultDataMaxSizeInBytes)
	}
	if a.Stats().Buffers != 0 {
		t.Error("Prebuild must not allocate")
	}
}

func TestBuildSceneReleasesOnFailure(t *testing.T) {
	a, _ := newAllocator(t, false)
	heap := descriptor.NewHeap(1)
	if _, err := heap.Allocate(); err != nil {
		t.Fatal(err)
	}
	cl := newCommandList(t, a.Device())

	_, err := NewBuilder(a, heap).BuildScene(cl, Geometry{Vertices: mesh.Icosphere(0)})
	if !errors.Is(err, descriptor.ErrHeapFull) {
		t.Fatalf("BuildScene error = %v, want ErrHeapFull", err)
	}
	if got := a.Stats().Buffers; got != 0 {
		t.Errorf("%d buffers leaked after a failed build", got)
	}

	if _, err := NewBuilder(a, heap).BuildScene(cl, Geometry{}); err == nil {
		t.Error("empty geometry should fail")
	}
}

func TestCreateWrappedPointerNeedsHeap(t *testing.T) {
	a, _ := newAllocator(t, false)
	buf, err := a.CreateUAVBuffer("blas", 256, dxr.StateUnorderedAccess)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()
	if _, err := CreateWrappedPointer(a.Device(), nil, buf, 64); err == nil {
		t.Error("fallback wrapped pointer without a heap should fail")
	}
}
