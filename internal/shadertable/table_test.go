package shadertable

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/wgpu/hal/noop"
)

func newTestAllocator(t *testing.T) *alloc.Allocator {
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
		t.Fatal(err)
	}
	return alloc.New(dev, alloc.Config{})
}

func TestRootArgumentsBytes(t *testing.T) {
	b := FullScreen.Bytes()
	if len(b) != RootArgumentsSize {
		t.Fatalf("len = %d, want %d", len(b), RootArgumentsSize)
	}
	want := []float32{-1, -1, 1, 1, -1, -1, 1, 1}
	for i, w := range want {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])); got != w {
			t.Errorf("float %d = %v, want %v", i, got, w)
		}
	}
}

func TestRecordSize(t *testing.T) {
	tests := []struct {
		args int
		want uint64
	}{
		{0, 32},
		{1, 64},
		{32, 64},
		{33, 96},
	}
	for _, tt := range tests {
		if got := RecordSize(tt.args); got != tt.want {
			t.Errorf("RecordSize(%d) = %d, want %d", tt.args, got, tt.want)
		}
		if got := uint64(len(Record(make([]byte, dxr.ShaderIdentifierSize), make([]byte, tt.args)))); got != tt.want {
			t.Errorf("len(Record) with %d argument bytes = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestBuildRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	st, err := pipeline.NewCompiler(a.Device()).CompileSource(pipeline.DefaultShaderName, pipeline.DefaultShader())
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	defer st.Release()

	tables, err := Build(a, st, FullScreen)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tables.Release()

	for _, tb := range []*Table{&tables.RayGen, &tables.Miss, &tables.HitGroup} {
		want := append(st.StateObject.ShaderIdentifier(tb.Export), FullScreen.Bytes()...)
		if tb.RecordSize != dxr.Align(uint64(len(want)), dxr.ShaderRecordByteAlignment) {
			t.Errorf("%s record size = %d", tb.Export, tb.RecordSize)
		}
		got, err := tb.Buffer.Read(0, uint64(len(want)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s record does not round-trip", tb.Export)
		}
		if uint64(tb.Address())%dxr.ShaderTableByteAlignment != 0 {
			t.Errorf("%s table at 0x%x is not 64-byte aligned", tb.Export, uint64(tb.Address()))
		}
	}

	desc := tables.DispatchDesc(640, 480)
	if desc.Width != 640 || desc.Height != 480 || desc.Depth != 1 {
		t.Errorf("dispatch dims = %dx%dx%d", desc.Width, desc.Height, desc.Depth)
	}
	if desc.MissShaderTable.StrideInBytes != 64 || desc.RayGenerationShaderRecord.StartAddress != tables.RayGen.Address() {
		t.Errorf("dispatch desc = %+v", desc)
	}

	tables.Release()
	if a.Stats().Buffers != 0 {
		t.Errorf("%d buffers alive after Release", a.Stats().Buffers)
	}
}
