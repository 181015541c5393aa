// Package shadertable packs shader identifiers and root arguments into the
// ray generation, miss and hit group tables read by DispatchRays.
package shadertable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/raytrace/internal/pipeline"
)

// Viewport is a rectangle in normalized device coordinates.
type Viewport struct {
	Left, Top, Right, Bottom float32
}

// RootArguments are the local root constants of every record: the ray
// generation viewport and the stencil rectangle rays are traced inside.
type RootArguments struct {
	Viewport Viewport
	Stencil  Viewport
}

// RootArgumentsSize is the encoded size of RootArguments.
const RootArgumentsSize = 32

// FullScreen covers [-1,1]x[-1,1] with a matching stencil.
var FullScreen = RootArguments{
	Viewport: Viewport{-1, -1, 1, 1},
	Stencil:  Viewport{-1, -1, 1, 1},
}

// Bytes encodes the arguments as eight little-endian floats.
func (a RootArguments) Bytes() []byte {
	out := make([]byte, 0, RootArgumentsSize)
	for _, v := range []float32{
		a.Viewport.Left, a.Viewport.Top, a.Viewport.Right, a.Viewport.Bottom,
		a.Stencil.Left, a.Stencil.Top, a.Stencil.Right, a.Stencil.Bottom,
	} {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// RecordSize returns the aligned size of a record with args bytes of root
// arguments.
func RecordSize(args int) uint64 {
	return dxr.Align(uint64(dxr.ShaderIdentifierSize+args), dxr.ShaderRecordByteAlignment)
}

// Record concatenates id and args and pads to the record alignment.
func Record(id, args []byte) []byte {
	rec := make([]byte, RecordSize(len(args)))
	copy(rec, id)
	copy(rec[len(id):], args)
	return rec
}

// Table is a one-record shader table.
type Table struct {
	Export     string
	Buffer     *alloc.Buffer
	RecordSize uint64
}

// Address returns the GPU address of the first record.
func (t *Table) Address() dxr.GPUVirtualAddress { return t.Buffer.GPUAddress() }

// Tables are the three shader tables of a pipeline.
type Tables struct {
	RayGen   Table
	Miss     Table
	HitGroup Table
}

// Build creates the three tables for st, each holding one record with
// args as its root arguments.
func Build(a *alloc.Allocator, st *pipeline.State, args RootArguments) (_ *Tables, err error) {
	idSize := a.Device().ShaderIdentifierSize()
	payload := args.Bytes()

	t := &Tables{}
	defer func() {
		if err != nil {
			t.Release()
		}
	}()
	for _, entry := range []struct {
		table  *Table
		export string
	}{
		{&t.RayGen, pipeline.RaygenShader},
		{&t.Miss, pipeline.MissShader},
		{&t.HitGroup, pipeline.HitGroup},
	} {
		id := st.StateObject.ShaderIdentifier(entry.export)
		if uint32(len(id)) != idSize {
			return nil, fmt.Errorf("%w: no shader identifier for %q", dxr.ErrPipelineAssembly, entry.export)
		}
		rec := Record(id, payload)
		buf, err := a.CreateUploadBuffer(entry.export+" shader table", rec)
		if err != nil {
			return nil, fmt.Errorf("shadertable: %s: %w", entry.export, err)
		}
		*entry.table = Table{Export: entry.export, Buffer: buf, RecordSize: uint64(len(rec))}
		logging.Logger().Debug("shadertable: record written", "export", entry.export, "bytes", len(rec))
	}
	return t, nil
}

// DispatchDesc describes a width x height dispatch over the tables.
func (t *Tables) DispatchDesc(width, height uint32) *dxr.DispatchRaysDesc {
	return &dxr.DispatchRaysDesc{
		RayGenerationShaderRecord: dxr.GPUVirtualAddressRange{
			StartAddress: t.RayGen.Address(),
			SizeInBytes:  t.RayGen.RecordSize,
		},
		MissShaderTable: dxr.GPUVirtualAddressRangeAndStride{
			StartAddress:  t.Miss.Address(),
			SizeInBytes:   t.Miss.RecordSize,
			StrideInBytes: t.Miss.RecordSize,
		},
		HitGroupTable: dxr.GPUVirtualAddressRangeAndStride{
			StartAddress:  t.HitGroup.Address(),
			SizeInBytes:   t.HitGroup.RecordSize,
			StrideInBytes: t.HitGroup.RecordSize,
		},
		Width:  width,
		Height: height,
		Depth:  1,
	}
}

// Release frees the table buffers.
func (t *Tables) Release() {
	for _, tb := range []*Table{&t.RayGen, &t.Miss, &t.HitGroup} {
		if tb.Buffer != nil {
			tb.Buffer.Release()
			tb.Buffer = nil
		}
	}
}
