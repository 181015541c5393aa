package dxr

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// fallbackTileSize is the workgroup edge of fallback ray generation
// entry points.
const fallbackTileSize = 8

// GPUVirtualAddressRange is a byte range in GPU address space.
type GPUVirtualAddressRange struct {
	StartAddress GPUVirtualAddress
	SizeInBytes  uint64
}

// GPUVirtualAddressRangeAndStride is a table of equally sized records.
type GPUVirtualAddressRangeAndStride struct {
	StartAddress  GPUVirtualAddress
	SizeInBytes   uint64
	StrideInBytes uint64
}

// DispatchRaysDesc describes one ray dispatch.
type DispatchRaysDesc struct {
	RayGenerationShaderRecord GPUVirtualAddressRange
	MissShaderTable           GPUVirtualAddressRangeAndStride
	HitGroupTable             GPUVirtualAddressRangeAndStride
	Width, Height, Depth      uint32
}

func (desc *DispatchRaysDesc) validate() error {
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
		return fmt.Errorf("%w: empty dispatch %dx%dx%d", ErrInvalidShaderRecord, desc.Width, desc.Height, desc.Depth)
	}
	rg := desc.RayGenerationShaderRecord
	if uint64(rg.StartAddress)%ShaderTableByteAlignment != 0 {
		return fmt.Errorf("%w: ray generation record at 0x%x not %d-byte aligned",
			ErrInvalidShaderRecord, uint64(rg.StartAddress), ShaderTableByteAlignment)
	}
	if rg.SizeInBytes < ShaderIdentifierSize {
		return fmt.Errorf("%w: ray generation record of %d bytes", ErrInvalidShaderRecord, rg.SizeInBytes)
	}
	for _, t := range []struct {
		name string
		tbl  GPUVirtualAddressRangeAndStride
	}{{"miss", desc.MissShaderTable}, {"hit group", desc.HitGroupTable}} {
		if t.tbl.SizeInBytes == 0 {
			continue
		}
		if uint64(t.tbl.StartAddress)%ShaderTableByteAlignment != 0 {
			return fmt.Errorf("%w: %s table at 0x%x not %d-byte aligned",
				ErrInvalidShaderRecord, t.name, uint64(t.tbl.StartAddress), ShaderTableByteAlignment)
		}
		if t.tbl.StrideInBytes < ShaderIdentifierSize || t.tbl.StrideInBytes%ShaderRecordByteAlignment != 0 {
			return fmt.Errorf("%w: %s stride %d", ErrInvalidShaderRecord, t.name, t.tbl.StrideInBytes)
		}
	}
	return nil
}

// DispatchRays records a ray dispatch using the bound state object and
// global root arguments. In fallback mode the shader tables must live in
// host-visible memory; their records are checked when recorded.
func (cl *CommandList) DispatchRays(desc *DispatchRaysDesc) error {
	if err := cl.checkOpen(); err != nil {
		return err
	}
	if cl.state == nil {
		return fmt.Errorf("%w: no pipeline state", ErrMissingBinding)
	}
	if cl.rootSig == nil {
		return fmt.Errorf("%w: no compute root signature", ErrMissingBinding)
	}
	if cl.rootSig != cl.state.global {
		return fmt.Errorf("%w: root signature differs from the state object's global signature", ErrMissingBinding)
	}
	if err := desc.validate(); err != nil {
		return err
	}
	d := cl.dev
	if d.mode == ModeNative {
		if err := d.native.DispatchRays(cl.enc, cl.state, desc); err != nil {
			return fmt.Errorf("dxr: native dispatch: %w", err)
		}
		return nil
	}

	raygen, err := cl.checkRecords(desc)
	if err != nil {
		return err
	}
	pipeline, ok := cl.state.pipelines[raygen]
	if !ok {
		return fmt.Errorf("%w: no fallback pipeline for %q", ErrMissingBinding, raygen)
	}
	entries, err := cl.bindGroupEntries(desc)
	if err != nil {
		return err
	}
	bg, err := d.hal.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   cl.label,
		Layout:  cl.state.bgl,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("dxr: dispatch bind group: %w", err)
	}
	cl.bindGroups = append(cl.bindGroups, bg)

	pass := cl.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: cl.label})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(
		(desc.Width+fallbackTileSize-1)/fallbackTileSize,
		(desc.Height+fallbackTileSize-1)/fallbackTileSize,
		desc.Depth,
	)
	pass.End()
	return nil
}

// checkRecords reads the identifier of every record and checks it against
// the bound state object. It returns the ray generation export.
func (cl *CommandList) checkRecords(desc *DispatchRaysDesc) (string, error) {
	so := cl.state
	rg := desc.RayGenerationShaderRecord
	raw, err := cl.dev.readHost(rg.StartAddress, rg.SizeInBytes)
	if err != nil {
		return "", fmt.Errorf("dxr: ray generation record: %w", err)
	}
	raygen, err := cl.checkRecord(raw, rg.SizeInBytes, func(name string) bool {
		k, ok := so.ExportKind(name)
		return ok && k == ShaderKindRayGeneration
	})
	if err != nil {
		return "", fmt.Errorf("ray generation record: %w", err)
	}

	tables := []struct {
		name string
		tbl  GPUVirtualAddressRangeAndStride
		want func(string) bool
	}{
		{"miss", desc.MissShaderTable, func(name string) bool {
			k, ok := so.ExportKind(name)
			return ok && k == ShaderKindMiss
		}},
		{"hit group", desc.HitGroupTable, so.IsHitGroup},
	}
	for _, t := range tables {
		if t.tbl.SizeInBytes == 0 {
			continue
		}
		raw, err := cl.dev.readHost(t.tbl.StartAddress, t.tbl.SizeInBytes)
		if err != nil {
			return "", fmt.Errorf("dxr: %s table: %w", t.name, err)
		}
		for off := uint64(0); off+ShaderIdentifierSize <= t.tbl.SizeInBytes; off += t.tbl.StrideInBytes {
			if _, err := cl.checkRecord(raw[off:], t.tbl.StrideInBytes, t.want); err != nil {
				return "", fmt.Errorf("%s record %d: %w", t.name, off/t.tbl.StrideInBytes, err)
			}
		}
	}
	return raygen, nil
}

func (cl *CommandList) checkRecord(rec []byte, size uint64, want func(string) bool) (string, error) {
	name, ok := cl.state.ExportForIdentifier(rec)
	if !ok || !want(name) {
		return "", fmt.Errorf("%w: unknown shader identifier", ErrInvalidShaderRecord)
	}
	if local := cl.state.LocalRootSignature(name); local != nil {
		need := uint64(ShaderIdentifierSize + local.LocalArgumentsSize())
		if size < need {
			return "", fmt.Errorf("%w: %q needs %d bytes, record has %d", ErrInvalidShaderRecord, name, need, size)
		}
	}
	return name, nil
}

// bindGroupEntries resolves the global root arguments and the three shader
// tables to buffer bindings.
func (cl *CommandList) bindGroupEntries(desc *DispatchRaysDesc) ([]gputypes.BindGroupEntry, error) {
	d := cl.dev
	var entries []gputypes.BindGroupEntry
	for _, b := range cl.rootSig.bindings {
		var (
			va   GPUVirtualAddress
			size uint64
		)
		if b.table {
			base, ok := cl.tables[b.param]
			if !ok {
				return nil, fmt.Errorf("%w: root parameter %d", ErrMissingBinding, b.param)
			}
			if cl.heap == nil {
				return nil, fmt.Errorf("%w: descriptor heap", ErrMissingBinding)
			}
			view, ok := cl.heap.Lookup(base + b.offset)
			if !ok {
				return nil, fmt.Errorf("%w: descriptor %d of parameter %d is empty", ErrMissingBinding, base+b.offset, b.param)
			}
			va, size = view.ByteRange()
		} else {
			var ok bool
			if va, ok = cl.views[b.param]; !ok {
				return nil, fmt.Errorf("%w: root parameter %d", ErrMissingBinding, b.param)
			}
		}
		entry, err := d.bufferEntry(b.binding, va, size)
		if err != nil {
			return nil, fmt.Errorf("root parameter %d: %w", b.param, err)
		}
		entries = append(entries, entry)
	}

	rg := desc.RayGenerationShaderRecord
	ranges := []GPUVirtualAddressRange{
		rg,
		{StartAddress: desc.MissShaderTable.StartAddress, SizeInBytes: desc.MissShaderTable.SizeInBytes},
		{StartAddress: desc.HitGroupTable.StartAddress, SizeInBytes: desc.HitGroupTable.SizeInBytes},
	}
	for k, r := range ranges {
		// Empty tables still need a binding; the ray generation record
		// stands in for them.
		if r.SizeInBytes == 0 {
			r = rg
		}
		entry, err := d.bufferEntry(cl.state.tableBinding+uint32(k), r.StartAddress, r.SizeInBytes)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// bufferEntry binds [va, va+size). A zero size binds to the end of the
// buffer.
func (d *Device) bufferEntry(binding uint32, va GPUVirtualAddress, size uint64) (gputypes.BindGroupEntry, error) {
	buf, off, err := d.resolveRange(va, size)
	if err != nil {
		return gputypes.BindGroupEntry{}, err
	}
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: off,
			Size:   size,
		},
	}, nil
}
