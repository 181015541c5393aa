// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/gogpu/raytrace/internal/bvh"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/math/f32"
)

// Fallback result layout:
//
//	header   64 bytes  magic, type, primitive count, node count, bounds
//	nodes    node count * bvh.NodeSize
//	prims    primitive count * (triangleRecordSize | instanceRecordSize)
//
// Scratch holds one primitiveRefSize entry per primitive.
const (
	structureMagic      = 0x53415452 // "RTAS"
	structureHeaderSize = 64
	nodeRecordSize      = bvh.NodeSize
	triangleRecordSize  = 36
	instanceRecordSize  = InstanceDescSize
	primitiveRefSize    = 32

	blasLeafSize = 4
	tlasLeafSize = 1
)

// builtStructure is the host-side record of a fallback build.
type builtStructure struct {
	typ      AccelerationStructureType
	buffer   hal.Buffer
	address  GPUVirtualAddress
	capacity uint64
	written  uint64
	bounds   [2]f32.Vec3
	prims    uint32
	nodes    uint32

	// needsBarrier is set by the build and cleared by the next UAV barrier
	// on the result buffer.
	needsBarrier bool
}

type structureTable map[GPUVirtualAddress]*builtStructure

func (t structureTable) lookupBuffer(buf hal.Buffer) (GPUVirtualAddress, bool) {
	for va, s := range t {
		if s.buffer == buf {
			return va, true
		}
	}
	return 0, false
}

// StructureInfo describes a structure built by the fallback device.
type StructureInfo struct {
	Type         AccelerationStructureType
	Primitives   uint32
	Nodes        uint32
	BytesWritten uint64
	Bounds       [2]f32.Vec3
}

// BuiltStructure reports the fallback build at va. Native builds are opaque
// and never reported.
func (d *Device) BuiltStructure(va GPUVirtualAddress) (StructureInfo, bool) {
	s, ok := d.built[va]
	if !ok {
		return StructureInfo{}, false
	}
	return StructureInfo{
		Type:         s.typ,
		Primitives:   s.prims,
		Nodes:        s.nodes,
		BytesWritten: s.written,
		Bounds:       s.bounds,
	}, true
}

// resolveRange resolves [va, va+size) to a single buffer.
func (d *Device) resolveRange(va GPUVirtualAddress, size uint64) (hal.Buffer, uint64, error) {
	buf, off, err := d.space.resolve(va)
	if err != nil {
		return nil, 0, err
	}
	if size > 0 {
		if _, _, err := d.space.resolve(va + GPUVirtualAddress(size-1)); err != nil {
			return nil, 0, fmt.Errorf("%w: range 0x%x+%d overruns its buffer", ErrInvalidAddress, uint64(va), size)
		}
	}
	return buf, off, nil
}

// readHost copies size bytes at va out of a mappable buffer.
func (d *Device) readHost(va GPUVirtualAddress, size uint64) (out []byte, err error) {
	buf, off, err := d.resolveRange(va, size)
	if err != nil {
		return nil, err
	}
	mapping, err := d.hal.MapBuffer(buf, off, size)
	if err != nil {
		return nil, fmt.Errorf("dxr: map 0x%x: %w", uint64(va), err)
	}
	defer func() {
		if uerr := d.hal.UnmapBuffer(buf); uerr != nil && err == nil {
			err = fmt.Errorf("dxr: unmap 0x%x: %w", uint64(va), uerr)
		}
	}()
	out = make([]byte, size)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), size))
	return out, nil
}

// checkBuildTargets validates the destination and scratch ranges of desc.
func (d *Device) checkBuildTargets(desc *BuildDesc, info PrebuildInfo) (hal.Buffer, uint64, error) {
	dst, off, err := d.resolveRange(desc.DestAddress, info.ResultDataMaxSizeInBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("dxr: %s result: %w", desc.Inputs.Type, err)
	}
	if _, _, err := d.resolveRange(desc.ScratchAddress, info.ScratchDataSizeInBytes); err != nil {
		return nil, 0, fmt.Errorf("dxr: %s scratch: %w", desc.Inputs.Type, err)
	}
	return dst, off, nil
}

// buildBottomLevelOnHost reads the vertex data, builds a SAH BVH and
// writes the fallback layout into the result buffer.
func (d *Device) buildBottomLevelOnHost(desc *BuildDesc) error {
	info := fallbackPrebuildInfo(&desc.Inputs)
	dst, dstOff, err := d.checkBuildTargets(desc, info)
	if err != nil {
		return err
	}

	var tris []bvh.Triangle
	for gi := range desc.Inputs.Geometries {
		t := &desc.Inputs.Geometries[gi].Triangles
		stride := t.VertexBuffer.StrideInBytes
		raw, err := d.readHost(t.VertexBuffer.StartAddress, stride*uint64(t.VertexCount-1)+12)
		if err != nil {
			return fmt.Errorf("dxr: geometry %d vertices: %w", gi, err)
		}
		for v := uint32(0); v < t.VertexCount; v += 3 {
			var tri bvh.Triangle
			for k := uint32(0); k < 3; k++ {
				tri.V[k] = readVec3(raw[uint64(v+k)*stride:])
			}
			tri.Index = len(tris)
			tris = append(tris, tri)
		}
	}

	items := make([]bvh.BoundedVolume, len(tris))
	for i := range tris {
		items[i] = &tris[i]
	}
	order := make([]int, 0, len(tris))
	nodes, stats := bvh.Build(items, blasLeafSize, func(leaf *bvh.Node, list []bvh.BoundedVolume) {
		leaf.First = uint32(len(order))
		leaf.Count = uint32(len(list))
		for _, item := range list {
			order = append(order, item.(*bvh.Triangle).Index)
		}
	}, bvh.SurfaceAreaHeuristic)

	out := make([]byte, structureHeaderSize+len(nodes)*nodeRecordSize+len(order)*triangleRecordSize)
	bounds := encodeHeader(out, BottomLevel, uint32(len(order)), nodes)
	p := out[structureHeaderSize+len(nodes)*nodeRecordSize:]
	for i, idx := range order {
		rec := p[i*triangleRecordSize:]
		for k := 0; k < 3; k++ {
			writeVec3(rec[k*12:], tris[idx].V[k])
		}
	}

	if err := d.queue.WriteBuffer(dst, dstOff, out); err != nil {
		return fmt.Errorf("dxr: write BLAS: %w", err)
	}
	d.built[desc.DestAddress] = &builtStructure{
		typ:          BottomLevel,
		buffer:       dst,
		address:      desc.DestAddress,
		capacity:     info.ResultDataMaxSizeInBytes,
		written:      uint64(len(out)),
		bounds:       bounds,
		prims:        uint32(len(order)),
		nodes:        uint32(len(nodes)),
		needsBarrier: true,
	}
	logging.Logger().Debug("dxr: BLAS built on host",
		"triangles", len(order), "nodes", stats.Nodes, "depth", stats.MaxDepth, "bytes", len(out))
	return nil
}

// buildTopLevelOnHost resolves every instance through the bound descriptor
// table, checks that the referenced BLAS is visible and builds the
// instance BVH.
func (d *Device) buildTopLevelOnHost(desc *BuildDesc, table DescriptorTable) error {
	info := fallbackPrebuildInfo(&desc.Inputs)
	dst, dstOff, err := d.checkBuildTargets(desc, info)
	if err != nil {
		return err
	}
	if table == nil {
		return fmt.Errorf("%w: TLAS build without a descriptor heap bound", ErrInvalidBuildInputs)
	}

	n := desc.Inputs.NumDescs
	raw, err := d.readHost(desc.Inputs.InstanceDescs, uint64(n)*InstanceDescSize)
	if err != nil {
		return fmt.Errorf("dxr: instance descriptors: %w", err)
	}

	instances := make([]InstanceDesc, n)
	boxes := make([]bvh.Box, n)
	for i := range instances {
		inst, err := DecodeInstanceDesc(raw[i*InstanceDescSize:], ModeFallback)
		if err != nil {
			return err
		}
		blas, err := d.resolveWrapped(inst.AccelerationStructure, table)
		if err != nil {
			return fmt.Errorf("dxr: instance %d: %w", i, err)
		}
		inst.AccelerationStructure.GPUAddress = blas.address
		instances[i] = inst
		lo, hi := transformBounds(&inst.Transform, blas.bounds)
		boxes[i] = bvh.Box{Min: lo, Max: hi, Index: i}
	}

	items := make([]bvh.BoundedVolume, n)
	for i := range boxes {
		items[i] = &boxes[i]
	}
	order := make([]int, 0, n)
	nodes, _ := bvh.Build(items, tlasLeafSize, func(leaf *bvh.Node, list []bvh.BoundedVolume) {
		leaf.First = uint32(len(order))
		leaf.Count = uint32(len(list))
		for _, item := range list {
			order = append(order, item.(*bvh.Box).Index)
		}
	}, bvh.SurfaceAreaHeuristic)

	out := make([]byte, structureHeaderSize+len(nodes)*nodeRecordSize+len(order)*instanceRecordSize)
	bounds := encodeHeader(out, TopLevel, uint32(len(order)), nodes)
	p := out[structureHeaderSize+len(nodes)*nodeRecordSize:]
	for i, idx := range order {
		// Traversal follows resolved addresses, so records use the native
		// encoding.
		if err := instances[idx].Encode(p[i*instanceRecordSize:], ModeNative); err != nil {
			return err
		}
	}

	if err := d.queue.WriteBuffer(dst, dstOff, out); err != nil {
		return fmt.Errorf("dxr: write TLAS: %w", err)
	}
	d.built[desc.DestAddress] = &builtStructure{
		typ:          TopLevel,
		buffer:       dst,
		address:      desc.DestAddress,
		capacity:     info.ResultDataMaxSizeInBytes,
		written:      uint64(len(out)),
		bounds:       bounds,
		prims:        uint32(len(order)),
		nodes:        uint32(len(nodes)),
		needsBarrier: true,
	}
	logging.Logger().Debug("dxr: TLAS built on host", "instances", n, "nodes", len(nodes), "bytes", len(out))
	return nil
}

// resolveWrapped follows a fallback wrapped pointer through its raw UAV to
// a built bottom-level structure.
func (d *Device) resolveWrapped(p WrappedGPUPointer, table DescriptorTable) (*builtStructure, error) {
	view, ok := table.Lookup(p.DescriptorIndex)
	if !ok {
		return nil, fmt.Errorf("%w: descriptor %d holds no view", ErrInvalidAddress, p.DescriptorIndex)
	}
	start, _ := view.ByteRange()
	blas, ok := d.built[start]
	if !ok || blas.typ != BottomLevel {
		return nil, fmt.Errorf("%w: descriptor %d does not view a built BLAS", ErrInvalidAddress, p.DescriptorIndex)
	}
	if !view.Covers(blas.address, blas.capacity) {
		return nil, fmt.Errorf("%w: descriptor %d covers less than the BLAS result", ErrInvalidAddress, p.DescriptorIndex)
	}
	if blas.needsBarrier {
		return nil, fmt.Errorf("%w: BLAS at 0x%x", ErrMissingBarrier, uint64(blas.address))
	}
	return blas, nil
}

// uavBarrierOnHost makes builds into buf visible to later reads.
func (d *Device) uavBarrierOnHost(buf hal.Buffer) {
	for _, s := range d.built {
		if s.buffer == buf {
			s.needsBarrier = false
		}
	}
}

func encodeHeader(out []byte, typ AccelerationStructureType, prims uint32, nodes []bvh.Node) [2]f32.Vec3 {
	le := binary.LittleEndian
	le.PutUint32(out[0:], structureMagic)
	le.PutUint32(out[4:], uint32(typ))
	le.PutUint32(out[8:], prims)
	le.PutUint32(out[12:], uint32(len(nodes)))
	var bounds [2]f32.Vec3
	if len(nodes) > 0 {
		bounds = [2]f32.Vec3{nodes[0].Min, nodes[0].Max}
	}
	writeVec3(out[16:], bounds[0])
	writeVec3(out[28:], bounds[1])
	for i := range nodes {
		nodes[i].Encode(out[structureHeaderSize+i*nodeRecordSize:])
	}
	return bounds
}

// transformBounds returns the world-space box of the eight transformed
// corners of b.
func transformBounds(m *f32.Aff4, b [2]f32.Vec3) (f32.Vec3, f32.Vec3) {
	lo := f32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := f32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for c := 0; c < 8; c++ {
		corner := f32.Vec3{b[c&1][0], b[(c>>1)&1][1], b[(c>>2)&1][2]}
		p := transformPoint(m, corner)
		lo = bvh.MinVec3(lo, p)
		hi = bvh.MaxVec3(hi, p)
	}
	return lo, hi
}

func readVec3(b []byte) f32.Vec3 {
	le := binary.LittleEndian
	return f32.Vec3{
		math.Float32frombits(le.Uint32(b[0:])),
		math.Float32frombits(le.Uint32(b[4:])),
		math.Float32frombits(le.Uint32(b[8:])),
	}
}

func writeVec3(b []byte, v f32.Vec3) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], math.Float32bits(v[0]))
	le.PutUint32(b[4:], math.Float32bits(v[1]))
	le.PutUint32(b[8:], math.Float32bits(v[2]))
}
