// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dxr

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// ShaderKind is the raytracing stage of a library export.
type ShaderKind uint8

const (
	ShaderKindRayGeneration ShaderKind = iota
	ShaderKindMiss
	ShaderKindClosestHit
	ShaderKindAnyHit
	ShaderKindIntersection
	ShaderKindCallable
)

var shaderKindNames = [...]string{"raygeneration", "miss", "closesthit", "anyhit", "intersection", "callable"}

func (k ShaderKind) String() string {
	if int(k) < len(shaderKindNames) {
		return shaderKindNames[k]
	}
	return fmt.Sprintf("ShaderKind(%d)", k)
}

// SubobjectType identifies the payload of a Subobject.
type SubobjectType uint8

const (
	SubobjectDXILLibrary SubobjectType = iota
	SubobjectHitGroup
	SubobjectShaderConfig
	SubobjectLocalRootSignature
	SubobjectExportsAssociation
	SubobjectGlobalRootSignature
	SubobjectPipelineConfig
)

var subobjectNames = [...]string{
	"DXIL library", "hit group", "shader config", "local root signature",
	"exports association", "global root signature", "pipeline config",
}

func (t SubobjectType) String() string {
	if int(t) < len(subobjectNames) {
		return subobjectNames[t]
	}
	return fmt.Sprintf("SubobjectType(%d)", t)
}

// ExportDesc names one shader exported by a library.
type ExportDesc struct {
	Name string
	Kind ShaderKind
}

// DXILLibraryDesc is a compiled shader library. Bytecode holds SPIR-V
// words; the fallback path runs each ray generation export as a compute
// entry point of it.
type DXILLibraryDesc struct {
	Bytecode []uint32
	Exports  []ExportDesc
}

// HitGroupType is the geometry kind a hit group handles.
type HitGroupType uint8

const (
	HitGroupTypeTriangles HitGroupType = iota
	HitGroupTypeProceduralPrimitive
)

// HitGroupDesc combines hit shaders under one exported name.
type HitGroupDesc struct {
	HitGroupExport           string
	Type                     HitGroupType
	ClosestHitShaderImport   string
	AnyHitShaderImport       string
	IntersectionShaderImport string
}

// ShaderConfig bounds the payload and attribute structs.
type ShaderConfig struct {
	MaxPayloadSizeInBytes   uint32
	MaxAttributeSizeInBytes uint32
}

// MaxAttributeSizeInBytes is the largest intersection attribute struct.
const MaxAttributeSizeInBytes = 32

// LocalRootSignatureDesc wraps a local root signature subobject.
type LocalRootSignatureDesc struct {
	RootSignature *RootSignature
}

// GlobalRootSignatureDesc wraps the global root signature subobject.
type GlobalRootSignatureDesc struct {
	RootSignature *RootSignature
}

// ExportsAssociation binds the subobject at index SubobjectToAssociate to
// a list of exports.
type ExportsAssociation struct {
	SubobjectToAssociate int
	Exports              []string
}

// PipelineConfig caps the trace recursion depth.
type PipelineConfig struct {
	MaxTraceRecursionDepth uint32
}

// Subobject is one element of a state object description. Desc must be
// the value type matching Type.
type Subobject struct {
	Type SubobjectType
	Desc any
}

// StateObjectDesc is an ordered list of subobjects.
type StateObjectDesc struct {
	Label      string
	Subobjects []Subobject
}

// StateObject is a created raytracing pipeline.
type StateObject struct {
	dev    *Device
	label  string
	serial uint64

	exports   map[string]ShaderKind
	hitGroups map[string]HitGroupDesc
	ids       map[string][]byte
	byID      map[[ShaderIdentifierSize]byte]string
	local     map[string]*RootSignature
	global    *RootSignature
	config    ShaderConfig
	recursion uint32
	libraries []DXILLibraryDesc

	modules   []hal.ShaderModule
	bgl       hal.BindGroupLayout
	layout    hal.PipelineLayout
	pipelines map[string]hal.ComputePipeline
	// tableBinding is the first binding of the three shader tables.
	tableBinding uint32
}

// CreateStateObject validates desc and creates the pipeline. Every error
// wraps ErrPipelineAssembly.
func (d *Device) CreateStateObject(desc *StateObjectDesc) (*StateObject, error) {
	d.stateObjects++
	so := &StateObject{
		dev:       d,
		label:     desc.Label,
		serial:    d.stateObjects,
		exports:   make(map[string]ShaderKind),
		hitGroups: make(map[string]HitGroupDesc),
		ids:       make(map[string][]byte),
		byID:      make(map[[ShaderIdentifierSize]byte]string),
		local:     make(map[string]*RootSignature),
		pipelines: make(map[string]hal.ComputePipeline),
	}
	if err := so.assemble(desc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPipelineAssembly, desc.Label, err)
	}
	if d.mode == ModeFallback {
		if err := so.createFallbackPipelines(); err != nil {
			so.Release()
			return nil, fmt.Errorf("%w: %s: %v", ErrPipelineAssembly, desc.Label, err)
		}
	}
	logging.Logger().Debug("dxr: state object created",
		"label", desc.Label, "exports", len(so.exports), "hitgroups", len(so.hitGroups), "mode", d.mode)
	return so, nil
}

func (so *StateObject) assemble(desc *StateObjectDesc) error {
	var shaderConfigs, pipelineConfigs int
	var associations []ExportsAssociation

	// Declarations first, so associations may reference later subobjects.
	for i, sub := range desc.Subobjects {
		switch sub.Type {
		case SubobjectDXILLibrary:
			lib, ok := sub.Desc.(DXILLibraryDesc)
			if !ok {
				return mismatch(i, sub)
			}
			if len(lib.Bytecode) == 0 {
				return fmt.Errorf("subobject %d: empty library", i)
			}
			for _, e := range lib.Exports {
				if err := so.declare(e.Name, e.Kind); err != nil {
					return err
				}
			}
			so.libraries = append(so.libraries, lib)
		case SubobjectHitGroup:
			hg, ok := sub.Desc.(HitGroupDesc)
			if !ok {
				return mismatch(i, sub)
			}
			if hg.HitGroupExport == "" {
				return fmt.Errorf("subobject %d: hit group without a name", i)
			}
			if _, dup := so.exports[hg.HitGroupExport]; dup {
				return fmt.Errorf("hit group %q collides with an export", hg.HitGroupExport)
			}
			if _, dup := so.hitGroups[hg.HitGroupExport]; dup {
				return fmt.Errorf("duplicate hit group %q", hg.HitGroupExport)
			}
			so.hitGroups[hg.HitGroupExport] = hg
		case SubobjectShaderConfig:
			cfg, ok := sub.Desc.(ShaderConfig)
			if !ok {
				return mismatch(i, sub)
			}
			if cfg.MaxAttributeSizeInBytes > MaxAttributeSizeInBytes {
				return fmt.Errorf("attribute size %d exceeds %d", cfg.MaxAttributeSizeInBytes, MaxAttributeSizeInBytes)
			}
			so.config = cfg
			shaderConfigs++
		case SubobjectLocalRootSignature:
			l, ok := sub.Desc.(LocalRootSignatureDesc)
			if !ok || l.RootSignature == nil {
				return mismatch(i, sub)
			}
			if !l.RootSignature.desc.IsLocal() {
				return fmt.Errorf("subobject %d: local root signature lacks the local flag", i)
			}
		case SubobjectExportsAssociation:
			a, ok := sub.Desc.(ExportsAssociation)
			if !ok {
				return mismatch(i, sub)
			}
			associations = append(associations, a)
		case SubobjectGlobalRootSignature:
			g, ok := sub.Desc.(GlobalRootSignatureDesc)
			if !ok || g.RootSignature == nil {
				return mismatch(i, sub)
			}
			if so.global != nil {
				return fmt.Errorf("more than one global root signature")
			}
			if g.RootSignature.desc.IsLocal() {
				return fmt.Errorf("subobject %d: global root signature has the local flag", i)
			}
			so.global = g.RootSignature
		case SubobjectPipelineConfig:
			pc, ok := sub.Desc.(PipelineConfig)
			if !ok {
				return mismatch(i, sub)
			}
			if pc.MaxTraceRecursionDepth > MaxRecursionDepth {
				return fmt.Errorf("recursion depth %d exceeds %d", pc.MaxTraceRecursionDepth, MaxRecursionDepth)
			}
			so.recursion = pc.MaxTraceRecursionDepth
			pipelineConfigs++
		default:
			return fmt.Errorf("subobject %d: unknown type %d", i, sub.Type)
		}
	}

	for name, hg := range so.hitGroups {
		for _, imp := range []struct {
			name string
			kind ShaderKind
		}{
			{hg.ClosestHitShaderImport, ShaderKindClosestHit},
			{hg.AnyHitShaderImport, ShaderKindAnyHit},
			{hg.IntersectionShaderImport, ShaderKindIntersection},
		} {
			if imp.name == "" {
				continue
			}
			kind, ok := so.exports[imp.name]
			if !ok {
				return fmt.Errorf("hit group %q imports undeclared export %q", name, imp.name)
			}
			if kind != imp.kind {
				return fmt.Errorf("hit group %q imports %q as %s, library declares %s", name, imp.name, imp.kind, kind)
			}
		}
	}

	for _, a := range associations {
		if a.SubobjectToAssociate < 0 || a.SubobjectToAssociate >= len(desc.Subobjects) {
			return fmt.Errorf("association targets subobject %d of %d", a.SubobjectToAssociate, len(desc.Subobjects))
		}
		target := desc.Subobjects[a.SubobjectToAssociate]
		if target.Type != SubobjectLocalRootSignature && target.Type != SubobjectShaderConfig {
			return fmt.Errorf("association targets a %s", target.Type)
		}
		for _, name := range a.Exports {
			if !so.declared(name) {
				return fmt.Errorf("association names undeclared export %q", name)
			}
			if target.Type == SubobjectLocalRootSignature {
				so.local[name] = target.Desc.(LocalRootSignatureDesc).RootSignature
			}
		}
	}

	switch {
	case shaderConfigs == 0:
		return fmt.Errorf("missing shader config")
	case pipelineConfigs == 0:
		return fmt.Errorf("missing pipeline config")
	case so.global == nil:
		return fmt.Errorf("missing global root signature")
	}
	if len(so.exportsOf(ShaderKindRayGeneration)) == 0 {
		return fmt.Errorf("no ray generation export")
	}

	for name, kind := range so.exports {
		if kind == ShaderKindRayGeneration || kind == ShaderKindMiss || kind == ShaderKindCallable {
			so.mintIdentifier(name)
		}
	}
	for name := range so.hitGroups {
		so.mintIdentifier(name)
	}
	return nil
}

func mismatch(i int, sub Subobject) error {
	return fmt.Errorf("subobject %d: %s with payload %T", i, sub.Type, sub.Desc)
}

func (so *StateObject) declare(name string, kind ShaderKind) error {
	if name == "" {
		return fmt.Errorf("export without a name")
	}
	if so.declared(name) {
		return fmt.Errorf("duplicate export %q", name)
	}
	so.exports[name] = kind
	return nil
}

func (so *StateObject) declared(name string) bool {
	if _, ok := so.exports[name]; ok {
		return true
	}
	_, ok := so.hitGroups[name]
	return ok
}

// mintIdentifier derives a stable identifier from the object serial and
// export name.
func (so *StateObject) mintIdentifier(name string) {
	h := sha256.New()
	var serial [8]byte
	binary.LittleEndian.PutUint64(serial[:], so.serial)
	h.Write(serial[:])
	h.Write([]byte(name))
	var id [ShaderIdentifierSize]byte
	copy(id[:], h.Sum(nil))
	so.ids[name] = id[:]
	so.byID[id] = name
}

func (so *StateObject) exportsOf(kind ShaderKind) []string {
	var names []string
	for name, k := range so.exports {
		if k == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// createFallbackPipelines builds one compute pipeline per ray generation
// export. Bindings follow the global root signature, then the ray
// generation, miss and hit group tables as read-only storage.
func (so *StateObject) createFallbackPipelines() error {
	d := so.dev.hal
	var entries []gputypes.BindGroupLayoutEntry
	for _, b := range so.global.bindings {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    b.binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: b.kind},
		})
	}
	so.tableBinding = uint32(len(so.global.bindings))
	for k := uint32(0); k < 3; k++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    so.tableBinding + k,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}

	var err error
	so.bgl, err = d.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: so.label, Entries: entries})
	if err != nil {
		return fmt.Errorf("bind group layout: %w", err)
	}
	so.layout, err = d.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            so.label,
		BindGroupLayouts: []hal.BindGroupLayout{so.bgl},
	})
	if err != nil {
		return fmt.Errorf("pipeline layout: %w", err)
	}

	for _, lib := range so.libraries {
		var raygen []string
		for _, e := range lib.Exports {
			if e.Kind == ShaderKindRayGeneration {
				raygen = append(raygen, e.Name)
			}
		}
		if len(raygen) == 0 {
			continue
		}
		module, err := d.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  so.label,
			Source: hal.ShaderSource{SPIRV: lib.Bytecode},
		})
		if err != nil {
			return fmt.Errorf("shader module: %w", err)
		}
		so.modules = append(so.modules, module)
		for _, name := range raygen {
			p, err := d.CreateComputePipeline(&hal.ComputePipelineDescriptor{
				Label:  so.label + "/" + name,
				Layout: so.layout,
				Compute: hal.ComputeState{
					Module:     module,
					EntryPoint: name,
				},
			})
			if err != nil {
				return fmt.Errorf("compute pipeline %q: %w", name, err)
			}
			so.pipelines[name] = p
		}
	}
	return nil
}

// Label returns the debug label.
func (so *StateObject) Label() string { return so.label }

// ShaderIdentifier returns the identifier of a ray generation, miss or
// callable export or of a hit group, or nil if name has none.
func (so *StateObject) ShaderIdentifier(name string) []byte {
	id, ok := so.ids[name]
	if !ok {
		return nil
	}
	return append([]byte(nil), id...)
}

// ExportForIdentifier maps a shader identifier back to its export.
func (so *StateObject) ExportForIdentifier(id []byte) (string, bool) {
	if len(id) < ShaderIdentifierSize {
		return "", false
	}
	var key [ShaderIdentifierSize]byte
	copy(key[:], id)
	name, ok := so.byID[key]
	return name, ok
}

// ExportKind reports the kind of a library export.
func (so *StateObject) ExportKind(name string) (ShaderKind, bool) {
	k, ok := so.exports[name]
	return k, ok
}

// IsHitGroup reports whether name is a hit group of the state object.
func (so *StateObject) IsHitGroup(name string) bool {
	_, ok := so.hitGroups[name]
	return ok
}

// LocalRootSignature returns the local signature associated with an
// export or hit group, or nil.
func (so *StateObject) LocalRootSignature(name string) *RootSignature { return so.local[name] }

// GlobalRootSignature returns the global signature.
func (so *StateObject) GlobalRootSignature() *RootSignature { return so.global }

// ShaderConfig returns the payload and attribute limits.
func (so *StateObject) ShaderConfig() ShaderConfig { return so.config }

// MaxTraceRecursionDepth returns the recursion cap.
func (so *StateObject) MaxTraceRecursionDepth() uint32 { return so.recursion }

// Release destroys the fallback pipelines.
func (so *StateObject) Release() {
	d := so.dev.hal
	for name, p := range so.pipelines {
		d.DestroyComputePipeline(p)
		delete(so.pipelines, name)
	}
	for _, m := range so.modules {
		d.DestroyShaderModule(m)
	}
	so.modules = nil
	if so.layout != nil {
		d.DestroyPipelineLayout(so.layout)
		so.layout = nil
	}
	if so.bgl != nil {
		d.DestroyBindGroupLayout(so.bgl)
		so.bgl = nil
	}
}
