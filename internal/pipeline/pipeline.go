// Package pipeline compiles the raytracing shader library, declares the
// global and local root signatures and assembles the state object.
package pipeline

import (
	"fmt"

	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
)

// Shader configuration of the pipeline.
const (
	MaxPayloadSizeInBytes   = 4
	MaxAttributeSizeInBytes = 8
	MaxTraceRecursionDepth  = 2

	// LocalRootConstants is the number of 32-bit root constants of the
	// local signature: two float4 rectangles.
	LocalRootConstants = 8
)

// Root parameter indices of the global root signature.
const (
	GlobalParamOutputTable = 0
	GlobalParamScene       = 1
)

// State is a compiled raytracing pipeline.
type State struct {
	Library     *Library
	StateObject *dxr.StateObject
	Global      *dxr.RootSignature
	Local       *dxr.RootSignature
}

// Release destroys the state object.
func (s *State) Release() {
	if s.StateObject != nil {
		s.StateObject.Release()
		s.StateObject = nil
	}
}

// Compiler builds pipelines on one device. Compiled libraries are cached
// by source content, so rebuilding a pipeline from unchanged source skips
// shader compilation.
type Compiler struct {
	dev  *dxr.Device
	libs *libraryCache
}

// NewCompiler creates a compiler for dev.
func NewCompiler(dev *dxr.Device) *Compiler {
	return &Compiler{dev: dev, libs: newLibraryCache(DefaultCacheSize)}
}

// CacheStats returns library cache usage.
func (c *Compiler) CacheStats() CacheStats { return c.libs.stats() }

// Compile reads the WGSL file at path and builds the pipeline from it.
func (c *Compiler) Compile(path string) (*State, error) {
	src, err := ReadSource(path)
	if err != nil {
		return nil, err
	}
	return c.CompileSource(path, src)
}

// CompileSource builds the pipeline from in-memory WGSL source.
func (c *Compiler) CompileSource(name, source string) (*State, error) {
	lib, err := c.libs.getOrCompile(name, source)
	if err != nil {
		logging.Logger().Error("pipeline: compilation failed", "shader", name, "err", err)
		return nil, err
	}
	return c.Build(lib)
}

// Build declares the root signatures and creates the state object for lib.
func (c *Compiler) Build(lib *Library) (*State, error) {
	global, err := c.createRootSignature(GlobalRootSignatureDesc())
	if err != nil {
		return nil, fmt.Errorf("pipeline: global root signature: %w", err)
	}
	local, err := c.createRootSignature(LocalRootSignatureDesc())
	if err != nil {
		return nil, fmt.Errorf("pipeline: local root signature: %w", err)
	}

	so, err := c.dev.CreateStateObject(StateObjectDesc(lib, global, local))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logging.Logger().Info("pipeline: state object created", "shader", lib.Name, "exports", len(lib.Exports))
	return &State{Library: lib, StateObject: so, Global: global, Local: local}, nil
}

func (c *Compiler) createRootSignature(desc *dxr.RootSignatureDesc) (*dxr.RootSignature, error) {
	blob, err := dxr.SerializeRootSignature(desc)
	if err != nil {
		return nil, err
	}
	return c.dev.CreateRootSignature(blob)
}

// GlobalRootSignatureDesc declares the bindings shared by every shader: a
// descriptor table with the output UAV at u0 and the scene SRV at t0.
func GlobalRootSignatureDesc() *dxr.RootSignatureDesc {
	return &dxr.RootSignatureDesc{
		Parameters: []dxr.RootParameter{
			GlobalParamOutputTable: {
				Type: dxr.RootParameterDescriptorTable,
				Ranges: []dxr.DescriptorRange{{
					Type:                              dxr.DescriptorRangeUAV,
					NumDescriptors:                    1,
					OffsetInDescriptorsFromTableStart: dxr.DescriptorRangeOffsetAppend,
				}},
			},
			GlobalParamScene: {
				Type:       dxr.RootParameterSRV,
				Descriptor: dxr.RootDescriptor{ShaderRegister: 0},
			},
		},
	}
}

// LocalRootSignatureDesc declares the per-record arguments: eight root
// constants at b0.
func LocalRootSignatureDesc() *dxr.RootSignatureDesc {
	return &dxr.RootSignatureDesc{
		Parameters: []dxr.RootParameter{{
			Type:      dxr.RootParameter32BitConstants,
			Constants: dxr.RootConstants{ShaderRegister: 0, Num32BitValues: LocalRootConstants},
		}},
		Flags: dxr.RootSignatureFlagLocal,
	}
}

// StateObjectDesc returns the eight subobjects of the pipeline. The
// associations always name the three record exports; a library missing
// one of them fails assembly.
func StateObjectDesc(lib *Library, global, local *dxr.RootSignature) *dxr.StateObjectDesc {
	associated := []string{RaygenShader, MissShader, HitGroup}
	return &dxr.StateObjectDesc{
		Label: lib.Name,
		Subobjects: []dxr.Subobject{
			{Type: dxr.SubobjectDXILLibrary, Desc: dxr.DXILLibraryDesc{
				Bytecode: lib.SPIRV,
				Exports:  lib.Exports,
			}},
			{Type: dxr.SubobjectHitGroup, Desc: dxr.HitGroupDesc{
				HitGroupExport:         HitGroup,
				Type:                   dxr.HitGroupTypeTriangles,
				ClosestHitShaderImport: ClosestHitShader,
			}},
			{Type: dxr.SubobjectShaderConfig, Desc: dxr.ShaderConfig{
				MaxPayloadSizeInBytes:   MaxPayloadSizeInBytes,
				MaxAttributeSizeInBytes: MaxAttributeSizeInBytes,
			}},
			{Type: dxr.SubobjectExportsAssociation, Desc: dxr.ExportsAssociation{
				SubobjectToAssociate: 2,
				Exports:              associated,
			}},
			{Type: dxr.SubobjectLocalRootSignature, Desc: dxr.LocalRootSignatureDesc{RootSignature: local}},
			{Type: dxr.SubobjectExportsAssociation, Desc: dxr.ExportsAssociation{
				SubobjectToAssociate: 4,
				Exports:              associated,
			}},
			{Type: dxr.SubobjectGlobalRootSignature, Desc: dxr.GlobalRootSignatureDesc{RootSignature: global}},
			{Type: dxr.SubobjectPipelineConfig, Desc: dxr.PipelineConfig{
				MaxTraceRecursionDepth: MaxTraceRecursionDepth,
			}},
		},
	}
}
