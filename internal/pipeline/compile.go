// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/logging"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

//go:embed shaders/raytrace.wgsl
var defaultShaderSource string

// DefaultShaderName is the name the embedded shader compiles under.
const DefaultShaderName = "raytrace.wgsl"

// DefaultShader returns the embedded WGSL source.
func DefaultShader() string { return defaultShaderSource }

// Library is a compiled shader library.
type Library struct {
	Name string

	// SPIRV holds the little-endian SPIR-V words.
	SPIRV []uint32

	// Exports lists the known exports the module defines, in the order of
	// exportKinds.
	Exports []dxr.ExportDesc
}

// Export names.
const (
	RaygenShader     = "MyRaygenShader"
	MissShader       = "MyMissShader"
	ClosestHitShader = "MyClosestHitShader"
	HitGroup         = "MyHitGroup"
)

// exportKinds lists the library exports the pipeline declares.
var exportKinds = []dxr.ExportDesc{
	{Name: RaygenShader, Kind: dxr.ShaderKindRayGeneration},
	{Name: MissShader, Kind: dxr.ShaderKindMiss},
	{Name: ClosestHitShader, Kind: dxr.ShaderKindClosestHit},
}

// ReadSource reads a shader file and decodes it to UTF-8. A UTF-8 or
// UTF-16 byte order mark selects the encoding; without one the file is
// taken as UTF-8.
func ReadSource(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("pipeline: read shader: %w", err)
	}
	return decodeSource(raw)
}

func decodeSource(raw []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", fmt.Errorf("pipeline: decode shader: %w", err)
	}
	return string(out), nil
}

// CompileLibrary compiles WGSL source to a SPIR-V library. Any parse,
// lowering or validation diagnostic aborts with dxr.ErrCompilation; no
// partial library is returned.
func CompileLibrary(name, source string) (*Library, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dxr.ErrCompilation, name, err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dxr.ErrCompilation, name, err)
	}
	diags, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dxr.ErrCompilation, name, err)
	}
	if len(diags) > 0 {
		msgs := make([]string, len(diags))
		for i, d := range diags {
			msgs[i] = d.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", dxr.ErrCompilation, name, strings.Join(msgs, "; "))
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dxr.ErrCompilation, name, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: %s: SPIR-V of %d bytes", dxr.ErrCompilation, name, len(code))
	}

	lib := &Library{
		Name:    name,
		SPIRV:   spirvWords(code),
		Exports: discoverExports(module),
	}
	logging.Logger().Debug("pipeline: library compiled", "name", name, "words", len(lib.SPIRV), "exports", len(lib.Exports))
	return lib, nil
}

// discoverExports returns the known exports defined by module. The ray
// generation shader must be a compute entry point; miss and closest hit
// shaders may be entry points or plain functions.
func discoverExports(module *ir.Module) []dxr.ExportDesc {
	defined := make(map[string]bool)
	for _, ep := range module.EntryPoints {
		if ep.Name == RaygenShader && ep.Stage != ir.StageCompute {
			continue
		}
		defined[ep.Name] = true
	}
	for _, fn := range module.Functions {
		if fn.Name != RaygenShader {
			defined[fn.Name] = true
		}
	}

	var out []dxr.ExportDesc
	for _, e := range exportKinds {
		if defined[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

// spirvWords converts SPIR-V bytes to little-endian 32-bit words.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}
