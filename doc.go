// Package raytrace renders a mesh with DXR-style hardware raytracing on top
// of the gogpu/wgpu hal layer.
//
// # Overview
//
// An Engine builds a bottom-level acceleration structure over an icosphere,
// wraps it in a one-instance top-level structure, compiles a raytracing
// pipeline from WGSL with a global and a local root signature, writes one
// shader record per table and dispatches rays once per frame.
//
// When the hal device exposes a native raytracing driver the work is
// forwarded to it. Otherwise a compute fallback builds the hierarchies on
// the host and traces them in a compute shader. The strategy is chosen once
// in New.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/raytrace"
//	    _ "github.com/gogpu/wgpu/hal/vulkan"
//	)
//
//	e, err := raytrace.New(raytrace.WithSize(1280, 720))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	if err := e.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	for running {
//	    if err := e.Render(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Architecture
//
// The library is organized into:
//   - Public API: Engine, Config, options, OffscreenSwapchain
//   - internal/dxr: device, command lists, fences, root signatures, state objects
//   - internal/alloc, internal/descriptor: buffers and the descriptor heap
//   - internal/accel, internal/bvh: acceleration structure builds
//   - internal/pipeline, internal/shadertable: pipeline and shader records
//   - internal/frame: per-frame dispatch and fence pacing
//   - internal/logging: the logger shared by the internal packages
//
// # Errors
//
// Every error wraps one of the sentinels in this package; test with
// errors.Is.
package raytrace

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
