package raytrace

import (
	"errors"

	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
)

// Errors returned by the engine. Every error is wrapped with context; test
// for a kind with errors.Is.
var (
	// ErrAllocation is returned when a GPU buffer cannot be created.
	ErrAllocation = dxr.ErrAllocation

	// ErrCompilation is returned when the shader library fails to compile.
	ErrCompilation = dxr.ErrCompilation

	// ErrPipelineAssembly is returned when root signatures, the state
	// object or the shader tables cannot be assembled.
	ErrPipelineAssembly = dxr.ErrPipelineAssembly

	// ErrNoRaytracing is returned when native raytracing is required with
	// WithRequireNativeRaytracing but no driver is present.
	ErrNoRaytracing = dxr.ErrNoRaytracing

	// ErrHeapFull is returned when the descriptor heap runs out of slots.
	ErrHeapFull = descriptor.ErrHeapFull

	// ErrInvalidBufferDesc is returned for an invalid heap, flag and
	// state combination.
	ErrInvalidBufferDesc = alloc.ErrInvalidBufferDesc

	// ErrMissingBarrier is returned when an acceleration structure is read
	// before a UAV barrier on its result.
	ErrMissingBarrier = dxr.ErrMissingBarrier

	// ErrWaitTimeout is returned when a fence wait exceeds the configured
	// wait timeout.
	ErrWaitTimeout = dxr.ErrWaitTimeout

	// ErrNotInitialized is returned by Render before Init succeeded or
	// after Close.
	ErrNotInitialized = errors.New("raytrace: engine not initialized")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("raytrace: invalid configuration")
)
