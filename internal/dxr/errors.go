package dxr

import "errors"

// Error taxonomy shared by every layer of the module. The root package
// re-exports these values.
var (
	// ErrAllocation means the device could not satisfy a resource creation
	// request.
	ErrAllocation = errors.New("dxr: resource allocation failed")

	// ErrCompilation means shader source failed to compile.
	ErrCompilation = errors.New("dxr: shader compilation failed")

	// ErrPipelineAssembly means a state object or root signature description
	// is malformed or inconsistent.
	ErrPipelineAssembly = errors.New("dxr: pipeline assembly failed")

	// ErrNoRaytracing means a native raytracing driver was required but is
	// not present.
	ErrNoRaytracing = errors.New("dxr: native raytracing not available")

	// ErrInvalidBuildInputs means an acceleration structure prebuild or build
	// description is malformed.
	ErrInvalidBuildInputs = errors.New("dxr: invalid acceleration structure inputs")

	// ErrInvalidAddress means a GPU virtual address does not resolve to a
	// live buffer.
	ErrInvalidAddress = errors.New("dxr: invalid GPU virtual address")

	// ErrMissingBarrier means an acceleration structure was read before a
	// UAV barrier made its build visible.
	ErrMissingBarrier = errors.New("dxr: acceleration structure read without UAV barrier")

	// ErrWaitTimeout means a fence wait was cut short by its context
	// deadline.
	ErrWaitTimeout = errors.New("dxr: fence wait timed out")

	// ErrCommandListClosed means a command was recorded on a list that has
	// already been executed and not reset.
	ErrCommandListClosed = errors.New("dxr: command list is closed")

	// ErrMissingBinding means a dispatch was recorded without the pipeline
	// state or a root parameter it needs.
	ErrMissingBinding = errors.New("dxr: required binding not set")

	// ErrInvalidShaderRecord means a shader table record is misaligned, too
	// small or carries an unknown identifier.
	ErrInvalidShaderRecord = errors.New("dxr: invalid shader record")
)
