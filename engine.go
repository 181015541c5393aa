// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raytrace

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/internal/accel"
	"github.com/gogpu/raytrace/internal/alloc"
	"github.com/gogpu/raytrace/internal/descriptor"
	"github.com/gogpu/raytrace/internal/dxr"
	"github.com/gogpu/raytrace/internal/frame"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/shadertable"
	"github.com/gogpu/raytrace/mesh"
)

// Engine renders one icosphere with raytracing.
//
// Lifecycle:
//  1. New opens or adopts a device and selects the raytracing strategy
//  2. Init builds the acceleration structures, the pipeline and the shader
//     tables
//  3. Render is called once per frame
//  4. Close waits for the GPU and releases everything
//
// Engine is not safe for concurrent use.
type Engine struct {
	cfg       Config
	gpu       *gpuDevice
	dev       *dxr.Device
	alloc     *alloc.Allocator
	heap      *descriptor.Heap
	swapchain frame.Swapchain
	width     uint32
	height    uint32

	output *frame.Output
	scene  *accel.Scene
	state  *pipeline.State
	tables *shadertable.Tables
	sync   *frame.Sync
	loop   *frame.Loop

	initialized bool
	closed      bool
}

// New creates an engine. Without WithHAL or WithDeviceProvider it opens a
// standalone device on the configured backend, whose package must be
// linked in.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.swapchain != nil {
		o.cfg.BufferCount = o.swapchain.BufferCount()
	}
	if o.window != nil {
		w, h := o.window.Size()
		scale := o.window.ScaleFactor()
		o.cfg.Width = uint32(float64(max(w, 0)) * scale)
		o.cfg.Height = uint32(float64(max(h, 0)) * scale)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	swapchain := o.swapchain
	if swapchain == nil {
		ring, err := NewOffscreenSwapchain(o.cfg.BufferCount)
		if err != nil {
			return nil, err
		}
		swapchain = ring
	}

	gpu, err := openDevice(&o)
	if err != nil {
		return nil, err
	}
	dev, err := dxr.New(gpu.device, gpu.queue,
		dxr.WithForceFallback(o.cfg.ForceFallback),
		dxr.WithRequireNative(o.cfg.RequireNativeRaytracing))
	if err != nil {
		gpu.destroy()
		return nil, fmt.Errorf("raytrace: create device: %w", err)
	}

	slogger().Info("raytrace: engine created",
		"adapter", gpu.name, "mode", dev.Mode(), "width", o.cfg.Width, "height", o.cfg.Height)
	return &Engine{
		cfg:       o.cfg,
		gpu:       gpu,
		dev:       dev,
		alloc:     alloc.New(dev, alloc.Config{BudgetBytes: o.cfg.MemoryBudget}),
		heap:      descriptor.NewHeap(o.cfg.DescriptorCapacity),
		swapchain: swapchain,
		width:     o.cfg.Width,
		height:    o.cfg.Height,
	}, nil
}

// Config returns the effective settings.
func (e *Engine) Config() Config { return e.cfg }

// Mode returns the raytracing strategy chosen at creation.
func (e *Engine) Mode() dxr.Mode { return e.dev.Mode() }

// UsingRaytracingDriver reports whether a native raytracing driver is in
// use.
func (e *Engine) UsingRaytracingDriver() bool { return e.dev.UsingRaytracingDriver() }

// Size returns the render extent.
func (e *Engine) Size() (width, height uint32) { return e.width, e.height }

// Frames returns the number of frames rendered.
func (e *Engine) Frames() uint64 {
	if e.loop == nil {
		return 0
	}
	return e.loop.Frames()
}

// Init records and executes the scene build, waits for it and prepares
// the pipeline, the shader tables and the frame loop. On failure every
// resource created so far is released.
func (e *Engine) Init(ctx context.Context) (err error) {
	if e.closed {
		return ErrNotInitialized
	}
	if e.initialized {
		return nil
	}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	e.output, err = frame.NewOutput(e.alloc, e.heap, e.width, e.height)
	if err != nil {
		return fmt.Errorf("raytrace: create output: %w", err)
	}

	cl, err := e.dev.CreateCommandList("scene build")
	if err != nil {
		return fmt.Errorf("raytrace: create command list: %w", err)
	}
	defer cl.Release()

	geom := accel.Geometry{Label: "icosphere", Vertices: mesh.Icosphere(e.cfg.Subdivisions)}
	e.scene, err = accel.NewBuilder(e.alloc, e.heap).BuildScene(cl, geom)
	if err != nil {
		return fmt.Errorf("raytrace: build scene: %w", err)
	}
	if err := e.dev.ExecuteCommandList(cl); err != nil {
		return fmt.Errorf("raytrace: execute scene build: %w", err)
	}

	e.sync, err = frame.NewSync(e.dev, e.swapchain.BufferCount(), e.swapchain.CurrentBackBufferIndex(),
		e.cfg.WaitTimeout.Duration)
	if err != nil {
		return fmt.Errorf("raytrace: create fence: %w", err)
	}
	if err := e.sync.WaitForGPU(ctx); err != nil {
		return fmt.Errorf("raytrace: wait for scene build: %w", err)
	}
	e.scene.ReleaseScratch()

	compiler := pipeline.NewCompiler(e.dev)
	if e.cfg.ShaderPath != "" {
		e.state, err = compiler.Compile(e.cfg.ShaderPath)
	} else {
		e.state, err = compiler.CompileSource(pipeline.DefaultShaderName, pipeline.DefaultShader())
	}
	if err != nil {
		return fmt.Errorf("raytrace: compile pipeline: %w", err)
	}

	e.tables, err = shadertable.Build(e.alloc, e.state, shadertable.FullScreen)
	if err != nil {
		return fmt.Errorf("raytrace: build shader tables: %w", err)
	}

	e.loop, err = frame.NewLoop(e.dev, e.sync, e.swapchain, frame.Resources{
		Heap:   e.heap,
		State:  e.state,
		Tables: e.tables,
		Output: e.output,
		Scene:  e.scene.TLASAddress(),
	})
	if err != nil {
		return fmt.Errorf("raytrace: create frame loop: %w", err)
	}

	e.initialized = true
	slogger().Info("raytrace: initialized",
		"triangles", e.scene.VertexCount/3, "descriptors", e.heap.Used(), "memory", e.alloc.Stats())
	return nil
}

// Render draws and presents one frame.
func (e *Engine) Render(ctx context.Context) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.loop.Render(ctx)
}

// Close waits for in-flight frames and releases every resource. It is
// safe to call more than once.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	var err error
	if e.sync != nil {
		if werr := e.sync.WaitForGPU(context.Background()); werr != nil {
			slogger().Warn("raytrace: wait on close failed", "error", werr)
			err = fmt.Errorf("raytrace: close: %w", werr)
		}
	}
	e.release()
	e.gpu.destroy()
	e.closed = true
	return err
}

func (e *Engine) release() {
	e.initialized = false
	if e.loop != nil {
		e.loop.Release()
		e.loop = nil
	}
	if e.tables != nil {
		e.tables.Release()
		e.tables = nil
	}
	if e.state != nil {
		e.state.Release()
		e.state = nil
	}
	if e.scene != nil {
		e.scene.Release()
		e.scene = nil
	}
	if e.output != nil {
		e.output.Release()
		e.output = nil
	}
	e.sync = nil
}

// PrebuildSizes are the buffer sizes of one acceleration structure.
type PrebuildSizes struct {
	Result  uint64
	Scratch uint64
}

// Info describes the resources an engine uses.
type Info struct {
	Adapter            string
	Mode               string
	Width, Height      uint32
	Triangles          int
	BLAS, TLAS         PrebuildSizes
	DescriptorsUsed    uint32
	DescriptorCapacity uint32
	ShaderRecordSize   uint64
	Memory             alloc.Stats
}

// Info reports sizes for the configured scene. Prebuild sizes are queried
// without allocating, so Info works before Init.
func (e *Engine) Info() (Info, error) {
	blas, tlas, err := accel.NewBuilder(e.alloc, e.heap).Prebuild(accel.Geometry{
		Vertices: mesh.Icosphere(e.cfg.Subdivisions),
	})
	if err != nil {
		return Info{}, fmt.Errorf("raytrace: prebuild: %w", err)
	}
	return Info{
		Adapter:            e.gpu.name,
		Mode:               e.dev.Mode().String(),
		Width:              e.width,
		Height:             e.height,
		Triangles:          mesh.TriangleCount(e.cfg.Subdivisions),
		BLAS:               PrebuildSizes{blas.ResultDataMaxSizeInBytes, blas.ScratchDataSizeInBytes},
		TLAS:               PrebuildSizes{tlas.ResultDataMaxSizeInBytes, tlas.ScratchDataSizeInBytes},
		DescriptorsUsed:    e.heap.Used(),
		DescriptorCapacity: e.heap.Capacity(),
		ShaderRecordSize:   shadertable.RecordSize(shadertable.RootArgumentsSize),
		Memory:             e.alloc.Stats(),
	}, nil
}

// IsFatal reports whether err leaves the engine unusable. Timeouts are not
// fatal; the frame can be retried.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrWaitTimeout)
}
