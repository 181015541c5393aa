package raytrace

import (
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/raytrace/internal/frame"
	"github.com/gogpu/wgpu/hal"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// Headless engine on the default Vulkan backend
//	e, err := raytrace.New()
//
//	// Share the device of a host application
//	e, err := raytrace.New(raytrace.WithDeviceProvider(app), raytrace.WithWindow(app))
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	cfg       Config
	provider  gpucontext.DeviceProvider
	halDevice hal.Device
	halQueue  hal.Queue
	window    gpucontext.WindowProvider
	swapchain frame.Swapchain
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{cfg: DefaultConfig()}
}

// WithConfig replaces every file-configurable setting. Options applied
// after it override single fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithBackend selects the hal backend by name. Ignored when a device is
// supplied with WithDeviceProvider or WithHAL.
func WithBackend(name string) Option {
	return func(o *options) {
		o.cfg.Backend = name
	}
}

// WithDeviceProvider shares the GPU device of a host application instead
// of opening one. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithHAL uses an already opened hal device and queue. The engine does not
// destroy them on Close.
func WithHAL(device hal.Device, queue hal.Queue) Option {
	return func(o *options) {
		o.halDevice = device
		o.halQueue = queue
	}
}

// WithWindow takes the render extent from the window's physical size.
func WithWindow(w gpucontext.WindowProvider) Option {
	return func(o *options) {
		o.window = w
	}
}

// WithSwapchain presents through s instead of an OffscreenSwapchain. The
// buffer count follows s.
func WithSwapchain(s frame.Swapchain) Option {
	return func(o *options) {
		o.swapchain = s
	}
}

// WithShaderPath compiles the WGSL file at path instead of the embedded
// shader.
func WithShaderPath(path string) Option {
	return func(o *options) {
		o.cfg.ShaderPath = path
	}
}

// WithForceFallback selects the compute fallback even on a native driver.
func WithForceFallback(force bool) Option {
	return func(o *options) {
		o.cfg.ForceFallback = force
	}
}

// WithRequireNativeRaytracing makes New fail with ErrNoRaytracing when no
// native raytracing driver is present.
func WithRequireNativeRaytracing(require bool) Option {
	return func(o *options) {
		o.cfg.RequireNativeRaytracing = require
	}
}

// WithBufferCount sets the number of back buffers and frames in flight.
func WithBufferCount(n int) Option {
	return func(o *options) {
		o.cfg.BufferCount = n
	}
}

// WithDescriptorCapacity sets the descriptor heap size.
func WithDescriptorCapacity(n uint32) Option {
	return func(o *options) {
		o.cfg.DescriptorCapacity = n
	}
}

// WithWaitTimeout bounds every fence wait. Zero waits forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.WaitTimeout = Duration{d}
	}
}

// WithSize sets the render extent when no window is given.
func WithSize(width, height uint32) Option {
	return func(o *options) {
		o.cfg.Width = width
		o.cfg.Height = height
	}
}

// WithSubdivisions sets the icosphere subdivision level.
func WithSubdivisions(n int) Option {
	return func(o *options) {
		o.cfg.Subdivisions = n
	}
}
