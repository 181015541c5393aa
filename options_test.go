package raytrace

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.cfg != DefaultConfig() {
		t.Errorf("defaultOptions().cfg = %+v", o.cfg)
	}
	if o.provider != nil || o.halDevice != nil || o.window != nil || o.swapchain != nil {
		t.Error("default options should not carry collaborators")
	}
}

func TestOptionsOverrideConfig(t *testing.T) {
	o := defaultOptions()
	base := DefaultConfig()
	base.Backend = "noop"
	base.Subdivisions = 1
	for _, opt := range []Option{
		WithConfig(base),
		WithBufferCount(3),
		WithDescriptorCapacity(64),
		WithWaitTimeout(time.Second),
		WithShaderPath("scene.wgsl"),
		WithForceFallback(true),
		WithSize(320, 200),
	} {
		opt(&o)
	}

	c := o.cfg
	if c.Backend != "noop" || c.Subdivisions != 1 {
		t.Errorf("WithConfig fields lost: %+v", c)
	}
	if c.BufferCount != 3 || c.DescriptorCapacity != 64 || c.WaitTimeout.Duration != time.Second {
		t.Errorf("single-field options not applied: %+v", c)
	}
	if c.ShaderPath != "scene.wgsl" || !c.ForceFallback || c.Width != 320 || c.Height != 200 {
		t.Errorf("options not applied: %+v", c)
	}
}
