package raytrace

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// gpuDevice is the hal device the engine runs on. Devices opened by the
// engine are owned and destroyed on Close; shared ones are not.
type gpuDevice struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	owned    bool
}

func (g *gpuDevice) destroy() {
	if g.owned && g.device != nil {
		g.device.Destroy()
	}
	if g.instance != nil {
		g.instance.Destroy()
	}
	g.device, g.queue, g.instance = nil, nil, nil
}

// openDevice resolves the device from the options: an explicit hal pair,
// then a device provider, then a standalone device on the configured
// backend.
func openDevice(o *options) (*gpuDevice, error) {
	switch {
	case o.halDevice != nil || o.halQueue != nil:
		if o.halDevice == nil || o.halQueue == nil {
			return nil, errors.New("raytrace: WithHAL needs both a device and a queue")
		}
		return &gpuDevice{device: o.halDevice, queue: o.halQueue, name: "external"}, nil
	case o.provider != nil:
		return deviceFromProvider(o.provider)
	}
	backend, err := ParseBackend(o.cfg.Backend)
	if err != nil {
		return nil, err
	}
	return openBackend(backend)
}

// deviceFromProvider extracts hal types from a host application. Providers
// expose them through HalDevice/HalQueue or directly as the device tokens.
func deviceFromProvider(provider gpucontext.DeviceProvider) (*gpuDevice, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var dev, queue any
	if hp, ok := provider.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	} else {
		dev, queue = provider.Device(), provider.Queue()
	}
	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("raytrace: provider device %T is not hal.Device", dev)
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return nil, fmt.Errorf("raytrace: provider queue %T is not hal.Queue", queue)
	}
	return &gpuDevice{device: device, queue: q, name: provider.AdapterInfo().Name}, nil
}

// openBackend creates a standalone device, preferring a discrete or
// integrated GPU over other adapters.
func openBackend(backend gputypes.Backend) (*gpuDevice, error) {
	instance, adapters, err := enumerate(backend)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("raytrace: no %s adapters found", backend)
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("raytrace: open device: %w", err)
	}
	slogger().Info("raytrace: GPU initialized",
		"backend", backend, "adapter", selected.Info.Name, "type", selected.Info.DeviceType)
	return &gpuDevice{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		name:     selected.Info.Name,
		owned:    true,
	}, nil
}

func enumerate(backend gputypes.Backend) (hal.Instance, []hal.ExposedAdapter, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, nil, fmt.Errorf("raytrace: %s backend not available", backend)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("raytrace: create instance: %w", err)
	}
	return instance, instance.EnumerateAdapters(nil), nil
}

// Adapters lists the adapters of the named backend. The backend package
// must be linked in, for example with a blank import of hal/vulkan.
func Adapters(backendName string) ([]gputypes.AdapterInfo, error) {
	backend, err := ParseBackend(backendName)
	if err != nil {
		return nil, err
	}
	instance, adapters, err := enumerate(backend)
	if err != nil {
		return nil, err
	}
	defer instance.Destroy()

	infos := make([]gputypes.AdapterInfo, len(adapters))
	for i := range adapters {
		infos[i] = adapters[i].Info
	}
	return infos, nil
}
