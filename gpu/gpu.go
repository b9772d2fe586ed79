//go:build !nogpu

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/imageflow"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Device is an opened HAL device plus the instance that owns it.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits
}

// Open creates an instance on the Vulkan backend, picks an adapter, and
// opens it. The returned Device feeds a render context through Options.
func Open(opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapters
	}
	selected := pickAdapter(adapters)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), cfg.limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	imageflow.Logger().Info("gpu device opened", "adapter", selected.Info.Name)
	return &Device{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		limits:   cfg.limits,
	}, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then
// whatever the instance listed first.
func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			return &adapters[i]
		}
	}
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

// Options returns the context options that attach this device. The
// returned set includes a closer, so the context owns the device from
// then on: closing the context closes the device.
func (d *Device) Options() []imageflow.ContextOption {
	return []imageflow.ContextOption{
		imageflow.WithDevice(d.device, d.queue),
		imageflow.WithLimits(d.limits),
		imageflow.WithCloser(d.Close),
	}
}

// Close destroys the device and its instance. Safe to call more than
// once, and safe alongside the context-owned close from Options.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		d.device.Destroy()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
	return nil
}
