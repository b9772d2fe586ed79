package imageflow

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ContextOption configures a RenderContext during creation.
// Use functional options to customize context behavior.
//
// Example:
//
//	// Logical mode (no GPU; protocol only)
//	ctx := imageflow.NewRenderContext()
//
//	// Attached to a device opened elsewhere (dependency injection)
//	ctx := imageflow.NewRenderContext(imageflow.WithDevice(dev, queue))
type ContextOption func(*contextOptions)

// contextOptions holds optional configuration for RenderContext creation.
type contextOptions struct {
	device             hal.Device
	gpuQueue           hal.Queue
	limits             gputypes.Limits
	cacheSoftThreshold int
	closers            []func() error
}

// defaultContextOptions returns the default context options.
func defaultContextOptions() contextOptions {
	return contextOptions{
		device:             nil, // Logical mode unless a device option is given
		limits:             gputypes.DefaultLimits(),
		cacheSoftThreshold: defaultCacheSoftThreshold,
	}
}

// WithDevice attaches an already-opened HAL device and submission queue.
// Pass the device's negotiated limits via WithLimits when they differ
// from the defaults.
func WithDevice(device hal.Device, queue hal.Queue) ContextOption {
	return func(o *contextOptions) {
		o.device = device
		o.gpuQueue = queue
	}
}

// halProvider is the optional interface a DeviceProvider implements to
// expose its raw HAL handles.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// WithDeviceProvider attaches GPU handles from a gpucontext.DeviceProvider,
// such as one obtained from a windowing integration. Providers that do not
// expose HAL handles leave the context in logical mode.
func WithDeviceProvider(provider gpucontext.DeviceProvider) ContextOption {
	return func(o *contextOptions) {
		hp, ok := provider.(halProvider)
		if !ok {
			Logger().Warn("device provider does not expose HAL handles; running logical")
			return
		}
		dev, ok := hp.HalDevice().(hal.Device)
		if !ok {
			Logger().Warn("device provider returned non-HAL device; running logical")
			return
		}
		queue, ok := hp.HalQueue().(hal.Queue)
		if !ok {
			Logger().Warn("device provider returned non-HAL queue; running logical")
			return
		}
		o.device = dev
		o.gpuQueue = queue
	}
}

// WithLimits overrides the device limits the context validates texture
// sizes against. Defaults to gputypes.DefaultLimits().
func WithLimits(limits gputypes.Limits) ContextOption {
	return func(o *contextOptions) {
		o.limits = limits
	}
}

// WithCacheSoftThreshold sets the pooled-framebuffer count above which the
// cache logs a warning. Zero disables the warning.
func WithCacheSoftThreshold(n int) ContextOption {
	return func(o *contextOptions) {
		o.cacheSoftThreshold = n
	}
}

// WithCloser registers a teardown function to run during Close, after the
// render queue drains. Device bootstrap code uses this to tie instance
// teardown to the context lifecycle. May be given multiple times; closers
// run in registration order and their errors are aggregated.
func WithCloser(fn func() error) ContextOption {
	return func(o *contextOptions) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// WithoutDevice clears any previously attached device, forcing logical
// mode. Useful for tests that exercise pipeline protocol against a
// production option set.
func WithoutDevice() ContextOption {
	return func(o *contextOptions) {
		o.device = nil
		o.gpuQueue = nil
	}
}
