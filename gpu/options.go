package gpu

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Device open errors.
var (
	// ErrNoBackend is returned when no Vulkan backend is registered.
	ErrNoBackend = errors.New("gpu: vulkan backend not available")

	// ErrNoAdapters is returned when the instance exposes no adapters.
	ErrNoAdapters = errors.New("gpu: no GPU adapters found")

	// ErrUnavailable is returned by Open when the package was compiled
	// with the nogpu build tag.
	ErrUnavailable = errors.New("gpu: built without GPU support")
)

// Option configures Open.
type Option func(*config)

type config struct {
	limits gputypes.Limits
}

func defaultConfig() config {
	return config{limits: gputypes.DefaultLimits()}
}

// WithLimits requests non-default device limits when opening the
// adapter. The same limits are handed to the render context so its
// texture-size validation matches the device.
func WithLimits(limits gputypes.Limits) Option {
	return func(c *config) { c.limits = limits }
}
