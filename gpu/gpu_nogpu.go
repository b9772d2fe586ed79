//go:build nogpu

package gpu

import "github.com/gogpu/imageflow"

// Device is a placeholder in nogpu builds; Open never produces one.
type Device struct{}

// Open fails: the package was compiled with the nogpu build tag.
func Open(opts ...Option) (*Device, error) {
	return nil, ErrUnavailable
}

// Options returns nothing in nogpu builds.
func (d *Device) Options() []imageflow.ContextOption { return nil }

// Close is a no-op in nogpu builds.
func (d *Device) Close() error { return nil }
