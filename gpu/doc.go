// Package gpu opens a real HAL device for imageflow render contexts.
//
// The root imageflow package is backend-agnostic: without a device it
// runs in logical mode, and callers attach GPU handles through context
// options. This package is the stock way to produce those handles:
//
//	dev, err := gpu.Open()
//	if err != nil {
//		// fall back to logical mode
//	}
//	ctx := imageflow.NewRenderContext(dev.Options()...)
//	defer ctx.Close() // tears the device down too
//
// Open registers the Vulkan backend, enumerates adapters preferring
// discrete over integrated GPUs, and opens the device with default
// limits. Build with the nogpu tag to compile the package out; Open
// then fails with ErrUnavailable and callers keep their logical-mode
// fallback path.
package gpu
