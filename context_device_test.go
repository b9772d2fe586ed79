package imageflow

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice opens a device on the noop backend so the device code
// paths can run without GPU hardware. Returns the device, queue, and a
// cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newDeviceTestContext(t *testing.T) *RenderContext {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	ctx := NewRenderContext(WithDevice(device, queue))
	t.Cleanup(func() {
		_ = ctx.Close()
		cleanup()
	})
	return ctx
}

func createNoopTexture(t *testing.T, ctx *RenderContext, size Size) hal.Texture {
	t.Helper()
	tex, err := ctx.Device().CreateTexture(&hal.TextureDescriptor{
		Label:         "test texture",
		Size:          hal.Extent3D{Width: uint32(size.Width), Height: uint32(size.Height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	t.Cleanup(func() { ctx.Device().DestroyTexture(tex) })
	return tex
}

func TestContextCarriesDevice(t *testing.T) {
	ctx := newDeviceTestContext(t)
	if ctx.Device() == nil {
		t.Fatal("expected a device on the context")
	}
	if ctx.Queue() == nil {
		t.Fatal("expected a queue on the context")
	}
}

func TestFramebufferAllocatesTextureAndView(t *testing.T) {
	ctx := newDeviceTestContext(t)

	ctx.Sync(func() {
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 64, Height: 64}, false)
		if fb.Texture() == nil {
			t.Error("expected a device texture")
		}
		if fb.TextureView() == nil {
			t.Error("expected a texture view")
		}
		fb.Lock()
		fb.Unlock()
	})

	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Fatalf("IdleCount() = %d, want 1", got)
	}
	ctx.PurgeOnLowMemory()
	if got := ctx.FramebufferCache().IdleCount(); got != 0 {
		t.Fatalf("IdleCount() after purge = %d, want 0", got)
	}
}

func TestTextureOnlyFramebufferIsSamplable(t *testing.T) {
	ctx := newDeviceTestContext(t)

	// Upload targets cannot be rendered into, but downstream operations
	// still sample them, so the view must exist.
	ctx.Sync(func() {
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 32, Height: 32}, true)
		if fb.TextureView() == nil {
			t.Error("texture-only framebuffer needs a sampling view")
		}
		fb.Lock()
		fb.Unlock()
	})
}

func TestWrappedTextureGetsSamplingView(t *testing.T) {
	ctx := newDeviceTestContext(t)
	tex := createNoopTexture(t, ctx, Size{Width: 16, Height: 16})

	props := DefaultFramebufferProperties(Portrait, Size{Width: 16, Height: 16})
	props.TextureOnly = true
	fb, err := NewFramebufferWithTexture(ctx, props, tex)
	if err != nil {
		t.Fatalf("NewFramebufferWithTexture: %v", err)
	}
	if fb.TextureView() == nil {
		t.Fatal("expected a view over the wrapped texture")
	}

	// Destroy releases the view but leaves the wrapped texture to its
	// owner.
	ctx.Sync(fb.Destroy)
	if fb.Texture() != nil {
		t.Error("handles should be cleared after Destroy")
	}
}

func TestCameraZeroCopyReleasesAfterFanOut(t *testing.T) {
	ctx := newDeviceTestContext(t)
	tex := createNoopTexture(t, ctx, Size{Width: 16, Height: 16})

	cam := NewCamera(ctx)
	defer cam.Close()

	var released bool
	ok := cam.PushFrame(CameraFrame{
		Texture:     tex,
		Size:        Size{Width: 16, Height: 16},
		Orientation: Portrait,
		Release:     func() { released = true },
	})
	if !ok {
		t.Fatal("PushFrame rejected a valid frame")
	}

	ctx.Sync(func() {})
	if !released {
		t.Error("Release must run once every consumer has let go of the frame")
	}
}
