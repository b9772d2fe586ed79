package imageflow

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"go.uber.org/multierr"
)

// Context errors.
var (
	// ErrContextClosed is returned when submitting work to a closed context.
	ErrContextClosed = errors.New("imageflow: render context is closed")

	// ErrReadbackFailed wraps GPU errors during pixel readback.
	ErrReadbackFailed = errors.New("imageflow: texture readback failed")

	// ErrUploadSizeMismatch is returned when uploaded pixel data does not
	// match the framebuffer's dimensions.
	ErrUploadSizeMismatch = errors.New("imageflow: pixel data size does not match framebuffer")
)

// RenderContext owns everything a pipeline shares: the serialized render
// queue, the framebuffer pool, the node graph, the shader store, and the
// GPU device handles. There is no implicit shared context — construct one
// explicitly and pass it to every node constructor.
//
// Without a device option the context runs in logical mode: framebuffers
// carry no GPU storage but the complete pipeline protocol (locking,
// pooling, fan-out, ordering) still operates. Logical mode is how the
// package tests itself and how headless environments run.
type RenderContext struct {
	queue  *serialQueue
	device hal.Device
	gpuQ   hal.Queue
	limits gputypes.Limits

	cache   *FramebufferCache
	graph   *pipelineGraph
	shaders *shaderStore

	closers []func() error
	closed  atomic.Bool
}

// NewRenderContext creates a context. With no options it runs in logical
// mode; pass [WithDevice] or [WithDeviceProvider] to attach a GPU.
func NewRenderContext(opts ...ContextOption) *RenderContext {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &RenderContext{
		queue:   newSerialQueue("imageflow.render"),
		device:  o.device,
		gpuQ:    o.gpuQueue,
		limits:  o.limits,
		closers: o.closers,
	}
	c.cache = newFramebufferCache(c, o.cacheSoftThreshold)
	c.graph = newPipelineGraph()
	c.shaders = newShaderStore()

	mode := "gpu"
	if c.device == nil {
		mode = "logical"
	}
	Logger().Info("render context created", "mode", mode,
		"maxTextureDim", c.limits.MaxTextureDimension2D)
	return c
}

// Sync runs fn on the render queue and waits. Inline when already on the
// queue, so nested calls are safe.
func (c *RenderContext) Sync(fn func()) { c.queue.Sync(fn) }

// Async enqueues fn on the render queue and returns immediately.
func (c *RenderContext) Async(fn func()) { c.queue.Async(fn) }

// OnRenderQueue reports whether the caller is on the render queue.
func (c *RenderContext) OnRenderQueue() bool { return c.queue.OnQueue() }

// FramebufferCache returns the context's framebuffer pool.
func (c *RenderContext) FramebufferCache() *FramebufferCache { return c.cache }

// Device returns the HAL device, or nil in logical mode.
func (c *RenderContext) Device() hal.Device { return c.device }

// Queue returns the HAL submission queue, or nil in logical mode.
func (c *RenderContext) Queue() hal.Queue { return c.gpuQ }

// Limits returns the device limits the context validates against.
func (c *RenderContext) Limits() gputypes.Limits { return c.limits }

// PassthroughShader returns the built-in passthrough program, compiling it
// on first use. Returns nil in logical mode.
func (c *RenderContext) PassthroughShader() *ShaderProgram {
	return c.shaders.passthrough(c.device)
}

// CompileShader returns a cached filter program for the given WGSL source,
// compiling on first use. Programs target the standard RGBA8 framebuffer
// format. Errors in logical mode or from bad source come back to the
// caller; the built-in programs are not affected.
func (c *RenderContext) CompileShader(label, wgsl string) (*ShaderProgram, error) {
	return c.shaders.program(c.device, label, wgsl, gputypes.TextureFormatRGBA8Unorm)
}

// formatBytesPerPixel returns the upload/readback stride for the formats
// the pipeline uses. Unknown formats assume 4.
func formatBytesPerPixel(format gputypes.TextureFormat) int {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// UploadPixels writes tightly packed pixel rows into the framebuffer's
// texture. Data length must equal width*height*bytesPerPixel for the
// buffer's format. In logical mode the call validates and returns nil
// without touching the GPU; sources that need the bytes later keep their
// own copy.
func (c *RenderContext) UploadPixels(fb *Framebuffer, data []byte) error {
	size := fb.Size()
	bpp := formatBytesPerPixel(fb.props.Format)
	if want := size.Width * size.Height * bpp; len(data) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrUploadSizeMismatch, len(data), want)
	}
	if c.device == nil || c.gpuQ == nil || fb.texture == nil {
		return nil
	}

	dst := &hal.ImageCopyTexture{
		Texture:  fb.texture,
		MipLevel: 0,
		Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
		Aspect:   gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(size.Width * bpp),
		RowsPerImage: uint32(size.Height),
	}
	extent := &hal.Extent3D{
		Width:              uint32(size.Width),
		Height:             uint32(size.Height),
		DepthOrArrayLayers: 1,
	}
	c.gpuQ.WriteTexture(dst, data, layout, extent)
	return nil
}

// ReadPixels copies the framebuffer's pixels back to the CPU as tightly
// packed rows. In logical mode it returns a zeroed slice of the correct
// length so downstream consumers keep functioning.
func (c *RenderContext) ReadPixels(fb *Framebuffer) ([]byte, error) {
	size := fb.Size()
	bpp := formatBytesPerPixel(fb.props.Format)
	byteLen := size.Width * size.Height * bpp
	if c.device == nil || c.gpuQ == nil || fb.texture == nil {
		return make([]byte, byteLen), nil
	}

	w, h := uint32(size.Width), uint32(size.Height)

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "imageflow readback encoder",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create encoder: %w", ErrReadbackFailed, err)
	}
	if err := encoder.BeginEncoding("imageflow readback"); err != nil {
		return nil, fmt.Errorf("%w: begin encoding: %w", ErrReadbackFailed, err)
	}

	// The texture sits in its last-used layout; transition for transfer.
	oldUsage := gputypes.TextureUsageCopyDst
	if !fb.props.TextureOnly {
		oldUsage = gputypes.TextureUsageRenderAttachment
	}
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: fb.texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: oldUsage,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})

	staging, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "imageflow readback staging",
		Size:  uint64(byteLen),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("%w: create staging buffer: %w", ErrReadbackFailed, err)
	}
	defer c.device.DestroyBuffer(staging)

	encoder.CopyTextureToBuffer(fb.texture, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: w * uint32(bpp), RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: fb.texture, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("%w: end encoding: %w", ErrReadbackFailed, err)
	}
	defer c.device.FreeCommandBuffer(cmdBuf)

	fence, err := c.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("%w: create fence: %w", ErrReadbackFailed, err)
	}
	defer c.device.DestroyFence(fence)

	if err := c.gpuQ.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrReadbackFailed, err)
	}
	ok, err := c.device.Wait(fence, 1, 5*time.Second)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: fence wait ok=%v err=%v", ErrReadbackFailed, ok, err)
	}

	out := make([]byte, byteLen)
	if err := c.gpuQ.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("%w: read staging buffer: %w", ErrReadbackFailed, err)
	}
	return out, nil
}

// PurgeOnLowMemory releases all idle pooled framebuffers. Wire this into
// the host's memory-pressure notifications.
func (c *RenderContext) PurgeOnLowMemory() {
	Logger().Info("purging framebuffer pool on memory pressure")
	c.cache.PurgeAllUnassignedFramebuffers()
}

// Close drains the render queue, purges the pool, releases the built-in
// shader program, and runs any registered closers (device bootstrap
// teardown). Idempotent; callers after the first get ErrContextClosed.
func (c *RenderContext) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrContextClosed
	}

	c.cache.PurgeAllUnassignedFramebuffers()
	c.queue.Sync(func() {
		c.shaders.destroy(c.device)
	})
	c.queue.Close()

	var err error
	for _, closer := range c.closers {
		err = multierr.Append(err, closer())
	}
	Logger().Info("render context closed")
	return err
}
