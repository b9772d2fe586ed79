package imageflow

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Framebuffer errors.
var (
	// ErrZeroSizeFramebuffer is returned when a framebuffer is requested
	// with a zero or negative dimension.
	ErrZeroSizeFramebuffer = errors.New("imageflow: framebuffer size must be positive")

	// ErrTextureTooLarge is returned when a requested framebuffer exceeds
	// the device's maximum 2D texture dimension.
	ErrTextureTooLarge = errors.New("imageflow: framebuffer size exceeds device texture limit")

	// ErrFramebufferIncomplete is returned when the render target view for
	// a framebuffer cannot be created.
	ErrFramebufferIncomplete = errors.New("imageflow: framebuffer render target is incomplete")
)

// FramebufferProperties is the full allocation tuple of a framebuffer.
// Two framebuffers are interchangeable for pooling exactly when their
// property tuples hash equal; any field change forces a fresh allocation.
type FramebufferProperties struct {
	// Orientation requested for the buffer. Buffers fetched from the pool
	// are reset to the requested orientation.
	Orientation ImageOrientation

	// Size in pixels.
	Size Size

	// TextureOnly buffers carry no render target view: they can be
	// sampled and written from the CPU but not drawn into. Used for
	// upload-only sources (pictures, camera frames).
	TextureOnly bool

	// Sampling parameters consumers use when reading the texture.
	MinFilter gputypes.FilterMode
	MagFilter gputypes.FilterMode
	WrapS     gputypes.AddressMode
	WrapT     gputypes.AddressMode

	// Format determines both GPU storage and upload layout.
	Format gputypes.TextureFormat

	// Stencil adds a combined depth/stencil attachment, used by mask-style
	// operations. Ignored for TextureOnly buffers.
	Stencil bool
}

// DefaultFramebufferProperties returns the standard tuple: linear
// filtering, clamp-to-edge wrapping, RGBA8, no stencil.
func DefaultFramebufferProperties(orientation ImageOrientation, size Size) FramebufferProperties {
	return FramebufferProperties{
		Orientation: orientation,
		Size:        size,
		MinFilter:   gputypes.FilterModeLinear,
		MagFilter:   gputypes.FilterModeLinear,
		WrapS:       gputypes.AddressModeClampToEdge,
		WrapT:       gputypes.AddressModeClampToEdge,
		Format:      gputypes.TextureFormatRGBA8Unorm,
	}
}

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

func fnvMix(h, v uint64) uint64 { return (h ^ v) * fnvPrime64 }

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// hash computes the structural pool key over the full tuple (FNV-1a).
func (p FramebufferProperties) hash() uint64 {
	h := uint64(fnvOffset64)
	h = fnvMix(h, uint64(p.Orientation))
	h = fnvMix(h, uint64(p.Size.Width))
	h = fnvMix(h, uint64(p.Size.Height))
	h = fnvMix(h, boolBit(p.TextureOnly))
	h = fnvMix(h, uint64(p.MinFilter))
	h = fnvMix(h, uint64(p.MagFilter))
	h = fnvMix(h, uint64(p.WrapS))
	h = fnvMix(h, uint64(p.WrapT))
	h = fnvMix(h, uint64(p.Format))
	h = fnvMix(h, boolBit(p.Stencil))
	return h
}

// InputTextureProperties bundles what a downstream operation needs to
// sample a framebuffer: the texture handles plus per-vertex texture
// coordinates for the rotation being applied.
type InputTextureProperties struct {
	TextureCoordinates [8]float32
	Texture            hal.Texture
	View               hal.TextureView
}

// nextFramebufferID assigns process-unique framebuffer identities.
var nextFramebufferID atomic.Uint64

// Framebuffer is a reference-counted, poolable GPU image buffer: a texture,
// an optional render target view, and frame metadata.
//
// Lifecycle: buffers normally come from the context's FramebufferCache.
// Producers fetch one, render or upload into it, then hand it to the
// fan-out path which locks it once per consumer before any consumer runs.
// Each consumer releases its lock when done; the final Unlock returns the
// buffer to the pool automatically.
//
// All reference counting happens on the context's render queue. Lock and
// Unlock assert this and panic when called from any other goroutine.
type Framebuffer struct {
	id  uint64
	ctx *RenderContext

	props FramebufferProperties

	// orientation is mutable after fetch; props.Orientation keeps the
	// value the buffer was allocated under (part of the pool hash).
	orientation ImageOrientation

	texture        hal.Texture
	view           hal.TextureView
	stencilTexture hal.Texture
	stencilView    hal.TextureView

	// overridden marks externally owned textures: never pooled, never
	// destroyed by the pipeline.
	overridden bool

	refs      atomic.Int64
	destroyed atomic.Bool

	// cache is the pool this buffer returns to when its refcount reaches
	// zero; nil for directly constructed buffers.
	cache *FramebufferCache

	// cacheHash is captured at allocation so later orientation mutation
	// cannot re-bucket the buffer on return.
	cacheHash uint64

	// onIdle, when set, runs once the next time the reference count
	// returns to zero. Zero-copy sources use it to hand wrapped textures
	// back to their owners only after every consumer has let go.
	onIdle func()

	timing FrameTime

	// UserInfo carries producer-defined metadata downstream (trace IDs,
	// capture timestamps). Never touched by the pipeline itself.
	UserInfo map[string]any
}

// NewFramebuffer allocates a framebuffer outside the pool. This is the
// fallible construction path: sources that decode external input use it
// and surface errors to their callers. Pool requests go through
// [FramebufferCache.RequestFramebuffer] instead.
//
// With a context in logical mode (no device) the framebuffer carries
// metadata only; the full locking and pooling protocol still applies.
func NewFramebuffer(ctx *RenderContext, props FramebufferProperties) (*Framebuffer, error) {
	if ctx == nil {
		panic("imageflow: NewFramebuffer requires a RenderContext")
	}
	if props.Size.IsZero() {
		return nil, fmt.Errorf("%w: %dx%d", ErrZeroSizeFramebuffer, props.Size.Width, props.Size.Height)
	}
	if max := int(ctx.limits.MaxTextureDimension2D); max > 0 && (props.Size.Width > max || props.Size.Height > max) {
		return nil, fmt.Errorf("%w: %dx%d, device limit %d", ErrTextureTooLarge, props.Size.Width, props.Size.Height, max)
	}

	f := &Framebuffer{
		id:          nextFramebufferID.Add(1),
		ctx:         ctx,
		props:       props,
		orientation: props.Orientation,
		cacheHash:   props.hash(),
	}
	if dev := ctx.device; dev != nil {
		if err := f.allocate(dev); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewFramebufferWithTexture wraps an externally owned texture (zero-copy
// camera frames, interop with other GPU code). The resulting framebuffer
// is never pooled and never destroys the wrapped texture; its refcount
// still participates in the fan-out protocol so consumers behave
// uniformly. A sampling view is created over the texture and released
// with the framebuffer.
func NewFramebufferWithTexture(ctx *RenderContext, props FramebufferProperties, texture hal.Texture) (*Framebuffer, error) {
	if ctx == nil {
		panic("imageflow: NewFramebufferWithTexture requires a RenderContext")
	}
	f := &Framebuffer{
		id:          nextFramebufferID.Add(1),
		ctx:         ctx,
		props:       props,
		orientation: props.Orientation,
		cacheHash:   props.hash(),
		texture:     texture,
		overridden:  true,
	}
	if dev := ctx.device; dev != nil && texture != nil {
		view, err := dev.CreateTextureView(texture, &hal.TextureViewDescriptor{
			Label:         "imageflow wrapped texture view",
			Format:        props.Format,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFramebufferIncomplete, err)
		}
		f.view = view
	}
	return f, nil
}

func (f *Framebuffer) allocate(device hal.Device) error {
	size := hal.Extent3D{
		Width:              uint32(f.props.Size.Width),
		Height:             uint32(f.props.Size.Height),
		DepthOrArrayLayers: 1,
	}

	usage := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if !f.props.TextureOnly {
		usage |= gputypes.TextureUsageRenderAttachment
	}

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "imageflow framebuffer",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        f.props.Format,
		Usage:         usage,
	})
	if err != nil {
		return fmt.Errorf("create framebuffer texture: %w", err)
	}
	f.texture = tex

	// One view serves both roles: the sampling binding for downstream
	// operations and, for renderable buffers, the color attachment.
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "imageflow framebuffer view",
		Format:        f.props.Format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		f.texture = nil
		return fmt.Errorf("%w: %w", ErrFramebufferIncomplete, err)
	}
	f.view = view

	if !f.props.TextureOnly && f.props.Stencil {
		if err := f.allocateStencil(device, size); err != nil {
			device.DestroyTextureView(view)
			device.DestroyTexture(tex)
			f.texture = nil
			f.view = nil
			return err
		}
	}
	return nil
}

func (f *Framebuffer) allocateStencil(device hal.Device, size hal.Extent3D) error {
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "imageflow framebuffer stencil",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatDepth24PlusStencil8,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("create stencil texture: %w", err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "imageflow framebuffer stencil view",
		Format:        gputypes.TextureFormatDepth24PlusStencil8,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return fmt.Errorf("%w: %w", ErrFramebufferIncomplete, err)
	}
	f.stencilTexture = tex
	f.stencilView = view
	return nil
}

// ID returns the process-unique identity of this buffer.
func (f *Framebuffer) ID() uint64 { return f.id }

// Properties returns the allocation tuple.
func (f *Framebuffer) Properties() FramebufferProperties { return f.props }

// Texture returns the underlying texture handle (nil in logical mode).
func (f *Framebuffer) Texture() hal.Texture { return f.texture }

// TextureView returns the render target view (nil for texture-only
// buffers and in logical mode).
func (f *Framebuffer) TextureView() hal.TextureView { return f.view }

// Overridden reports whether the texture is externally owned.
func (f *Framebuffer) Overridden() bool { return f.overridden }

// Orientation returns the buffer's current orientation.
func (f *Framebuffer) Orientation() ImageOrientation { return f.orientation }

// SetOrientation retags the buffer. Producers use this when the capture
// orientation differs from the allocation default.
func (f *Framebuffer) SetOrientation(o ImageOrientation) { f.orientation = o }

// Size returns the buffer's pixel dimensions in its own orientation.
func (f *Framebuffer) Size() Size { return f.props.Size }

// SizeForOrientation returns the dimensions as seen by a consumer in the
// target orientation: width and height swap when the rotation between the
// two orientations flips dimensions.
func (f *Framebuffer) SizeForOrientation(target ImageOrientation) Size {
	return f.orientation.RotationNeeded(target).RotatedSize(f.props.Size)
}

// Timing returns the buffer's temporal tag.
func (f *Framebuffer) Timing() FrameTime { return f.timing }

// SetTiming stamps the buffer's temporal tag.
func (f *Framebuffer) SetTiming(t FrameTime) { f.timing = t }

// TexturePropertiesForOutputRotation returns the sampling bundle for a
// consumer applying the given rotation. Pure; no side effects.
func (f *Framebuffer) TexturePropertiesForOutputRotation(r Rotation) InputTextureProperties {
	return InputTextureProperties{
		TextureCoordinates: r.TextureCoordinates(),
		Texture:            f.texture,
		View:               f.view,
	}
}

// TexturePropertiesForTargetOrientation returns the sampling bundle for a
// consumer in the target orientation.
func (f *Framebuffer) TexturePropertiesForTargetOrientation(target ImageOrientation) InputTextureProperties {
	return f.TexturePropertiesForOutputRotation(f.orientation.RotationNeeded(target))
}

// SamplerDescriptor returns the sampler matching the buffer's filter and
// wrap parameters, for downstream operations binding this buffer as input.
func (f *Framebuffer) SamplerDescriptor() *hal.SamplerDescriptor {
	return &hal.SamplerDescriptor{
		Label:        "imageflow framebuffer sampler",
		AddressModeU: f.props.WrapS,
		AddressModeV: f.props.WrapT,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    f.props.MagFilter,
		MinFilter:    f.props.MinFilter,
		MipmapFilter: f.props.MinFilter,
	}
}

// RenderPassDescriptor binds the framebuffer as the active draw
// destination: its view as the color attachment (plus the stencil
// attachment when allocated). Panics on texture-only buffers, which have
// no render target.
func (f *Framebuffer) RenderPassDescriptor(load gputypes.LoadOp, clear gputypes.Color) *hal.RenderPassDescriptor {
	if f.props.TextureOnly {
		panic("imageflow: cannot render into a texture-only framebuffer")
	}
	desc := &hal.RenderPassDescriptor{
		Label: "imageflow framebuffer pass",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:       f.view,
				LoadOp:     load,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: clear,
			},
		},
	}
	if f.stencilView != nil {
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              f.stencilView,
			DepthLoadOp:       gputypes.LoadOpClear,
			DepthStoreOp:      gputypes.StoreOpDiscard,
			DepthClearValue:   1.0,
			StencilLoadOp:     gputypes.LoadOpClear,
			StencilStoreOp:    gputypes.StoreOpDiscard,
			StencilClearValue: 0,
		}
	}
	return desc
}

// Lock takes a reference on the buffer. Queue-affine: panics off-queue.
func (f *Framebuffer) Lock() {
	f.ctx.queue.assertOnQueue("Framebuffer.Lock")
	f.refs.Add(1)
}

// Unlock releases a reference. When the count reaches zero a pooled
// buffer returns to its cache. Unlocking below zero is a programming
// error and panics.
func (f *Framebuffer) Unlock() {
	f.ctx.queue.assertOnQueue("Framebuffer.Unlock")
	n := f.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("imageflow: Framebuffer.Unlock without matching Lock (id=%d)", f.id))
	}
	if n == 0 {
		if h := f.onIdle; h != nil {
			f.onIdle = nil
			h()
		}
		if f.cache != nil {
			f.cache.returnToCache(f)
		}
	}
}

// ReferenceCount returns the current reference count.
func (f *Framebuffer) ReferenceCount() int64 { return f.refs.Load() }

// Destroy releases GPU storage for a directly constructed buffer.
// Pool-owned buffers are destroyed by the cache during purge — do not
// destroy them manually. A wrapped texture is left to its owner; the
// view created over it is released. Idempotent; queue-affine.
func (f *Framebuffer) Destroy() {
	f.ctx.queue.assertOnQueue("Framebuffer.Destroy")
	f.destroy(f.ctx.device)
}

func (f *Framebuffer) destroy(device hal.Device) {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}
	if device == nil {
		return
	}
	if f.stencilView != nil {
		device.DestroyTextureView(f.stencilView)
		f.stencilView = nil
	}
	if f.stencilTexture != nil {
		device.DestroyTexture(f.stencilTexture)
		f.stencilTexture = nil
	}
	if f.view != nil {
		device.DestroyTextureView(f.view)
		f.view = nil
	}
	if f.texture != nil && !f.overridden {
		device.DestroyTexture(f.texture)
	}
	f.texture = nil
}
