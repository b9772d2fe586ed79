package imageflow

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
)

// Render view errors.
var (
	// ErrNoTextureCreator is returned when the draw context cannot create
	// textures for presentation.
	ErrNoTextureCreator = errors.New("imageflow: draw context cannot create textures")

	// ErrInvalidViewTexture is returned when the created texture cannot be
	// drawn by the view's draw context.
	ErrInvalidViewTexture = errors.New("imageflow: created texture is not drawable")
)

// FillMode controls how a frame is placed inside the view bounds when
// their aspect ratios differ.
type FillMode int

const (
	// FillModeStretch distorts the frame to cover the bounds exactly.
	FillModeStretch FillMode = iota

	// FillModePreserveAspectRatio letterboxes: the whole frame stays
	// visible, centered, with empty bars on the short axis.
	FillModePreserveAspectRatio

	// FillModePreserveAspectRatioAndFill covers the bounds completely,
	// cropping the frame on the long axis.
	FillModePreserveAspectRatioAndFill
)

// String returns the mode name for logging.
func (m FillMode) String() string {
	switch m {
	case FillModeStretch:
		return "stretch"
	case FillModePreserveAspectRatio:
		return "preserveAspectRatio"
	case FillModePreserveAspectRatioAndFill:
		return "preserveAspectRatioAndFill"
	default:
		return fmt.Sprintf("FillMode(%d)", int(m))
	}
}

// fitRect computes the placement of an image inside bounds: position of
// the top-left corner plus drawn size. Zero bounds draw at native size.
func (m FillMode) fitRect(image, bounds Size) (x, y, w, h float32) {
	iw, ih := float32(image.Width), float32(image.Height)
	if bounds.IsZero() {
		return 0, 0, iw, ih
	}
	bw, bh := float32(bounds.Width), float32(bounds.Height)

	switch m {
	case FillModeStretch:
		return 0, 0, bw, bh
	case FillModePreserveAspectRatioAndFill:
		scale := bw / iw
		if s := bh / ih; s > scale {
			scale = s
		}
		w, h = iw*scale, ih*scale
	default: // FillModePreserveAspectRatio
		scale := bw / iw
		if s := bh / ih; s < scale {
			scale = s
		}
		w, h = iw*scale, ih*scale
	}
	return (bw - w) / 2, (bh - h) / 2, w, h
}

// textureScaler is an optional extension some draw contexts implement
// for scaled blits. Without it the view draws at native frame size.
type textureScaler interface {
	DrawTextureScaled(tex gpucontext.Texture, x, y, width, height float32) error
}

// RenderView is a terminal consumer that presents frames through a
// gpucontext.TextureDrawer: each incoming framebuffer is read back,
// uploaded as a drawable texture, and drawn into the view bounds
// according to the fill mode.
//
// With a nil drawer the view is a headless sink: it counts and releases
// frames, which is what pipeline tests and offline runs want.
//
// The previous frame's texture is destroyed only after the next upload
// completes, when the GPU has finished with it.
type RenderView struct {
	*ConsumerNode

	drawer   gpucontext.TextureDrawer
	bounds   Size
	fillMode FillMode

	// texture is the currently presented drawable (drawer-owned type).
	texture any

	frames    atomic.Uint64
	lastWidth atomic.Int64
}

var _ ImageConsumer = (*RenderView)(nil)

// NewRenderView creates a view presenting into the given draw context
// and bounds. A nil drawer creates a headless sink.
func NewRenderView(ctx *RenderContext, drawer gpucontext.TextureDrawer, bounds Size) *RenderView {
	v := &RenderView{
		drawer:   drawer,
		bounds:   bounds,
		fillMode: FillModePreserveAspectRatio,
	}
	v.ConsumerNode = NewConsumerNode(ctx, v, 1)
	return v
}

// SetFillMode changes how frames are placed inside the view bounds,
// taking effect from the next frame.
func (v *RenderView) SetFillMode(m FillMode) {
	v.ConsumerNode.ctx.queue.Async(func() { v.fillMode = m })
}

// SetBounds resizes the presentation area, taking effect from the next
// frame.
func (v *RenderView) SetBounds(bounds Size) {
	v.ConsumerNode.ctx.queue.Async(func() { v.bounds = bounds })
}

// MaximumInputs returns 1: a view shows one stream.
func (v *RenderView) MaximumInputs() int { return 1 }

// FramesPresented returns how many frames the view has received.
func (v *RenderView) FramesPresented() uint64 { return v.frames.Load() }

// NewFramebufferAvailable presents one frame and releases it.
func (v *RenderView) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	defer fb.Unlock()
	v.frames.Add(1)
	v.lastWidth.Store(int64(fb.Size().Width))

	if v.drawer == nil {
		return
	}
	if err := v.present(fb); err != nil {
		Logger().Error("render view present failed", "err", err)
	}
}

func (v *RenderView) present(fb *Framebuffer) error {
	data, err := v.ConsumerNode.ctx.ReadPixels(fb)
	if err != nil {
		return err
	}
	size := fb.Size()

	creator := v.drawer.TextureCreator()
	if creator == nil {
		return ErrNoTextureCreator
	}
	tex, err := creator.NewTextureFromRGBA(size.Width, size.Height, data)
	if err != nil {
		return fmt.Errorf("imageflow: render view upload failed: %w", err)
	}
	// Pipeline output is premultiplied alpha; tell the drawer so it
	// picks the matching blend pipeline.
	if pt, ok := tex.(interface{ SetPremultiplied(bool) }); ok {
		pt.SetPremultiplied(true)
	}

	// NewTextureFromRGBA waits for the GPU internally, so the previous
	// frame's texture is idle and safe to destroy now.
	if v.texture != nil {
		if d, ok := v.texture.(textureDestroyer); ok {
			d.Destroy()
		}
	}
	v.texture = tex

	gpuTex, ok := tex.(gpucontext.Texture)
	if !ok {
		return ErrInvalidViewTexture
	}
	x, y, w, h := v.fillMode.fitRect(size, v.bounds)
	if scaler, ok := v.drawer.(textureScaler); ok {
		return scaler.DrawTextureScaled(gpuTex, x, y, w, h)
	}
	return v.drawer.DrawTexture(gpuTex, x, y)
}

// Close severs the view from the graph and destroys its presentation
// texture.
func (v *RenderView) Close() {
	v.ConsumerNode.Close()
	v.ConsumerNode.ctx.queue.Sync(func() {
		if v.texture != nil {
			if d, ok := v.texture.(textureDestroyer); ok {
				d.Destroy()
			}
			v.texture = nil
		}
	})
}

// textureDestroyer matches the Destroy method of drawer-owned textures.
type textureDestroyer interface {
	Destroy()
}
