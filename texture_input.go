package imageflow

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// TextureInput feeds an externally owned GPU texture into a pipeline.
// The texture is wrapped, never copied: the pipeline samples it in place
// and never destroys it. The owner must keep it alive and unmodified
// while a process call is in flight.
type TextureInput struct {
	*SourceNode

	fb *Framebuffer
}

var _ ImageSource = (*TextureInput)(nil)

// NewTextureInput wraps a texture of the given size and orientation.
func NewTextureInput(ctx *RenderContext, texture hal.Texture, orientation ImageOrientation, size Size) (*TextureInput, error) {
	if size.IsZero() {
		return nil, fmt.Errorf("%w: %dx%d", ErrZeroSizeFramebuffer, size.Width, size.Height)
	}
	props := DefaultFramebufferProperties(orientation, size)
	props.TextureOnly = true

	fb, err := NewFramebufferWithTexture(ctx, props, texture)
	if err != nil {
		return nil, err
	}
	t := &TextureInput{fb: fb}
	t.SourceNode = NewSourceNode(ctx, t)
	return t, nil
}

// ProcessTexture fans the wrapped texture out to every attached target,
// tagged with the given timing, asynchronously on the render queue.
func (t *TextureInput) ProcessTexture(timing FrameTime) {
	t.SourceNode.ctx.queue.Async(func() {
		t.fb.SetTiming(timing)
		t.UpdateTargets(t.fb)
	})
}

// ProcessTextureSync fans the wrapped texture out and blocks until every
// directly attached consumer has run.
func (t *TextureInput) ProcessTextureSync(timing FrameTime) {
	t.SourceNode.ctx.queue.Sync(func() {
		t.fb.SetTiming(timing)
		t.UpdateTargets(t.fb)
	})
}

// TransmitPreviousImage does nothing. External textures cannot be
// replayed: the owner may have overwritten the contents since the last
// process call.
func (t *TextureInput) TransmitPreviousImage(target ImageConsumer, atIndex int) {}

// Close severs the input from the graph and releases the view created
// over the wrapped texture. The texture itself is left untouched for its
// owner.
func (t *TextureInput) Close() {
	t.SourceNode.Close()
	t.SourceNode.ctx.queue.Sync(t.fb.Destroy)
}
