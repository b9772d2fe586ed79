package imageflow

// TextureOutput hands each incoming framebuffer to external GPU code
// with its reference lock still held: the texture stays valid and out of
// the pool while the callback's owner samples it. Call Done when
// finished; forgetting to starves the framebuffer cache.
type TextureOutput struct {
	*ConsumerNode

	// TextureAvailableCallback receives each framebuffer, locked. Runs
	// on the render queue; hand the buffer off rather than blocking.
	TextureAvailableCallback func(fb *Framebuffer)
}

var _ ImageConsumer = (*TextureOutput)(nil)

// NewTextureOutput creates a texture hand-off consumer.
func NewTextureOutput(ctx *RenderContext) *TextureOutput {
	t := &TextureOutput{}
	t.ConsumerNode = NewConsumerNode(ctx, t, 1)
	return t
}

// MaximumInputs returns 1.
func (t *TextureOutput) MaximumInputs() int { return 1 }

// NewFramebufferAvailable transfers the frame's lock to the callback.
// Without a callback the frame is released immediately.
func (t *TextureOutput) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	if t.TextureAvailableCallback == nil {
		fb.Unlock()
		return
	}
	t.TextureAvailableCallback(fb)
}

// Done releases a framebuffer previously handed to the callback. Safe to
// call from any goroutine.
func (t *TextureOutput) Done(fb *Framebuffer) {
	if fb == nil {
		return
	}
	t.ConsumerNode.ctx.queue.Async(fb.Unlock)
}

// Close severs the output from the graph. Framebuffers already handed
// out must still be returned through Done.
func (t *TextureOutput) Close() {
	t.ConsumerNode.Close()
}
