package imageflow

// RawDataOutput reads each incoming frame back to the CPU and hands the
// pixels to a callback: the bridge out of the pipeline for encoders,
// vision models, and anything else that wants bytes instead of textures.
type RawDataOutput struct {
	*ConsumerNode

	// DataAvailableCallback receives each frame as tightly packed RGBA.
	// The slice is freshly allocated per frame and owned by the callback.
	// Runs on the render queue; hand the data off rather than blocking.
	DataAvailableCallback func(data []byte)
}

var _ ImageConsumer = (*RawDataOutput)(nil)

// NewRawDataOutput creates a pixel readback consumer.
func NewRawDataOutput(ctx *RenderContext) *RawDataOutput {
	r := &RawDataOutput{}
	r.ConsumerNode = NewConsumerNode(ctx, r, 1)
	return r
}

// MaximumInputs returns 1.
func (r *RawDataOutput) MaximumInputs() int { return 1 }

// NewFramebufferAvailable reads the frame back and invokes the callback.
// The framebuffer is released in every path, including readback failure.
func (r *RawDataOutput) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	defer fb.Unlock()
	if r.DataAvailableCallback == nil {
		return
	}
	data, err := r.ConsumerNode.ctx.ReadPixels(fb)
	if err != nil {
		Logger().Error("raw data readback failed", "err", err, "framebuffer", fb.ID())
		return
	}
	r.DataAvailableCallback(data)
}

// Close severs the output from the graph.
func (r *RawDataOutput) Close() {
	r.ConsumerNode.Close()
}
