package imageflow

// ImageRelay is a pass-through node: every framebuffer it receives is
// forwarded unchanged to its own targets with lock parity preserved. An
// optional callback observes each buffer in flight. Relays are the
// building block OperationGroup uses to expose a sub-pipeline as a single
// node, and double as a convenient pipeline tap.
type ImageRelay struct {
	*SourceNode
	*ConsumerNode

	// NewImageCallback, when set, runs on the render queue for each
	// framebuffer before it is relayed onward.
	NewImageCallback func(*Framebuffer)

	// PreventRelay stops onward propagation. The incoming lock then stays
	// with the callback, which must Unlock the buffer when finished.
	PreventRelay bool
}

var _ ImageProcessingOperation = (*ImageRelay)(nil)

// NewImageRelay creates a relay with a single input slot.
func NewImageRelay(ctx *RenderContext) *ImageRelay {
	r := &ImageRelay{}
	r.SourceNode = NewSourceNode(ctx, r)
	r.ConsumerNode = NewConsumerNode(ctx, r, 1)
	return r
}

// TransmitPreviousImage asks the relay's upstream source to replay its
// retained image through the relay. The replayed buffer reaches every
// current target, the newly attached one included.
func (r *ImageRelay) TransmitPreviousImage(target ImageConsumer, atIndex int) {
	if src := r.SourceAtIndex(0); src != nil {
		src.TransmitPreviousImage(r, 0)
	}
}

// NewFramebufferAvailable observes and forwards one framebuffer.
func (r *ImageRelay) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	if r.NewImageCallback != nil {
		r.NewImageCallback(fb)
	}
	if r.PreventRelay {
		return
	}
	r.relayOnward(fb)
}

// relayOnward locks once per downstream target, releases the lock the
// relay received with the buffer, then dispatches in edge order. Parity
// holds across the relay: with zero targets the release is the only
// action and a pooled buffer heads back to the cache.
func (r *ImageRelay) relayOnward(fb *Framebuffer) {
	edges := r.SourceNode.ctx.graph.snapshotTargets(r.SourceNode.id)
	for range edges {
		fb.Lock()
	}
	fb.Unlock()
	for _, e := range edges {
		e.consumer.NewFramebufferAvailable(fb, e.slot)
	}
}

// Close detaches the relay from the graph in both directions.
func (r *ImageRelay) Close() {
	r.SourceNode.Close()
	r.ConsumerNode.Close()
}
