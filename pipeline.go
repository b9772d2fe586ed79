package imageflow

import "fmt"

// ImageConsumer is anything that accepts framebuffers from upstream:
// filters, views, data taps. Each delivered framebuffer arrives with one
// reference-count lock held on the consumer's behalf; the consumer must
// balance it, directly or by passing the buffer on.
type ImageConsumer interface {
	// NewFramebufferAvailable delivers a framebuffer on the render queue.
	// fromSourceIndex identifies which input slot the buffer arrived on.
	NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int)

	// MaximumInputs returns the number of input slots the consumer
	// exposes. One for simple filters, two for blends, and so on.
	MaximumInputs() int

	// InputNode returns the consumer half of the node's graph identity.
	InputNode() *ConsumerNode
}

// ImageSource is anything that emits framebuffers downstream: cameras,
// movie decoders, still images, and the output side of every filter.
type ImageSource interface {
	// TransmitPreviousImage redelivers the most recently emitted image to
	// a single newly attached target, if the source retains one. Sources
	// of transient frames (cameras, movies) do nothing.
	TransmitPreviousImage(target ImageConsumer, atIndex int)

	// OutputNode returns the producer half of the node's graph identity.
	OutputNode() *SourceNode
}

// ImageProcessingOperation is a node that both consumes and produces,
// which is every filter stage in a pipeline.
type ImageProcessingOperation interface {
	ImageSource
	ImageConsumer
}

// SourceNode is the embeddable producer half of a pipeline node. It owns
// the node's graph registration and implements target management and the
// fan-out primitive; the embedding type supplies TransmitPreviousImage.
type SourceNode struct {
	ctx   *RenderContext
	id    NodeID
	owner ImageSource
}

// NewSourceNode registers a producer with the context's graph. The owner
// back-reference is used to redeliver retained images to new targets.
func NewSourceNode(ctx *RenderContext, owner ImageSource) *SourceNode {
	if ctx == nil {
		panic("imageflow: NewSourceNode requires a render context")
	}
	if owner == nil {
		panic("imageflow: NewSourceNode requires an owning ImageSource")
	}
	return &SourceNode{ctx: ctx, id: ctx.graph.registerProducer(owner), owner: owner}
}

// OutputNode returns n, letting embedding types satisfy ImageSource.
func (n *SourceNode) OutputNode() *SourceNode { return n }

// ID returns the node's graph handle.
func (n *SourceNode) ID() NodeID { return n.id }

// AddTarget connects a downstream consumer. With an explicit index the
// edge occupies that slot, displacing any previous occupant; an index at
// or beyond the target's input capacity panics. Without an index the
// first free slot is used; if the target is full the call logs a warning
// and connects nothing.
//
// After connecting, the source's retained image (if any) is scheduled for
// asynchronous redelivery to the new target, so late-attached consumers
// of still images see a frame without waiting for the next upstream
// trigger.
func (n *SourceNode) AddTarget(target ImageConsumer, indices ...int) {
	n.ctx.queue.assertOnQueue("SourceNode.AddTarget")
	in := target.InputNode()

	var slot int
	if len(indices) > 0 {
		slot = indices[0]
		if slot < 0 || slot >= in.maxInputs {
			panic(fmt.Sprintf("imageflow: target slot %d out of range (maximum inputs %d)", slot, in.maxInputs))
		}
		n.ctx.graph.connectAt(n.id, in.id, slot)
	} else {
		s, ok := n.ctx.graph.connectFree(n.id, in.id, in.maxInputs)
		if !ok {
			Logger().Warn("target has no free input slot; AddTarget ignored",
				"maxInputs", in.maxInputs)
			return
		}
		slot = s
	}

	owner := n.owner
	n.ctx.queue.Async(func() {
		owner.TransmitPreviousImage(target, slot)
	})
}

// RemoveAllTargets severs every outgoing edge. Consumers are not
// notified; their input slots simply free up.
func (n *SourceNode) RemoveAllTargets() {
	n.ctx.queue.assertOnQueue("SourceNode.RemoveAllTargets")
	n.ctx.graph.disconnectProducer(n.id)
}

// UpdateTargets fans a framebuffer out to every connected consumer, in
// edge creation order. All reference locks are taken before the first
// consumer is notified, so a consumer releasing its lock mid-dispatch
// cannot race the buffer back to the pool while siblings still expect it.
//
// With no targets the buffer is locked and immediately unlocked: a pooled
// buffer returns to the cache instead of leaking, an unpooled one is
// untouched.
func (n *SourceNode) UpdateTargets(fb *Framebuffer) {
	n.ctx.queue.assertOnQueue("SourceNode.UpdateTargets")

	edges := n.ctx.graph.snapshotTargets(n.id)
	if len(edges) == 0 {
		fb.Lock()
		fb.Unlock()
		return
	}
	for range edges {
		fb.Lock()
	}
	for _, e := range edges {
		e.consumer.NewFramebufferAvailable(fb, e.slot)
	}
}

// TargetCount returns the number of live downstream connections.
func (n *SourceNode) TargetCount() int { return n.ctx.graph.targetCount(n.id) }

// Close unregisters the producer, severing all outgoing edges. Safe from
// any goroutine; pending fan-outs from other producers are unaffected.
func (n *SourceNode) Close() { n.ctx.graph.unregister(n.id) }

// ConsumerNode is the embeddable consumer half of a pipeline node. It
// owns the node's graph registration and input-slot bookkeeping; the
// embedding type supplies NewFramebufferAvailable.
type ConsumerNode struct {
	ctx       *RenderContext
	id        NodeID
	owner     ImageConsumer
	maxInputs int
}

// NewConsumerNode registers a consumer with the context's graph. The
// graph resolves deliveries through the owner reference, so a closed
// node's owner is never invoked again.
func NewConsumerNode(ctx *RenderContext, owner ImageConsumer, maxInputs int) *ConsumerNode {
	if ctx == nil {
		panic("imageflow: NewConsumerNode requires a render context")
	}
	if owner == nil {
		panic("imageflow: NewConsumerNode requires an owning ImageConsumer")
	}
	if maxInputs < 1 {
		panic("imageflow: consumer needs at least one input slot")
	}
	return &ConsumerNode{
		ctx:       ctx,
		id:        ctx.graph.registerConsumer(owner),
		owner:     owner,
		maxInputs: maxInputs,
	}
}

// InputNode returns n, letting embedding types satisfy ImageConsumer.
func (n *ConsumerNode) InputNode() *ConsumerNode { return n }

// ID returns the node's graph handle.
func (n *ConsumerNode) ID() NodeID { return n.id }

// MaximumInputs returns the node's input slot capacity.
func (n *ConsumerNode) MaximumInputs() int { return n.maxInputs }

// SourceCount returns the number of occupied input slots.
func (n *ConsumerNode) SourceCount() int { return n.ctx.graph.sourceCount(n.id) }

// RemoveSourceAtIndex detaches whatever feeds the given input slot.
func (n *ConsumerNode) RemoveSourceAtIndex(index int) {
	n.ctx.queue.assertOnQueue("ConsumerNode.RemoveSourceAtIndex")
	n.ctx.graph.disconnectSlot(n.id, index)
}

// SourceAtIndex returns the live source feeding the given input slot, or
// nil when the slot is empty or its producer has closed. Relays use this
// to ask upstream for a retained image.
func (n *ConsumerNode) SourceAtIndex(index int) ImageSource {
	s, ok := n.ctx.graph.sourceOwnerAt(n.id, index)
	if !ok {
		return nil
	}
	return s
}

// Close unregisters the consumer, severing all incoming edges. Producers
// holding stale edges prune them at their next fan-out. Safe from any
// goroutine.
func (n *ConsumerNode) Close() { n.ctx.graph.unregister(n.id) }
