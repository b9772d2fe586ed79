package imageflow

// OperationGroup wraps a configured sub-pipeline behind a single node
// with one logical input and one logical output. Externally it wires and
// behaves exactly like a simple operation; internally an input relay
// feeds the first interior stage and the last interior stage feeds an
// output relay.
type OperationGroup struct {
	inputRelay  *ImageRelay
	outputRelay *ImageRelay
}

var _ ImageProcessingOperation = (*OperationGroup)(nil)

// NewOperationGroup creates an unconfigured group. Wire its interior with
// Configure before attaching it to a pipeline.
func NewOperationGroup(ctx *RenderContext) *OperationGroup {
	return &OperationGroup{
		inputRelay:  NewImageRelay(ctx),
		outputRelay: NewImageRelay(ctx),
	}
}

// Configure wires the group's interior on the render queue: connect input
// to the first interior stage and the last interior stage to output.
//
//	group.Configure(func(input, output *imageflow.ImageRelay) {
//		input.AddTarget(blur)
//		blur.AddTarget(sharpen)
//		sharpen.AddTarget(output)
//	})
func (g *OperationGroup) Configure(fn func(input, output *ImageRelay)) {
	fn(g.inputRelay, g.outputRelay)
}

// InputNode exposes the input relay's consumer identity, so upstream
// AddTarget calls land on the relay directly.
func (g *OperationGroup) InputNode() *ConsumerNode { return g.inputRelay.InputNode() }

// OutputNode exposes the output relay's producer identity.
func (g *OperationGroup) OutputNode() *SourceNode { return g.outputRelay.OutputNode() }

// MaximumInputs returns 1; a group presents a single logical input.
func (g *OperationGroup) MaximumInputs() int { return 1 }

// NewFramebufferAvailable injects a framebuffer into the group's interior
// through the input relay.
func (g *OperationGroup) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	g.inputRelay.NewFramebufferAvailable(fb, fromSourceIndex)
}

// TransmitPreviousImage forwards to the output relay, replaying the
// interior's retained image to the group's targets.
func (g *OperationGroup) TransmitPreviousImage(target ImageConsumer, atIndex int) {
	g.outputRelay.TransmitPreviousImage(target, atIndex)
}

// AddTarget attaches a downstream consumer to the group's output.
func (g *OperationGroup) AddTarget(target ImageConsumer, indices ...int) {
	g.outputRelay.AddTarget(target, indices...)
}

// RemoveAllTargets severs every downstream connection of the group.
func (g *OperationGroup) RemoveAllTargets() { g.outputRelay.RemoveAllTargets() }

// TargetCount returns the number of live downstream connections.
func (g *OperationGroup) TargetCount() int { return g.outputRelay.TargetCount() }

// Close detaches both boundary relays from the graph. Interior stages
// wired by Configure are owned by the caller and closed separately.
func (g *OperationGroup) Close() {
	g.inputRelay.Close()
	g.outputRelay.Close()
}
