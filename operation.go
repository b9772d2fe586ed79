package imageflow

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// QuadRenderer draws one full-frame textured quad into a framebuffer.
// BasicOperation delegates its draw step here, so filters can swap in a
// custom program while logical mode stays a structural no-op.
type QuadRenderer interface {
	RenderQuad(out *Framebuffer, inputs []InputTextureProperties, clear gputypes.Color) error
}

// BasicOperation is the generic filter stage: it collects one framebuffer
// per input slot, renders a new output once every slot has a buffer, fans
// the output out, and releases its inputs.
//
// Timing flows through: if any input carries a video timestamp the output
// is a video frame stamped with the latest one; all-still inputs yield a
// still output which the operation retains for replay to late-attached
// targets. Still inputs likewise stay locked across frames so a video
// input on another slot can re-render against them (a blend of a movie
// over a logo image re-renders per movie frame without re-delivery of the
// logo).
type BasicOperation struct {
	*SourceNode
	*ConsumerNode

	renderer  QuadRenderer
	inputs    map[int]*Framebuffer
	rotations []Rotation

	overriddenOutputSize Size
	backgroundColor      gputypes.Color
	passthroughNext      bool

	// lastOutput is the retained still output. The producer lock taken at
	// render time is kept alive for it, released on the next render or on
	// Close.
	lastOutput *Framebuffer
}

var _ ImageProcessingOperation = (*BasicOperation)(nil)

// NewBasicOperation creates a filter stage with the given number of input
// slots, drawing with the context's passthrough program on GPU contexts.
func NewBasicOperation(ctx *RenderContext, maxInputs int) *BasicOperation {
	o := &BasicOperation{
		inputs:          make(map[int]*Framebuffer),
		rotations:       make([]Rotation, maxInputs),
		backgroundColor: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
	}
	o.renderer = &programQuadRenderer{ctx: ctx}
	o.SourceNode = NewSourceNode(ctx, o)
	o.ConsumerNode = NewConsumerNode(ctx, o, maxInputs)
	return o
}

// NewPassthroughOperation creates a single-input stage that reproduces its
// input, useful as a pipeline joint or a custom-renderer mount point.
func NewPassthroughOperation(ctx *RenderContext) *BasicOperation {
	return NewBasicOperation(ctx, 1)
}

// SetRenderer replaces the draw step. Call before the operation starts
// receiving frames.
func (o *BasicOperation) SetRenderer(r QuadRenderer) { o.renderer = r }

// SetProgram draws with a custom compiled program instead of the
// passthrough. See RenderContext.CompileShader.
func (o *BasicOperation) SetProgram(p *ShaderProgram) {
	o.renderer = &programQuadRenderer{ctx: o.SourceNode.ctx, program: p}
}

// SetBackgroundColor sets the clear color applied before each draw.
func (o *BasicOperation) SetBackgroundColor(c gputypes.Color) { o.backgroundColor = c }

// SetOverriddenOutputSize forces the output dimensions instead of
// inheriting from input 0. A zero size restores inheritance.
func (o *BasicOperation) SetOverriddenOutputSize(s Size) { o.overriddenOutputSize = s }

// SetInputRotation sets the rotation applied when sampling the given
// input slot. Panics when the slot is out of range.
func (o *BasicOperation) SetInputRotation(r Rotation, atIndex int) {
	if atIndex < 0 || atIndex >= len(o.rotations) {
		panic(fmt.Sprintf("imageflow: input rotation slot %d out of range (maximum inputs %d)", atIndex, len(o.rotations)))
	}
	o.rotations[atIndex] = r
}

// ActivatePassthrough relays the next complete frame set onward without
// rendering. Used to bootstrap cyclic graphs (a low-pass filter's first
// frame has no previous output to blend against).
func (o *BasicOperation) ActivatePassthrough() { o.passthroughNext = true }

// NewFramebufferAvailable collects one input and renders when every slot
// has a buffer for the current frame.
func (o *BasicOperation) NewFramebufferAvailable(fb *Framebuffer, fromSourceIndex int) {
	if prev, ok := o.inputs[fromSourceIndex]; ok {
		prev.Unlock()
	}
	o.inputs[fromSourceIndex] = fb

	if len(o.inputs) < o.MaximumInputs() {
		return
	}

	if o.passthroughNext {
		o.passthroughNext = false
		o.relayInputOnward()
		return
	}
	o.renderFrame()
}

// TransmitPreviousImage replays the retained still output to one target.
// Operations whose last output was transient have nothing to replay.
func (o *BasicOperation) TransmitPreviousImage(target ImageConsumer, atIndex int) {
	if o.lastOutput == nil || o.lastOutput.Timing().IsTransient() {
		return
	}
	o.lastOutput.Lock()
	target.NewFramebufferAvailable(o.lastOutput, atIndex)
}

// renderFrame produces one output frame from the collected inputs.
func (o *BasicOperation) renderFrame() {
	in0 := o.inputs[0]

	outSize := o.overriddenOutputSize
	if outSize.IsZero() {
		outSize = in0.SizeForOrientation(Portrait)
	}
	ctx := o.SourceNode.ctx
	out := ctx.cache.RequestFramebufferDefault(Portrait, outSize, false)
	out.Lock() // producer lock; released or converted to retention below

	// Merge timing and gather sampling properties before any input is
	// released.
	var timing FrameTime
	ordered := make([]InputTextureProperties, 0, len(o.inputs))
	for slot := 0; slot < o.MaximumInputs(); slot++ {
		fb, ok := o.inputs[slot]
		if !ok {
			continue
		}
		if len(ordered) == 0 {
			timing = fb.Timing()
		} else {
			timing = timing.LaterOf(fb.Timing())
		}
		ordered = append(ordered, fb.TexturePropertiesForOutputRotation(o.rotations[slot]))
	}
	out.SetTiming(timing)

	if err := o.renderer.RenderQuad(out, ordered, o.backgroundColor); err != nil {
		Logger().Error("operation render failed", "err", err)
	}

	// Transient inputs are finished; still inputs stay locked for replay
	// and re-render.
	for slot, fb := range o.inputs {
		if fb.Timing().IsTransient() {
			fb.Unlock()
			delete(o.inputs, slot)
		}
	}

	o.UpdateTargets(out)

	if o.lastOutput != nil {
		o.lastOutput.Unlock()
		o.lastOutput = nil
	}
	if timing.IsTransient() {
		out.Unlock()
	} else {
		o.lastOutput = out
	}
}

// relayInputOnward forwards input 0 unmodified with relay lock parity;
// other slots are released.
func (o *BasicOperation) relayInputOnward() {
	var in *Framebuffer
	for slot := 0; slot < o.MaximumInputs(); slot++ {
		fb, ok := o.inputs[slot]
		if !ok {
			continue
		}
		if in == nil {
			in = fb
		} else {
			fb.Unlock()
		}
		delete(o.inputs, slot)
	}
	if in == nil {
		return
	}

	edges := o.SourceNode.ctx.graph.snapshotTargets(o.SourceNode.id)
	for range edges {
		in.Lock()
	}
	in.Unlock()
	for _, e := range edges {
		e.consumer.NewFramebufferAvailable(in, e.slot)
	}
}

// Close severs the operation from the graph and releases every held
// buffer: pending inputs, retained stills, and renderer GPU objects.
func (o *BasicOperation) Close() {
	o.SourceNode.Close()
	o.ConsumerNode.Close()
	o.SourceNode.ctx.queue.Sync(func() {
		for slot, fb := range o.inputs {
			fb.Unlock()
			delete(o.inputs, slot)
		}
		if o.lastOutput != nil {
			o.lastOutput.Unlock()
			o.lastOutput = nil
		}
		if r, ok := o.renderer.(*programQuadRenderer); ok {
			r.destroy()
		}
	})
}

// programQuadRenderer is the built-in QuadRenderer: it draws input 0
// through a compiled program (the context passthrough when program is
// nil). Without a device every call is a structural no-op, which keeps
// whole pipelines runnable in logical mode.
//
// The vertex buffer and sampler persist across frames; the bind group is
// rebuilt per frame because the input texture changes.
type programQuadRenderer struct {
	ctx     *RenderContext
	program *ShaderProgram
	sampler hal.Sampler
	vertBuf hal.Buffer
}

func (r *programQuadRenderer) RenderQuad(out *Framebuffer, inputs []InputTextureProperties, clear gputypes.Color) error {
	device, queue := r.ctx.device, r.ctx.gpuQ
	if device == nil || queue == nil || out.TextureView() == nil {
		return nil
	}
	if len(inputs) == 0 || inputs[0].View == nil {
		return nil
	}

	prog := r.program
	if prog == nil {
		prog = r.ctx.PassthroughShader()
	}
	if prog == nil {
		return nil
	}

	if r.sampler == nil {
		sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
			Label:        "imageflow.quad_sampler",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    gputypes.FilterModeLinear,
			MinFilter:    gputypes.FilterModeLinear,
			MipmapFilter: gputypes.FilterModeLinear,
		})
		if err != nil {
			return fmt.Errorf("create quad sampler: %w", err)
		}
		r.sampler = sampler
	}

	verts := packQuadVertices(inputs[0].TextureCoordinates)
	if r.vertBuf == nil {
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: "imageflow.quad_vertices",
			Size:  uint64(len(verts)),
			Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create quad vertex buffer: %w", err)
		}
		r.vertBuf = buf
	}
	queue.WriteBuffer(r.vertBuf, 0, verts)

	bindGroup, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "imageflow.quad_bind",
		Layout: prog.BindGroupLayout(),
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: inputs[0].View.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: r.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		return fmt.Errorf("create quad bind group: %w", err)
	}
	defer device.DestroyBindGroup(bindGroup)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "imageflow.quad_encoder",
	})
	if err != nil {
		return fmt.Errorf("create quad encoder: %w", err)
	}
	if err := encoder.BeginEncoding("imageflow.quad"); err != nil {
		return fmt.Errorf("begin quad encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(out.RenderPassDescriptor(gputypes.LoadOpClear, clear))
	rp.SetPipeline(prog.Pipeline())
	rp.SetBindGroup(0, bindGroup, nil)
	rp.SetVertexBuffer(0, r.vertBuf, 0)
	rp.Draw(4, 1, 0, 0)
	rp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end quad encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("create quad fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit quad: %w", err)
	}
	if ok, err := device.Wait(fence, 1, 5*time.Second); err != nil || !ok {
		return fmt.Errorf("quad fence wait ok=%v err=%v", ok, err)
	}
	return nil
}

// destroy releases the renderer's persistent GPU objects.
func (r *programQuadRenderer) destroy() {
	device := r.ctx.device
	if device == nil {
		return
	}
	if r.vertBuf != nil {
		device.DestroyBuffer(r.vertBuf)
		r.vertBuf = nil
	}
	if r.sampler != nil {
		device.DestroySampler(r.sampler)
		r.sampler = nil
	}
}

// packQuadVertices interleaves the standard quad positions with the given
// texture coordinates into little-endian vertex buffer bytes.
func packQuadVertices(texCoords [8]float32) []byte {
	buf := make([]byte, quadVertexStride*4)
	off := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	for v := 0; v < 4; v++ {
		put(standardQuadPositions[v*2])
		put(standardQuadPositions[v*2+1])
		put(texCoords[v*2])
		put(texCoords[v*2+1])
	}
	return buf
}
