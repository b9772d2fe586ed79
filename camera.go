package imageflow

import (
	"context"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// CameraFrame is one captured frame handed to a Camera. Either Pixels
// (tightly packed RGBA, copied to the GPU on the render queue) or
// Texture (zero-copy, sampled in place) must be set; Texture wins when
// both are.
type CameraFrame struct {
	Pixels  []byte
	Texture hal.Texture

	Size        Size
	Orientation ImageOrientation

	// Time is the capture timestamp relative to stream start.
	Time time.Duration

	// TraceID, when set, travels downstream in the framebuffer's
	// UserInfo for per-frame correlation.
	TraceID string

	// Release is called exactly once when the frame's data is no longer
	// needed: after upload for pixel frames, or once every consumer has
	// released the framebuffer for texture frames. Optional.
	Release func()
}

// cameraOptions holds optional configuration for Camera creation.
type cameraOptions struct {
	inFlight      int
	dropWarnEvery uint64
}

// CameraOption configures a Camera during creation.
type CameraOption func(*cameraOptions)

// WithInFlightFrames sets how many frames may be queued for processing
// at once before PushFrame starts dropping. The default of 1 gives
// latest-frame semantics: a slow pipeline sees the freshest input
// instead of a growing backlog.
func WithInFlightFrames(n int) CameraOption {
	return func(o *cameraOptions) {
		o.inFlight = n
	}
}

// WithDropWarnInterval sets how often sustained frame drops are logged:
// once at the first drop, then every n drops after. 0 keeps the
// first-drop warning only.
func WithDropWarnInterval(n uint64) CameraOption {
	return func(o *cameraOptions) {
		o.dropWarnEvery = n
	}
}

// CameraStats is a snapshot of a camera's frame accounting.
type CameraStats struct {
	Accepted uint64
	Dropped  uint64
}

// Camera feeds live video frames into a pipeline. PushFrame is safe to
// call from any goroutine — capture callbacks hand frames straight in —
// and applies drop-frame backpressure: when the pipeline is still busy
// with earlier frames, new ones are discarded rather than queued, so a
// slow filter chain degrades to a lower frame rate instead of growing
// latency without bound.
type Camera struct {
	*SourceNode

	limiter       *FrameLimiter
	dropWarnEvery uint64
}

var _ ImageSource = (*Camera)(nil)

// NewCamera creates a camera source on the given context.
func NewCamera(ctx *RenderContext, opts ...CameraOption) *Camera {
	o := cameraOptions{inFlight: 1, dropWarnEvery: 30}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Camera{
		limiter:       NewFrameLimiter(int64(o.inFlight)),
		dropWarnEvery: o.dropWarnEvery,
	}
	c.SourceNode = NewSourceNode(ctx, c)
	return c
}

// PushFrame submits a captured frame for processing and reports whether
// it was accepted. Any goroutine may call it. Rejected frames have their
// Release callback invoked before PushFrame returns.
func (c *Camera) PushFrame(frame CameraFrame) bool {
	if frame.Size.IsZero() || (frame.Pixels == nil && frame.Texture == nil) {
		Logger().Warn("camera frame is empty; ignored",
			"width", frame.Size.Width, "height", frame.Size.Height)
		releaseFrame(frame)
		return false
	}

	if !c.limiter.TryAcquire() {
		releaseFrame(frame)
		dropped := c.limiter.Dropped()
		if dropped == 1 || (c.dropWarnEvery > 0 && dropped%c.dropWarnEvery == 0) {
			Logger().Warn("camera dropping frames, pipeline busy",
				"dropped", dropped, "accepted", c.limiter.Accepted())
		}
		return false
	}

	accepted := c.SourceNode.ctx.queue.Async(func() {
		defer c.limiter.Release()
		c.deliver(frame)
	})
	if !accepted {
		c.limiter.Release()
		releaseFrame(frame)
		return false
	}
	return true
}

func releaseFrame(frame CameraFrame) {
	if frame.Release != nil {
		frame.Release()
	}
}

// deliver runs on the render queue: wrap or upload the frame, stamp its
// timing, and fan it out.
func (c *Camera) deliver(frame CameraFrame) {
	ctx := c.SourceNode.ctx

	var fb *Framebuffer
	if frame.Texture != nil {
		props := DefaultFramebufferProperties(frame.Orientation, frame.Size)
		props.TextureOnly = true
		wrapped, err := NewFramebufferWithTexture(ctx, props, frame.Texture)
		if err != nil {
			Logger().Error("camera texture wrap failed", "err", err)
			releaseFrame(frame)
			return
		}
		fb = wrapped
		fb.onIdle = func() {
			fb.Destroy()
			releaseFrame(frame)
		}
	} else {
		fb = ctx.cache.RequestFramebufferDefault(frame.Orientation, frame.Size, true)
		err := ctx.UploadPixels(fb, frame.Pixels)
		releaseFrame(frame)
		if err != nil {
			Logger().Error("camera frame upload failed", "err", err)
			fb.Lock()
			fb.Unlock()
			return
		}
	}

	fb.SetTiming(VideoFrameTime(MediaTimeFromDuration(frame.Time)))
	if frame.TraceID != "" {
		fb.UserInfo = map[string]any{"traceID": frame.TraceID}
	}
	c.UpdateTargets(fb)
}

// TransmitPreviousImage does nothing: a live feed has no stable previous
// frame worth replaying to late-attached targets.
func (c *Camera) TransmitPreviousImage(target ImageConsumer, atIndex int) {}

// Stats returns the camera's accepted and dropped frame counts.
func (c *Camera) Stats() CameraStats {
	return CameraStats{
		Accepted: c.limiter.Accepted(),
		Dropped:  c.limiter.Dropped(),
	}
}

// Close severs the camera from the graph and waits for in-flight frames
// to finish processing. Stop the capture source first; frames pushed
// after Close are processed against an empty target set.
func (c *Camera) Close() {
	c.SourceNode.Close()
	if err := c.limiter.Drain(context.Background()); err != nil {
		Logger().Warn("camera close interrupted", "err", err)
	}
}
