package imageflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Movie playback errors.
var (
	// ErrEndOfStream is returned by a VideoSource when the stream has no
	// more frames. It signals clean completion, not failure.
	ErrEndOfStream = errors.New("imageflow: end of stream")

	// ErrAlreadyStarted is returned when Start is called twice on the
	// same MovieInput.
	ErrAlreadyStarted = errors.New("imageflow: movie input already started")
)

// VideoFrame is one decoded frame pulled from a VideoSource.
type VideoFrame struct {
	// Pixels holds tightly packed RGBA for the frame.
	Pixels []byte

	Size        Size
	Orientation ImageOrientation

	// Time is the presentation timestamp relative to stream start.
	Time time.Duration
}

// VideoSource is a pull-based decoded video stream. Next blocks until a
// frame is available, the context is cancelled, or the stream ends with
// ErrEndOfStream. Implementations that can restart from the beginning
// may additionally implement Rewind() error to support looped playback.
type VideoSource interface {
	Next(ctx context.Context) (VideoFrame, error)
	Close() error
}

// rewinder is the optional looping extension of VideoSource.
type rewinder interface {
	Rewind() error
}

// movieOptions holds optional configuration for MovieInput creation.
type movieOptions struct {
	realtime bool
	loop     bool
}

// MovieOption configures a MovieInput during creation.
type MovieOption func(*movieOptions)

// WithRealtimePacing delays each frame so playback matches the stream's
// presentation timestamps. Without it frames are pushed as fast as the
// pipeline accepts them, which is what offline processing wants.
func WithRealtimePacing() MovieOption {
	return func(o *movieOptions) {
		o.realtime = true
	}
}

// WithLooping restarts playback from the beginning at end of stream.
// Requires a source that implements Rewind; otherwise playback stops at
// the first end of stream with a warning.
func WithLooping() MovieOption {
	return func(o *movieOptions) {
		o.loop = true
	}
}

// MovieInput plays a decoded video stream into a pipeline. A background
// goroutine pulls frames from the source and hands each one to the
// render queue synchronously, so decoding never outruns the GPU by more
// than one frame.
type MovieInput struct {
	*SourceNode

	source   VideoSource
	realtime bool
	loop     bool

	started atomic.Bool
	frames  atomic.Uint64

	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ ImageSource = (*MovieInput)(nil)

// NewMovieInput wraps a video source. Playback does not begin until
// Start is called.
func NewMovieInput(ctx *RenderContext, source VideoSource, opts ...MovieOption) *MovieInput {
	if source == nil {
		panic("imageflow: NewMovieInput requires a VideoSource")
	}
	o := movieOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	m := &MovieInput{
		source:   source,
		realtime: o.realtime,
		loop:     o.loop,
	}
	m.SourceNode = NewSourceNode(ctx, m)
	return m
}

// Start begins pulling frames on a background goroutine. The context
// bounds playback: cancelling it stops the loop.
func (m *MovieInput) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	g, runCtx := errgroup.WithContext(runCtx)
	m.group = g
	g.Go(func() error {
		return m.run(runCtx)
	})
	return nil
}

// Wait blocks until playback ends. It returns nil after a clean end of
// stream, the context error after cancellation, and the decode error
// otherwise.
func (m *MovieInput) Wait() error {
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}

// FramesRead returns how many frames have been pushed into the pipeline.
func (m *MovieInput) FramesRead() uint64 { return m.frames.Load() }

func (m *MovieInput) run(ctx context.Context) error {
	var (
		wallStart time.Time
		timeBase  time.Duration
		havePace  bool
	)
	for {
		frame, err := m.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				if m.loop {
					rw, ok := m.source.(rewinder)
					if !ok {
						Logger().Warn("video source does not support rewind; looping disabled")
						return nil
					}
					if err := rw.Rewind(); err != nil {
						return fmt.Errorf("imageflow: movie rewind failed: %w", err)
					}
					havePace = false
					continue
				}
				Logger().Info("movie playback finished", "frames", m.frames.Load())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("imageflow: movie decode failed: %w", err)
		}

		if frame.Size.IsZero() || len(frame.Pixels) == 0 {
			Logger().Warn("movie frame is empty; skipped",
				"width", frame.Size.Width, "height", frame.Size.Height)
			continue
		}

		if m.realtime {
			if !havePace {
				wallStart = time.Now()
				timeBase = frame.Time
				havePace = true
			} else if d := time.Until(wallStart.Add(frame.Time - timeBase)); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}

		m.deliver(frame)
		m.frames.Add(1)
	}
}

// deliver uploads one frame and fans it out, synchronously on the render
// queue so the decode loop is paced by downstream processing.
func (m *MovieInput) deliver(frame VideoFrame) {
	rctx := m.SourceNode.ctx
	rctx.queue.Sync(func() {
		fb := rctx.cache.RequestFramebufferDefault(frame.Orientation, frame.Size, true)
		if err := rctx.UploadPixels(fb, frame.Pixels); err != nil {
			Logger().Error("movie frame upload failed", "err", err)
			fb.Lock()
			fb.Unlock()
			return
		}
		fb.SetTiming(VideoFrameTime(MediaTimeFromDuration(frame.Time)))
		m.UpdateTargets(fb)
	})
}

// TransmitPreviousImage does nothing: movie playback is a stream, not a
// held image.
func (m *MovieInput) TransmitPreviousImage(target ImageConsumer, atIndex int) {}

// Close stops playback, severs the input from the graph, and closes the
// underlying source. Cancellation of the playback context is treated as
// clean shutdown, not an error.
func (m *MovieInput) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	var errs error
	if m.group != nil {
		if err := m.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = multierr.Append(errs, err)
		}
	}
	m.SourceNode.Close()
	if err := m.source.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
