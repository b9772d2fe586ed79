//go:build gstreamer

package gstreamer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/imageflow"
)

// FileConfig configures a decoded playback source.
type FileConfig struct {
	// URI names the media to decode: file:///path/to/clip.mp4, an
	// http(s) or rtsp URL, anything uridecodebin accepts.
	URI string

	// Size is the delivered resolution; the pipeline scales to it.
	Size imageflow.Size

	// Orientation tags every frame.
	Orientation imageflow.ImageOrientation
}

// fileSample is one decoded frame queued between the GStreamer
// streaming thread and Next.
type fileSample struct {
	pixels []byte
	at     time.Duration
}

// FileSource decodes a URI into RGBA frames as an imageflow.VideoSource:
// uridecodebin → convert/scale → appsink, pulled one frame at a time
// through Next. The appsink runs clock-synced, so frames arrive at
// presentation rate already; pair it with MovieInput's default pacing,
// not WithRealtimePacing.
//
// Rewind restarts the pipeline from the beginning, which makes the
// source loopable through MovieInput's WithLooping.
type FileSource struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	size     imageflow.Size
	orient   imageflow.ImageOrientation

	samples chan fileSample
	errs    chan error
	quit    chan struct{}

	// stopping makes the sample callback bail without touching the
	// samples channel, so state transitions cannot deadlock against a
	// blocked streaming thread. epochNano is atomic for the same
	// reason: the callback must never need the mutex.
	stopping  atomic.Bool
	epochNano atomic.Int64

	mu      sync.Mutex
	eos     chan struct{}
	done    chan struct{}
	playing bool
	closed  bool
}

var _ imageflow.VideoSource = (*FileSource)(nil)

// NewFileSource builds the decode pipeline without starting it;
// playback begins on the first Next call.
func NewFileSource(cfg FileConfig) (*FileSource, error) {
	if cfg.Size.Width <= 0 || cfg.Size.Height <= 0 {
		return nil, ErrSizeRequired
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create pipeline: %w", err)
	}

	decoder, err := newElement("uridecodebin")
	if err != nil {
		return nil, err
	}
	decoder.SetProperty("uri", cfg.URI)

	converter, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}
	scaler, err := newElement("videoscale")
	if err != nil {
		return nil, err
	}
	capsfilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbaCaps(cfg.Size, 0)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create appsink: %w", err)
	}
	// Clock-synced with a single buffer: the streaming thread waits for
	// Next instead of dropping.
	appsink.SetProperty("sync", true)
	appsink.SetProperty("max-buffers", 1)

	pipeline.AddMany(decoder, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("gstreamer: link decode pipeline: %w", err)
	}

	// uridecodebin exposes pads only once the stream is probed; link the
	// video pad when it appears. Audio pads fail the link and are
	// ignored.
	decoder.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		sinkPad := converter.GetStaticPad("sink")
		if sinkPad == nil {
			imageflow.Logger().Error("decode pipeline has no converter sink pad")
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			imageflow.Logger().Debug("decode pad not linked", "pad", pad.GetName(), "ret", ret)
		}
	})

	s := &FileSource{
		pipeline: pipeline,
		sink:     appsink,
		size:     cfg.Size,
		orient:   cfg.Orientation,
		samples:  make(chan fileSample, 1),
		errs:     make(chan error, 1),
		quit:     make(chan struct{}),
	}
	appsink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: s.onSample})
	return s, nil
}

// Next returns the next decoded frame, blocking until one arrives, the
// stream ends, or the context is cancelled.
func (s *FileSource) Next(ctx context.Context) (imageflow.VideoFrame, error) {
	if err := s.ensurePlaying(); err != nil {
		return imageflow.VideoFrame{}, err
	}
	s.mu.Lock()
	eos := s.eos
	s.mu.Unlock()

	select {
	case smp := <-s.samples:
		return s.frame(smp), nil
	case <-eos:
		// A decoded frame can still sit in the queue when end of
		// stream lands; deliver it before reporting the end.
		select {
		case smp := <-s.samples:
			return s.frame(smp), nil
		default:
		}
		return imageflow.VideoFrame{}, imageflow.ErrEndOfStream
	case err := <-s.errs:
		return imageflow.VideoFrame{}, err
	case <-s.quit:
		return imageflow.VideoFrame{}, imageflow.ErrEndOfStream
	case <-ctx.Done():
		return imageflow.VideoFrame{}, ctx.Err()
	}
}

func (s *FileSource) frame(smp fileSample) imageflow.VideoFrame {
	return imageflow.VideoFrame{
		Pixels:      smp.pixels,
		Size:        s.size,
		Orientation: s.orient,
		Time:        smp.at,
	}
}

// Rewind restarts playback from the beginning of the stream.
func (s *FileSource) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		// Nothing started yet; the next Next plays from the start.
		return nil
	}

	// Unblock a streaming thread waiting to queue a sample, then let
	// the state transition join it.
	s.stopping.Store(true)
	s.drainSamples()
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		s.stopping.Store(false)
		return fmt.Errorf("gstreamer: rewind stop: %w", err)
	}
	s.drainSamples()
	s.stopping.Store(false)

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.playing = false
		return fmt.Errorf("gstreamer: rewind restart: %w", err)
	}
	s.epochNano.Store(time.Now().UnixNano())
	s.eos = make(chan struct{})
	return nil
}

// Close tears the pipeline down. Safe to call more than once.
func (s *FileSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopping.Store(true)
	done := s.done
	s.mu.Unlock()

	close(s.quit)
	s.drainSamples()
	if done != nil {
		<-done
	}
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: stop playback: %w", err)
	}
	return nil
}

// ensurePlaying starts the pipeline and its bus watcher on first use.
func (s *FileSource) ensurePlaying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nil
	}
	s.epochNano.Store(time.Now().UnixNano())
	s.eos = make(chan struct{})
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstreamer: start playback: %w", err)
	}
	s.playing = true
	if s.done == nil {
		s.done = make(chan struct{})
		go s.watch(s.done)
	}
	return nil
}

// watch polls the bus for the life of the source. End of stream closes
// the current run's eos channel; Rewind installs a fresh one for the
// next run. Errors are queued for Next, first one wins.
func (s *FileSource) watch(done chan struct{}) {
	defer close(done)
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.quit:
			return
		default:
		}
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			imageflow.Logger().Debug("gstreamer end of stream")
			s.mu.Lock()
			select {
			case <-s.eos:
			default:
				close(s.eos)
			}
			s.mu.Unlock()
		case gst.MessageError:
			gerr := msg.ParseError()
			imageflow.Logger().Error("gstreamer pipeline error",
				"err", gerr.Error(), "debug", gerr.DebugString())
			select {
			case s.errs <- fmt.Errorf("gstreamer: pipeline error: %s", gerr.Error()):
			default:
			}
		}
	}
}

// onSample queues one decoded RGBA frame for Next. During state
// transitions it discards frames instead of blocking the streaming
// thread.
func (s *FileSource) onSample(sink *app.Sink) gst.FlowReturn {
	if s.stopping.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	at := time.Duration(time.Now().UnixNano() - s.epochNano.Load())

	select {
	case s.samples <- fileSample{pixels: pixels, at: at}:
		return gst.FlowOK
	case <-s.quit:
		return gst.FlowEOS
	}
}

// drainSamples empties the queue so a blocked streaming thread can
// finish its send.
func (s *FileSource) drainSamples() {
	for {
		select {
		case <-s.samples:
		default:
			return
		}
	}
}
