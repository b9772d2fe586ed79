//go:build gstreamer

package gstreamer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/imageflow"
)

// Capture errors.
var (
	// ErrSizeRequired is returned when a capture config has no output size.
	ErrSizeRequired = errors.New("gstreamer: output size required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("gstreamer: capture already started")
)

// CameraConfig configures a live capture pipeline.
type CameraConfig struct {
	// Device is a v4l2 device path such as /dev/video0. Empty picks the
	// platform default camera through autovideosrc.
	Device string

	// Size is the delivered resolution; the pipeline scales to it.
	Size imageflow.Size

	// FPS caps the delivered frame rate by dropping, never duplicating.
	// Zero keeps the device rate.
	FPS float64

	// Orientation tags every frame. Webcams usually deliver landscape.
	Orientation imageflow.ImageOrientation
}

// CameraSource feeds an imageflow.Camera from a live GStreamer capture
// pipeline: camera → convert/scale to RGBA → rate cap → appsink. Each
// sample is copied out of the GStreamer buffer, stamped with a fresh
// trace ID, and handed to Camera.PushFrame, which applies the
// pipeline's drop policy when the render queue is behind.
type CameraSource struct {
	camera   *imageflow.Camera
	pipeline *gst.Pipeline
	sink     *app.Sink
	size     imageflow.Size
	orient   imageflow.ImageOrientation

	mu      sync.Mutex
	epoch   time.Time
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCameraSource builds the capture pipeline without starting it.
func NewCameraSource(camera *imageflow.Camera, cfg CameraConfig) (*CameraSource, error) {
	if camera == nil {
		panic("gstreamer: NewCameraSource requires a Camera")
	}
	if cfg.Size.Width <= 0 || cfg.Size.Height <= 0 {
		return nil, ErrSizeRequired
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create pipeline: %w", err)
	}

	var src *gst.Element
	if cfg.Device != "" {
		src, err = newElement("v4l2src")
		if err != nil {
			return nil, err
		}
		src.SetProperty("device", cfg.Device)
	} else {
		src, err = newElement("autovideosrc")
		if err != nil {
			return nil, err
		}
	}

	converter, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}
	scaler, err := newElement("videoscale")
	if err != nil {
		return nil, err
	}
	videorate, err := newElement("videorate")
	if err != nil {
		return nil, err
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbaCaps(cfg.Size, cfg.FPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)

	pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("gstreamer: link capture pipeline: %w", err)
	}

	s := &CameraSource{
		camera:   camera,
		pipeline: pipeline,
		sink:     appsink,
		size:     cfg.Size,
		orient:   cfg.Orientation,
	}
	appsink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: s.onSample})
	return s, nil
}

// Start sets the pipeline playing and begins watching its bus. Frames
// arrive on the camera asynchronously once the device is up.
//
// State transitions run outside the mutex: the GStreamer streaming
// thread takes it per sample in onSample, and a transition can wait on
// that thread.
func (s *CameraSource) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.epoch = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("gstreamer: start capture pipeline: %w", err)
	}
	go func() {
		defer close(done)
		// EOS and errors are logged by the watcher; a live capture has
		// no downstream waiter to hand them to.
		_ = watchBus(s.pipeline, stop)
	}()
	return nil
}

// onSample copies one RGBA sample out of GStreamer and pushes it into
// the camera. Pull or map failures skip the frame rather than killing
// the stream.
func (s *CameraSource) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		imageflow.Logger().Warn("camera capture sample pull failed, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		imageflow.Logger().Warn("camera capture sample has no buffer, skipping frame")
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

	s.mu.Lock()
	at := time.Since(s.epoch)
	s.mu.Unlock()

	s.camera.PushFrame(imageflow.CameraFrame{
		Pixels:      pixels,
		Size:        s.size,
		Orientation: s.orient,
		Time:        at,
		TraceID:     uuid.New().String(),
	})
	return gst.FlowOK
}

// Close stops the pipeline and its bus watcher. Safe to call more than
// once; the camera itself stays open.
func (s *CameraSource) Close() error {
	s.mu.Lock()
	if s.started {
		close(s.stop)
		done := s.done
		s.started = false
		s.mu.Unlock()
		<-done
	} else {
		s.mu.Unlock()
	}
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: stop capture pipeline: %w", err)
	}
	return nil
}
