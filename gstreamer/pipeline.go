//go:build gstreamer

package gstreamer

import (
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/gogpu/imageflow"
)

// busPollInterval bounds how long shutdown waits on a quiet bus.
const busPollInterval = 50 * time.Millisecond

// newElement creates a named GStreamer element with a uniform error.
func newElement(factory string) (*gst.Element, error) {
	el, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create %s: %w", factory, err)
	}
	return el, nil
}

// rgbaCaps builds the caps string that locks the appsink input to
// tightly packed RGBA at the given size. fps <= 0 omits the framerate
// constraint; fractional rates below 1 become 1/N like GStreamer
// expects.
func rgbaCaps(size imageflow.Size, fps float64) string {
	s := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", size.Width, size.Height)
	if fps <= 0 {
		return s
	}
	numerator, denominator := 1, 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return fmt.Sprintf("%s,framerate=%d/%d", s, numerator, denominator)
}

// watchBus polls the pipeline bus until the stop channel closes or a
// terminal message arrives: nil on stop, imageflow.ErrEndOfStream on
// end of stream, a wrapped pipeline error otherwise.
func watchBus(pipeline *gst.Pipeline, stop <-chan struct{}) error {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			imageflow.Logger().Debug("gstreamer end of stream")
			return imageflow.ErrEndOfStream
		case gst.MessageError:
			gerr := msg.ParseError()
			imageflow.Logger().Error("gstreamer pipeline error",
				"err", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("gstreamer: pipeline error: %s", gerr.Error())
		}
	}
}
