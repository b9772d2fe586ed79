package imageflow

import (
	"fmt"
	"time"
)

// TimingStyle classifies the temporal nature of an image buffer.
type TimingStyle int

const (
	// TimingStyleUnknown marks buffers with no timing information, such as
	// intermediate render targets before a producer stamps them.
	TimingStyleUnknown TimingStyle = iota

	// TimingStyleStillImage marks buffers from non-temporal sources
	// (decoded pictures, external textures). Operations fed exclusively
	// by still images behave as still sources themselves.
	TimingStyleStillImage

	// TimingStyleVideoFrame marks buffers that belong to a timed stream
	// and carry a media timestamp.
	TimingStyleVideoFrame
)

// String returns the timing style name.
func (s TimingStyle) String() string {
	switch s {
	case TimingStyleUnknown:
		return "Unknown"
	case TimingStyleStillImage:
		return "StillImage"
	case TimingStyleVideoFrame:
		return "VideoFrame"
	default:
		return "Invalid"
	}
}

// MediaTime is a rational media timestamp: Value ticks at Timescale ticks
// per second. A zero Timescale marks an invalid time.
type MediaTime struct {
	Value     int64
	Timescale int32
}

// IsValid reports whether the timestamp carries a usable timescale.
func (t MediaTime) IsValid() bool { return t.Timescale > 0 }

// Seconds converts the timestamp to floating-point seconds.
// Invalid timestamps convert to 0.
func (t MediaTime) Seconds() float64 {
	if !t.IsValid() {
		return 0
	}
	return float64(t.Value) / float64(t.Timescale)
}

// Before reports whether t precedes other on the media timeline.
// Comparison cross-multiplies so differing timescales compare exactly.
func (t MediaTime) Before(other MediaTime) bool {
	return t.Value*int64(other.Timescale) < other.Value*int64(t.Timescale)
}

// MediaTimeFromDuration converts an offset from stream start to a
// nanosecond-scale media timestamp. Capture and decode boundaries hand
// in time.Duration; this is the stamp they get.
func MediaTimeFromDuration(d time.Duration) MediaTime {
	return MediaTime{Value: d.Nanoseconds(), Timescale: 1_000_000_000}
}

// String formats the timestamp as value/timescale.
func (t MediaTime) String() string {
	return fmt.Sprintf("%d/%d", t.Value, t.Timescale)
}

// FrameTime tags an image buffer with its temporal identity.
//
// The zero value is "unknown timing", which is what freshly pooled buffers
// carry until a producer stamps them.
type FrameTime struct {
	Style     TimingStyle
	Timestamp MediaTime
}

// StillImageTime returns the timing tag for non-temporal sources.
func StillImageTime() FrameTime {
	return FrameTime{Style: TimingStyleStillImage}
}

// VideoFrameTime returns the timing tag for a timed frame.
func VideoFrameTime(ts MediaTime) FrameTime {
	return FrameTime{Style: TimingStyleVideoFrame, Timestamp: ts}
}

// IsTransient reports whether a buffer with this timing belongs to a
// continuous stream: transient frames are released after processing, while
// still images are retained so they can be replayed to late-joining targets.
func (f FrameTime) IsTransient() bool {
	return f.Style == TimingStyleVideoFrame
}

// LaterOf merges timing across a multi-input operation: if any input is a
// video frame the result is a video frame carrying the latest timestamp;
// all-still inputs yield a still result; anything else is unknown.
func (f FrameTime) LaterOf(other FrameTime) FrameTime {
	switch {
	case f.Style == TimingStyleVideoFrame && other.Style == TimingStyleVideoFrame:
		if f.Timestamp.Before(other.Timestamp) {
			return other
		}
		return f
	case f.Style == TimingStyleVideoFrame:
		return f
	case other.Style == TimingStyleVideoFrame:
		return other
	case f.Style == TimingStyleStillImage && other.Style == TimingStyleStillImage:
		return f
	default:
		return FrameTime{}
	}
}
