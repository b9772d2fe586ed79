package imageflow

import (
	"strings"
	"testing"
	"time"
)

func TestCameraPushFrameDelivers(t *testing.T) {
	ctx := newTestContext(t)
	cam := NewCamera(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() { cam.AddTarget(sink) })

	released := 0
	ok := cam.PushFrame(CameraFrame{
		Pixels:      make([]byte, 4*4*4),
		Size:        Size{Width: 4, Height: 4},
		Orientation: LandscapeLeft,
		Time:        33 * time.Millisecond,
		TraceID:     "frame-1",
		Release:     func() { released++ },
	})
	if !ok {
		t.Fatal("PushFrame rejected a valid frame on an idle pipeline")
	}

	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Fatalf("sink received %d deliveries, want 1", got)
		}
		d := sink.received[0]
		if want := VideoFrameTime(MediaTimeFromDuration(33 * time.Millisecond)); d.timing != want {
			t.Errorf("timing = %+v, want %+v", d.timing, want)
		}
		if d.orientation != LandscapeLeft {
			t.Errorf("orientation = %v, want LandscapeLeft", d.orientation)
		}
		if got := d.userInfo["traceID"]; got != "frame-1" {
			t.Errorf("userInfo traceID = %v, want frame-1", got)
		}
	})

	// Pixel frames are copied during delivery; the release ran on the
	// render queue before the barrier completed.
	if released != 1 {
		t.Errorf("Release ran %d times, want 1", released)
	}
	if got := cam.Stats(); got != (CameraStats{Accepted: 1}) {
		t.Errorf("Stats() = %+v, want 1 accepted, 0 dropped", got)
	}
}

func TestCameraRejectsEmptyFrame(t *testing.T) {
	buf := captureWarnings(t)
	ctx := newTestContext(t)
	cam := NewCamera(ctx)

	released := 0
	if cam.PushFrame(CameraFrame{Release: func() { released++ }}) {
		t.Error("PushFrame accepted an empty frame")
	}
	if released != 1 {
		t.Errorf("Release ran %d times, want 1", released)
	}
	// Empty frames are a caller bug, not backpressure; they never count.
	if got := cam.Stats(); got != (CameraStats{}) {
		t.Errorf("Stats() = %+v, want zero", got)
	}
	if !strings.Contains(buf.String(), "camera frame is empty") {
		t.Errorf("expected empty-frame warning, got: %s", buf.String())
	}
}

func TestCameraDropsUnderBackpressure(t *testing.T) {
	buf := captureWarnings(t)
	ctx := newTestContext(t)
	cam := NewCamera(ctx) // one frame in flight
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() { cam.AddTarget(sink) })

	// Stall the render queue so the first frame cannot complete.
	gate := make(chan struct{})
	ctx.Async(func() { <-gate })

	frame := func(release func()) CameraFrame {
		return CameraFrame{
			Pixels:  make([]byte, 4*4*4),
			Size:    Size{Width: 4, Height: 4},
			Release: release,
		}
	}

	if !cam.PushFrame(frame(nil)) {
		t.Fatal("first frame should claim the in-flight slot")
	}

	var droppedReleased bool
	if cam.PushFrame(frame(func() { droppedReleased = true })) {
		t.Error("second frame should be dropped while the first is in flight")
	}
	if !droppedReleased {
		t.Error("dropped frame's Release must run before PushFrame returns")
	}

	close(gate)
	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Errorf("sink received %d deliveries, want only the accepted frame", got)
		}
	})

	if got := cam.Stats(); got != (CameraStats{Accepted: 1, Dropped: 1}) {
		t.Errorf("Stats() = %+v, want 1 accepted, 1 dropped", got)
	}
	if !strings.Contains(buf.String(), "camera dropping frames") {
		t.Errorf("expected drop warning, got: %s", buf.String())
	}
}

func TestCameraPushAfterContextClose(t *testing.T) {
	ctx := NewRenderContext()
	cam := NewCamera(ctx)
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	released := 0
	ok := cam.PushFrame(CameraFrame{
		Pixels:  make([]byte, 4*4*4),
		Size:    Size{Width: 4, Height: 4},
		Release: func() { released++ },
	})
	if ok {
		t.Error("PushFrame accepted a frame on a closed context")
	}
	if released != 1 {
		t.Errorf("Release ran %d times, want 1", released)
	}
	// The in-flight permit came back; the limiter is balanced.
	if !cam.limiter.TryAcquire() {
		t.Error("limiter slot leaked on the closed-queue path")
	}
}

func TestCameraCloseWaitsForInFlightFrames(t *testing.T) {
	ctx := newTestContext(t)
	cam := NewCamera(ctx, WithInFlightFrames(2))

	released := 0
	for range 2 {
		cam.PushFrame(CameraFrame{
			Pixels:  make([]byte, 4*4*4),
			Size:    Size{Width: 4, Height: 4},
			Release: func() { released++ },
		})
	}

	cam.Close()
	// Drain returned, so both deliveries finished and released their data.
	if released != 2 {
		t.Errorf("Release ran %d times by close, want 2", released)
	}
	if got := cam.Stats(); got.Accepted != 2 {
		t.Errorf("Stats().Accepted = %d, want 2", got.Accepted)
	}
}
