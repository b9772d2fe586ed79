package imageflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeVideoSource serves a fixed number of synthetic 4x4 frames and
// supports rewinding. Rewind fails once failRewindAfter successful
// rewinds have happened, which lets loop tests terminate deterministically.
type fakeVideoSource struct {
	frames   int
	interval time.Duration

	pos             int
	rewinds         int
	failRewindAfter int
	rewindErr       error
	closed          bool
}

func (s *fakeVideoSource) Next(ctx context.Context) (VideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return VideoFrame{}, err
	}
	if s.pos >= s.frames {
		return VideoFrame{}, ErrEndOfStream
	}
	frame := VideoFrame{
		Pixels: make([]byte, 4*4*4),
		Size:   Size{Width: 4, Height: 4},
		Time:   time.Duration(s.pos) * s.interval,
	}
	s.pos++
	return frame, nil
}

func (s *fakeVideoSource) Rewind() error {
	if s.rewindErr != nil && s.rewinds >= s.failRewindAfter {
		return s.rewindErr
	}
	s.rewinds++
	s.pos = 0
	return nil
}

func (s *fakeVideoSource) Close() error {
	s.closed = true
	return nil
}

// plainVideoSource has no rewind support and an injectable close error.
type plainVideoSource struct {
	frames   int
	pos      int
	failAt   int
	nextErr  error
	closeErr error
}

func (s *plainVideoSource) Next(ctx context.Context) (VideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return VideoFrame{}, err
	}
	if s.nextErr != nil && s.pos == s.failAt {
		return VideoFrame{}, s.nextErr
	}
	if s.pos >= s.frames {
		return VideoFrame{}, ErrEndOfStream
	}
	s.pos++
	return VideoFrame{
		Pixels: make([]byte, 4*4*4),
		Size:   Size{Width: 4, Height: 4},
	}, nil
}

func (s *plainVideoSource) Close() error { return s.closeErr }

// emptyFrameSource yields one zero-length frame between two good ones.
type emptyFrameSource struct {
	pos int
}

func (s *emptyFrameSource) Next(ctx context.Context) (VideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return VideoFrame{}, err
	}
	defer func() { s.pos++ }()
	switch s.pos {
	case 0, 2:
		return VideoFrame{Pixels: make([]byte, 4*4*4), Size: Size{Width: 4, Height: 4}}, nil
	case 1:
		return VideoFrame{}, nil
	default:
		return VideoFrame{}, ErrEndOfStream
	}
}

func (s *emptyFrameSource) Close() error { return nil }

func TestMoviePlaysAllFrames(t *testing.T) {
	ctx := newTestContext(t)
	src := &fakeVideoSource{frames: 5, interval: 33 * time.Millisecond}
	movie := NewMovieInput(ctx, src)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() { movie.AddTarget(sink) })

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := movie.FramesRead(); got != 5 {
		t.Errorf("FramesRead() = %d, want 5", got)
	}

	ctx.Sync(func() {
		if got := len(sink.received); got != 5 {
			t.Fatalf("sink received %d frames, want 5", got)
		}
		for i, d := range sink.received {
			want := VideoFrameTime(MediaTimeFromDuration(time.Duration(i) * 33 * time.Millisecond))
			if d.timing != want {
				t.Errorf("frame %d timing = %+v, want %+v", i, d.timing, want)
			}
		}
	})

	if err := movie.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !src.closed {
		t.Error("Close must close the underlying source")
	}
}

func TestMovieStartTwice(t *testing.T) {
	ctx := newTestContext(t)
	movie := NewMovieInput(ctx, &fakeVideoSource{frames: 1})

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
	_ = movie.Close()
}

func TestMovieLoopingRewindsSource(t *testing.T) {
	ctx := newTestContext(t)
	rewindErr := errors.New("stream gone")
	src := &fakeVideoSource{frames: 2, failRewindAfter: 1, rewindErr: rewindErr}
	movie := NewMovieInput(ctx, src, WithLooping())

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Two frames, one successful rewind, two more frames, then the
	// injected rewind failure ends playback.
	if err := movie.Wait(); !errors.Is(err, rewindErr) {
		t.Fatalf("Wait error = %v, want the rewind failure", err)
	}
	if got := movie.FramesRead(); got != 4 {
		t.Errorf("FramesRead() = %d, want 4 across the loop boundary", got)
	}
	if src.rewinds != 1 {
		t.Errorf("rewinds = %d, want 1", src.rewinds)
	}
}

func TestMovieLoopingWithoutRewindSupport(t *testing.T) {
	buf := captureWarnings(t)
	ctx := newTestContext(t)
	movie := NewMovieInput(ctx, &plainVideoSource{frames: 2}, WithLooping())

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Wait(); err != nil {
		t.Errorf("Wait: %v, want clean stop when looping is impossible", err)
	}
	if got := movie.FramesRead(); got != 2 {
		t.Errorf("FramesRead() = %d, want 2", got)
	}
	if !strings.Contains(buf.String(), "does not support rewind") {
		t.Errorf("expected rewind warning, got: %s", buf.String())
	}
}

func TestMovieDecodeErrorSurfacesInWait(t *testing.T) {
	ctx := newTestContext(t)
	decodeErr := errors.New("corrupt packet")
	src := &plainVideoSource{frames: 5, failAt: 1, nextErr: decodeErr}
	movie := NewMovieInput(ctx, src)

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Wait(); !errors.Is(err, decodeErr) {
		t.Errorf("Wait error = %v, want the decode failure", err)
	}
	if got := movie.FramesRead(); got != 1 {
		t.Errorf("FramesRead() = %d, want 1 before the failure", got)
	}
}

func TestMovieCloseCancelsPlayback(t *testing.T) {
	ctx := newTestContext(t)
	// Effectively endless; Close has to interrupt it.
	src := &fakeVideoSource{frames: 1 << 30}
	movie := NewMovieInput(ctx, src)

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx.Sync(func() {}) // give playback a chance to push frames

	if err := movie.Close(); err != nil {
		t.Errorf("Close after cancel: %v, want nil (cancellation is clean shutdown)", err)
	}
	if !src.closed {
		t.Error("Close must close the underlying source")
	}
}

func TestMovieCloseWithoutStart(t *testing.T) {
	ctx := newTestContext(t)
	closeErr := errors.New("device busy")
	movie := NewMovieInput(ctx, &plainVideoSource{closeErr: closeErr})

	if err := movie.Close(); !errors.Is(err, closeErr) {
		t.Errorf("Close error = %v, want the source close failure", err)
	}
}

func TestMovieCloseAggregatesErrors(t *testing.T) {
	ctx := newTestContext(t)
	decodeErr := errors.New("corrupt packet")
	closeErr := errors.New("device busy")
	src := &plainVideoSource{frames: 5, failAt: 0, nextErr: decodeErr, closeErr: closeErr}
	movie := NewMovieInput(ctx, src)

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := movie.Close()
	if !errors.Is(err, decodeErr) || !errors.Is(err, closeErr) {
		t.Errorf("Close error = %v, want both the decode and close failures", err)
	}
}

func TestMovieRealtimePacingDelaysFrames(t *testing.T) {
	ctx := newTestContext(t)
	src := &fakeVideoSource{frames: 2, interval: 50 * time.Millisecond}
	movie := NewMovieInput(ctx, src, WithRealtimePacing())

	start := time.Now()
	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Frame 0 plays immediately, frame 1 is due 50ms later. Only a lower
	// bound is asserted; scheduling may stretch the wall time.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("playback finished in %v, want at least ~50ms of pacing", elapsed)
	}
}

func TestMovieSkipsEmptyFrames(t *testing.T) {
	buf := captureWarnings(t)
	ctx := newTestContext(t)
	movie := NewMovieInput(ctx, &emptyFrameSource{})
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() { movie.AddTarget(sink) })

	if err := movie.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := movie.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := movie.FramesRead(); got != 2 {
		t.Errorf("FramesRead() = %d, want 2 with the empty frame skipped", got)
	}
	ctx.Sync(func() {
		if got := len(sink.received); got != 2 {
			t.Errorf("sink received %d frames, want 2", got)
		}
	})
	if !strings.Contains(buf.String(), "empty") {
		t.Errorf("expected an empty-frame warning, got: %s", buf.String())
	}
	_ = movie.Close()
}
