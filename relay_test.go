package imageflow

import "testing"

func TestRelayForwardsWithLockParity(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		src.AddTarget(relay)
		relay.AddTarget(sink)

		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		src.UpdateTargets(fb)
	})

	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Fatalf("sink received %d deliveries, want 1", got)
		}
		// The relay takes its downstream lock before releasing the one it
		// arrived with, so the sink sees exactly one outstanding reference.
		if got := sink.received[0].refs; got != 1 {
			t.Errorf("refcount at delivery = %d, want 1", got)
		}
	})
	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1 after the sink released", got)
	}
}

func TestRelayCallbackObservesEveryFrame(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	var seen []uint64
	relay.NewImageCallback = func(fb *Framebuffer) { seen = append(seen, fb.ID()) }

	ctx.Sync(func() {
		src.AddTarget(relay)
		relay.AddTarget(sink)
		for range 3 {
			fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
			src.UpdateTargets(fb)
		}
	})

	ctx.Sync(func() {
		if got := len(seen); got != 3 {
			t.Errorf("callback observed %d frames, want 3", got)
		}
		if got := len(sink.received); got != 3 {
			t.Errorf("sink received %d frames, want 3", got)
		}
	})
}

func TestRelayPreventRelayTransfersLock(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	var held *Framebuffer
	relay.PreventRelay = true
	relay.NewImageCallback = func(fb *Framebuffer) { held = fb }

	ctx.Sync(func() {
		src.AddTarget(relay)
		relay.AddTarget(sink)

		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		src.UpdateTargets(fb)
	})

	ctx.Sync(func() {
		if got := len(sink.received); got != 0 {
			t.Fatalf("sink received %d deliveries, want 0 with relay blocked", got)
		}
		if held == nil {
			t.Fatal("callback never ran")
		}
		// The incoming lock now belongs to the callback holder.
		if got := held.ReferenceCount(); got != 1 {
			t.Errorf("held refcount = %d, want 1", got)
		}
	})
	if got := ctx.FramebufferCache().IdleCount(); got != 0 {
		t.Fatalf("IdleCount() = %d, want 0 while the holder keeps its lock", got)
	}

	ctx.Sync(func() { held.Unlock() })
	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1 after the holder released", got)
	}
}

func TestRelayZeroTargetsRecycles(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)

	ctx.Sync(func() {
		src.AddTarget(relay)
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		src.UpdateTargets(fb)
	})

	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1: a dead-end relay must not strand buffers", got)
	}
}

func TestRelayReplaysThroughUpstream(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		src.AddTarget(relay)
	})
	ctx.Sync(func() {}) // drain the attach-time replay while nothing is retained

	ctx.Sync(func() {
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		fb.SetTiming(StillImageTime())
		fb.Lock()
		src.retained = fb

		// Attaching downstream of the relay pulls the retained image
		// through the whole chain.
		relay.AddTarget(sink)
	})

	ctx.Sync(func() {}) // let the scheduled replay run
	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Errorf("late-attached sink received %d deliveries, want 1", got)
		}
		if src.transmits != 1 {
			t.Errorf("upstream transmits = %d, want 1", src.transmits)
		}
	})
}

func TestRelayCloseSeversBothSides(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	relay := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		src.AddTarget(relay)
		relay.AddTarget(sink)
	})
	relay.Close()

	if got := src.TargetCount(); got != 0 {
		t.Errorf("upstream TargetCount() = %d, want 0", got)
	}
	if got := sink.SourceCount(); got != 0 {
		t.Errorf("downstream SourceCount() = %d, want 0", got)
	}
}
