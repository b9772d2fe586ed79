package imageflow

import "testing"

func TestOperationGroupActsAsSingleNode(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	group := NewOperationGroup(ctx)
	inner := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		group.Configure(func(input, output *ImageRelay) {
			input.AddTarget(inner)
			inner.AddTarget(output)
		})
		src.AddTarget(group)
		group.AddTarget(sink)

		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		src.UpdateTargets(fb)
	})

	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Fatalf("sink received %d deliveries, want 1 through the group interior", got)
		}
	})
	// Lock parity held across input relay, interior stage, and output relay.
	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1", got)
	}
	if got := group.TargetCount(); got != 1 {
		t.Errorf("TargetCount() = %d, want 1", got)
	}
}

func TestOperationGroupMaximumInputs(t *testing.T) {
	ctx := newTestContext(t)
	group := NewOperationGroup(ctx)

	if got := group.MaximumInputs(); got != 1 {
		t.Errorf("MaximumInputs() = %d, want 1", got)
	}
}

func TestOperationGroupReplaysInteriorImage(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	group := NewOperationGroup(ctx)
	inner := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		group.Configure(func(input, output *ImageRelay) {
			input.AddTarget(inner)
			inner.AddTarget(output)
		})
		src.AddTarget(group)
	})
	ctx.Sync(func() {}) // drain the attach-time replay while nothing is retained

	ctx.Sync(func() {
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, true)
		fb.SetTiming(StillImageTime())
		fb.Lock()
		src.retained = fb

		// A late attach on the group boundary walks the replay request
		// back through both relays to the ultimate source.
		group.AddTarget(sink)
	})

	ctx.Sync(func() {})
	ctx.Sync(func() {
		if got := len(sink.received); got != 1 {
			t.Errorf("late-attached sink received %d deliveries, want 1", got)
		}
		if src.transmits != 1 {
			t.Errorf("source transmits = %d, want 1", src.transmits)
		}
	})
}

func TestOperationGroupCloseLeavesInterior(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	group := NewOperationGroup(ctx)
	inner := NewImageRelay(ctx)
	sink := newCaptureSink(ctx, 1)

	ctx.Sync(func() {
		group.Configure(func(input, output *ImageRelay) {
			input.AddTarget(inner)
			inner.AddTarget(output)
		})
		src.AddTarget(group)
		group.AddTarget(sink)
	})
	group.Close()

	if got := src.TargetCount(); got != 0 {
		t.Errorf("upstream TargetCount() = %d, want 0 after group close", got)
	}
	if got := sink.SourceCount(); got != 0 {
		t.Errorf("downstream SourceCount() = %d, want 0 after group close", got)
	}
	// Interior stages stay registered; their lifecycle belongs to whoever
	// wired them.
	if got := inner.TargetCount(); got != 0 {
		t.Errorf("interior TargetCount() = %d, want 0 with the output relay gone", got)
	}
}
