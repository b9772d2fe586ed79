package imageflow

import "testing"

func TestRawDataOutputDeliversPixels(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	out := NewRawDataOutput(ctx)

	var frames [][]byte
	out.DataAvailableCallback = func(data []byte) { frames = append(frames, data) }

	ctx.Sync(func() {
		src.AddTarget(out)
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 2}, false)
		src.UpdateTargets(fb)
	})

	ctx.Sync(func() {
		if got := len(frames); got != 1 {
			t.Fatalf("callback ran %d times, want 1", got)
		}
		// Logical mode reads back zeroed rows of the exact frame length.
		if got := len(frames[0]); got != 4*2*4 {
			t.Errorf("len(data) = %d, want 32 bytes of 4x2 RGBA", got)
		}
	})
	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1: readback must release the frame", got)
	}
}

func TestRawDataOutputWithoutCallbackReleases(t *testing.T) {
	ctx := newTestContext(t)
	src := newStubSource(ctx)
	out := NewRawDataOutput(ctx)

	ctx.Sync(func() {
		src.AddTarget(out)
		fb := ctx.FramebufferCache().RequestFramebufferDefault(Portrait, Size{Width: 4, Height: 4}, false)
		src.UpdateTargets(fb)
	})

	if got := ctx.FramebufferCache().IdleCount(); got != 1 {
		t.Errorf("IdleCount() = %d, want 1 with no callback attached", got)
	}
}
