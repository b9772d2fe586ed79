package imageflow

import "fmt"

// defaultCacheSoftThreshold is the idle-buffer count above which the pool
// starts warning. Override with WithCacheSoftThreshold.
const defaultCacheSoftThreshold = 10

// FramebufferCache recycles framebuffers between frames. Requests are
// served from idle buffers with an identical property tuple when possible;
// otherwise a new buffer is allocated and adopted by the pool. Buffers
// return automatically when their reference count reaches zero.
//
// All cache state is confined to the context's render queue: requests
// assert queue affinity, returns hop onto the queue when needed, so the
// pool needs no lock of its own.
type FramebufferCache struct {
	ctx *RenderContext

	// idle maps property hash → stack of idle buffers. The most recently
	// returned buffer is reused first, keeping GPU-warm storage hot.
	idle map[uint64][]*Framebuffer

	// total counts idle buffers across all buckets.
	total int

	// softThreshold triggers a diagnostic warning when the idle count
	// grows past it. Growth is never blocked; a steadily climbing pool
	// almost always means a leaked lock somewhere downstream.
	softThreshold int
}

func newFramebufferCache(ctx *RenderContext, softThreshold int) *FramebufferCache {
	return &FramebufferCache{
		ctx:           ctx,
		idle:          make(map[uint64][]*Framebuffer),
		softThreshold: softThreshold,
	}
}

// RequestFramebuffer returns an idle buffer matching the property tuple,
// or allocates one. Queue-affine: panics off-queue. The request path is
// infallible by contract — an allocation failure here (exhausted device,
// invalid tuple) is a programming error and panics; fallible construction
// goes through [NewFramebuffer] directly.
//
// The returned buffer has a zero reference count, the requested
// orientation, and cleared frame metadata.
func (c *FramebufferCache) RequestFramebuffer(props FramebufferProperties) *Framebuffer {
	c.ctx.queue.assertOnQueue("FramebufferCache.RequestFramebuffer")

	key := props.hash()
	if stack := c.idle[key]; len(stack) > 0 {
		fb := stack[len(stack)-1]
		stack[len(stack)-1] = nil
		c.idle[key] = stack[:len(stack)-1]
		c.total--

		fb.orientation = props.Orientation
		fb.timing = FrameTime{}
		fb.UserInfo = nil
		Logger().Debug("framebuffer pool hit", "id", fb.id, "size", fmt.Sprintf("%dx%d", props.Size.Width, props.Size.Height))
		return fb
	}

	fb, err := NewFramebuffer(c.ctx, props)
	if err != nil {
		panic(fmt.Sprintf("imageflow: framebuffer allocation failed in pool request: %v", err))
	}
	fb.cache = c
	Logger().Debug("framebuffer pool miss, allocated", "id", fb.id, "size", fmt.Sprintf("%dx%d", props.Size.Width, props.Size.Height))
	return fb
}

// RequestFramebufferDefault is RequestFramebuffer with the standard
// filter/wrap/format tuple.
func (c *FramebufferCache) RequestFramebufferDefault(orientation ImageOrientation, size Size, textureOnly bool) *Framebuffer {
	props := DefaultFramebufferProperties(orientation, size)
	props.TextureOnly = textureOnly
	return c.RequestFramebuffer(props)
}

// returnToCache inserts a buffer into the idle set under its stored hash.
// Runs synchronously on the render queue regardless of caller (inline when
// already there). Duplicate returns and overridden textures are rejected.
func (c *FramebufferCache) returnToCache(f *Framebuffer) {
	if f.overridden {
		return
	}
	c.ctx.queue.Sync(func() {
		for _, idle := range c.idle[f.cacheHash] {
			if idle == f {
				Logger().Warn("duplicate framebuffer return ignored", "id", f.id)
				return
			}
		}
		c.idle[f.cacheHash] = append(c.idle[f.cacheHash], f)
		c.total++
		if c.softThreshold > 0 && c.total > c.softThreshold {
			Logger().Warn("framebuffer pool above soft threshold", "idle", c.total, "threshold", c.softThreshold)
		}
	})
}

// PurgeAllUnassignedFramebuffers destroys every idle buffer, synchronously
// on the render queue. Buffers currently in flight are unaffected and will
// re-enter the (now empty) pool when released.
func (c *FramebufferCache) PurgeAllUnassignedFramebuffers() {
	c.ctx.queue.Sync(c.purge)
}

// PurgeAllUnassignedFramebuffersAsync schedules a purge and returns
// immediately. Used from memory-pressure callbacks that must not block.
func (c *FramebufferCache) PurgeAllUnassignedFramebuffersAsync() {
	c.ctx.queue.Async(c.purge)
}

func (c *FramebufferCache) purge() {
	released := c.total
	for hash, stack := range c.idle {
		for _, fb := range stack {
			fb.destroy(c.ctx.device)
		}
		delete(c.idle, hash)
	}
	c.total = 0
	if released > 0 {
		Logger().Debug("framebuffer pool purged", "released", released)
	}
}

// IdleCount returns the number of idle buffers. Safe from any goroutine.
func (c *FramebufferCache) IdleCount() int {
	var n int
	c.ctx.queue.Sync(func() { n = c.total })
	return n
}
