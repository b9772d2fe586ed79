// Package imageflow provides a real-time GPU image and video
// processing pipeline for Go.
//
// # Overview
//
// imageflow moves frames through a directed graph of sources, filter
// operations, and sinks. Framebuffers are reference counted and pooled,
// so a steady-state pipeline allocates no new GPU textures per frame.
// All graph mutation and rendering happens on a single serialized
// context queue; public API calls marshal onto it, which keeps node
// state free of locks.
//
// # Quick Start
//
//	import "github.com/gogpu/imageflow"
//
//	ctx := imageflow.NewRenderContext()
//	defer ctx.Close()
//
//	// Build a pipeline: camera -> filter -> raw RGBA callback.
//	cam := imageflow.NewCamera(ctx)
//	op := imageflow.NewPassthroughOperation(ctx)
//	out := imageflow.NewRawDataOutput(ctx)
//	out.DataAvailableCallback = func(data []byte) { /* consume pixels */ }
//
//	ctx.Sync(func() {
//		cam.AddTarget(op)
//		op.AddTarget(out)
//	})
//
//	// Feed frames from any goroutine; slow pipelines drop, not queue.
//	cam.PushFrame(imageflow.CameraFrame{Pixels: rgba, Size: size})
//
// # Architecture
//
// The library is organized into:
//   - Graph: SourceNode fan-out, ConsumerNode slots, ImageRelay and
//     OperationGroup composites
//   - Buffers: Framebuffer refcounts, FramebufferCache pooling keyed by
//     size, format, and texture parameters
//   - Nodes: Camera, MovieInput, PictureInput, TextureInput sources;
//     RenderView, TextureOutput, RawDataOutput sinks; BasicOperation
//     shader filters
//   - Subpackages: gpu (device bootstrap), gstreamer (live and file
//     capture feeds)
//
// # Logical Mode
//
// A context created without a device runs in logical mode: buffers,
// refcounts, timing, and delivery all behave normally, but render and
// readback are no-ops. Tests and headless tools run this way without a
// GPU present.
//
// # Threading
//
// Node state is confined to the context queue. Use Sync for a
// happens-before barrier with completed work, Async to schedule without
// waiting. Operations that must run on the queue panic when called off
// it, which turns threading mistakes into immediate failures instead of
// races.
package imageflow

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
