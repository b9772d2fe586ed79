// Command flowdemo pushes synthetic camera frames through a small
// imageflow pipeline and prints delivery statistics.
//
// By default the pipeline runs in logical mode: frames flow, refcounts
// and timing propagate, but no GPU work happens. Pass -gpu to open a
// real device and draw each frame through a brightness shader.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/imageflow"
	"github.com/gogpu/imageflow/gpu"
)

// brightnessWGSL scales the sampled color by 1.3, clamped to white.
const brightnessWGSL = `
struct VertexInput {
    @location(0) position: vec2<f32>,
    @location(1) tex_coord: vec2<f32>,
}

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) tex_coord: vec2<f32>,
}

@group(0) @binding(0) var input_texture: texture_2d<f32>;
@group(0) @binding(1) var input_sampler: sampler;

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(in.position, 0.0, 1.0);
    out.tex_coord = in.tex_coord;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let c = textureSample(input_texture, input_sampler, in.tex_coord);
    return vec4<f32>(min(c.rgb * 1.3, vec3<f32>(1.0)), c.a);
}
`

func main() {
	var (
		width   = flag.Int("width", 640, "frame width")
		height  = flag.Int("height", 360, "frame height")
		frames  = flag.Int("frames", 90, "frames to push")
		fps     = flag.Int("fps", 30, "capture pacing, 0 pushes unpaced")
		useGPU  = flag.Bool("gpu", false, "render on a real device instead of logical mode")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	imageflow.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var opts []imageflow.ContextOption
	if *useGPU {
		dev, err := gpu.Open()
		if err != nil {
			log.Fatalf("GPU open failed: %v", err)
		}
		opts = dev.Options() // context owns the device now
	}
	ctx := imageflow.NewRenderContext(opts...)
	defer func() { _ = ctx.Close() }()

	cam := imageflow.NewCamera(ctx, imageflow.WithInFlightFrames(2))
	op := imageflow.NewPassthroughOperation(ctx)
	out := imageflow.NewRawDataOutput(ctx)

	if *useGPU {
		prog, err := ctx.CompileShader("flowdemo.brightness", brightnessWGSL)
		if err != nil {
			log.Fatalf("compile brightness shader: %v", err)
		}
		op.SetProgram(prog)
	}

	delivered := 0
	frameBytes := 0
	out.DataAvailableCallback = func(data []byte) {
		delivered++
		frameBytes = len(data)
		imageflow.Logger().Debug("frame delivered", "n", delivered, "bytes", len(data))
	}

	ctx.Sync(func() {
		cam.AddTarget(op)
		op.AddTarget(out)
	})

	size := imageflow.Size{Width: *width, Height: *height}
	interval := time.Duration(0)
	if *fps > 0 {
		interval = time.Second / time.Duration(*fps)
	}

	start := time.Now()
	for i := 0; i < *frames; i++ {
		cam.PushFrame(imageflow.CameraFrame{
			Pixels:      gradientFrame(size, i),
			Size:        size,
			Orientation: imageflow.Portrait,
			Time:        time.Duration(i) * interval,
		})
		if interval > 0 {
			time.Sleep(interval)
		}
	}

	// Everything pushed before this barrier has been processed.
	ctx.Sync(func() {})
	elapsed := time.Since(start)

	stats := cam.Stats()
	log.Printf("pushed %d frames in %v: accepted %d, dropped %d, delivered %d (%d bytes/frame)",
		*frames, elapsed.Round(time.Millisecond), stats.Accepted, stats.Dropped, delivered, frameBytes)
}

// gradientFrame renders a shifting RGBA gradient so consecutive frames
// differ visibly.
func gradientFrame(size imageflow.Size, frame int) []byte {
	pixels := make([]byte, size.Width*size.Height*4)
	shift := frame * 3
	i := 0
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			pixels[i] = byte(x + shift)
			pixels[i+1] = byte(y + shift)
			pixels[i+2] = byte(x ^ y)
			pixels[i+3] = 0xFF
			i += 4
		}
	}
	return pixels
}
