package imageflow

import (
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/imageflow/internal/progcache"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// Embedded passthrough shader source.
//
//go:embed shaders/passthrough.wgsl
var passthroughShaderWGSL string

// Shader errors.
var (
	// ErrShaderCompile is returned when WGSL source fails to compile.
	ErrShaderCompile = errors.New("imageflow: shader compilation failed")

	// ErrPipelineCreate is returned when render pipeline creation fails.
	ErrPipelineCreate = errors.New("imageflow: render pipeline creation failed")
)

// quadVertexStride is the byte stride per vertex in filter pipelines.
// Layout per vertex:
//
//	position  (vec2<f32>) = 8 bytes  (location 0)
//	tex_coord (vec2<f32>) = 8 bytes  (location 1)
//
// Total = 16 bytes per vertex. A full-frame quad is 4 vertices drawn as
// a triangle strip.
const quadVertexStride = 16

// standardQuadPositions are the NDC corners of the full-frame quad, in
// triangle-strip order matching Rotation.TextureCoordinates.
var standardQuadPositions = [8]float32{
	-1, -1,
	1, -1,
	-1, 1,
	1, 1,
}

// quadVertexLayout describes the interleaved position+texcoord buffer
// filter pipelines consume.
func quadVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: quadVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0}, // position
				{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1}, // tex_coord
			},
		},
	}
}

// ShaderProgram is a compiled filter program: shader module, layouts, and
// the render pipeline targeting a fixed color format. Programs are owned
// by the context's shader store and shared between operations; do not
// destroy one directly.
type ShaderProgram struct {
	label      string
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	format     gputypes.TextureFormat
}

// Label returns the program's debug label.
func (p *ShaderProgram) Label() string { return p.label }

// Pipeline returns the compiled render pipeline.
func (p *ShaderProgram) Pipeline() hal.RenderPipeline { return p.pipeline }

// BindGroupLayout returns the layout for binding 0: input texture at
// binding 0, sampler at binding 1.
func (p *ShaderProgram) BindGroupLayout() hal.BindGroupLayout { return p.bindLayout }

// Format returns the color target format the pipeline was compiled for.
func (p *ShaderProgram) Format() gputypes.TextureFormat { return p.format }

// destroy releases the program's GPU objects in reverse creation order.
func (p *ShaderProgram) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if p.pipeline != nil {
		device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

// programKey identifies a compiled program by source identity and color
// target format.
type programKey struct {
	sourceHash uint64
	format     gputypes.TextureFormat
}

// shaderStore caches compiled programs for a context. The built-in
// passthrough program is compiled once on first use; custom filter
// programs are deduplicated by source hash and target format. Compile
// and teardown both run on the context's render queue.
type shaderStore struct {
	device   hal.Device
	programs *progcache.Cache[programKey, *ShaderProgram]

	passOnce sync.Once
	pass     *ShaderProgram
}

func newShaderStore() *shaderStore {
	s := &shaderStore{}
	s.programs = progcache.New[programKey, *ShaderProgram](0, func(_ programKey, p *ShaderProgram) {
		p.destroy(s.device)
	})
	return s
}

// passthrough returns the built-in passthrough program, compiling it on
// first use. The built-in source is trusted: a compile failure here is a
// toolchain defect and panics. Returns nil without a device.
func (s *shaderStore) passthrough(device hal.Device) *ShaderProgram {
	if device == nil {
		return nil
	}
	s.passOnce.Do(func() {
		p, err := s.program(device, "imageflow.passthrough", passthroughShaderWGSL,
			gputypes.TextureFormatRGBA8Unorm)
		if err != nil {
			panic(fmt.Sprintf("imageflow: built-in passthrough shader failed to compile: %v", err))
		}
		s.pass = p
	})
	return s.pass
}

// program returns a cached program for the given WGSL source and color
// target format, compiling on miss. User-supplied source is untrusted
// input, so failures surface as errors rather than panics.
func (s *shaderStore) program(device hal.Device, label, wgsl string, format gputypes.TextureFormat) (*ShaderProgram, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: no device attached", ErrShaderCompile)
	}
	s.device = device
	key := programKey{sourceHash: hashShaderSource(wgsl), format: format}
	return s.programs.GetOrCreate(key, func() (*ShaderProgram, error) {
		p, err := compileProgram(device, label, wgsl, format)
		if err != nil {
			return nil, err
		}
		Logger().Debug("compiled shader program", "label", label, "format", format)
		return p, nil
	})
}

// destroy releases every cached program, the passthrough included.
// Called from context Close on the render queue.
func (s *shaderStore) destroy(device hal.Device) {
	if device == nil {
		return
	}
	s.device = device
	n := s.programs.Len()
	s.programs.Drain()
	s.pass = nil
	if n > 0 {
		Logger().Debug("released shader programs", "count", n)
	}
}

// hashShaderSource computes the FNV-1a identity of WGSL source text.
func hashShaderSource(src string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(src)) // fnv.Write never returns an error
	return h.Sum64()
}

// compileProgram compiles WGSL through the naga front-end to SPIR-V and
// builds the filter render pipeline around it: one input texture, one
// sampler, interleaved quad vertices, triangle-strip topology, opaque
// single-sample output.
func compileProgram(device hal.Device, label, wgsl string, format gputypes.TextureFormat) (*ShaderProgram, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrShaderCompile, label, err)
	}

	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	p := &ShaderProgram{label: label, format: format}

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: create module: %w", ErrShaderCompile, label, err)
	}
	p.shader = shader

	// Bind group layout:
	//   Binding 0: input texture (texture_2d, fragment)
	//   Binding 1: sampler (fragment)
	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + ".bind",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		p.destroy(device)
		return nil, fmt.Errorf("%w: %s: create bind layout: %w", ErrPipelineCreate, label, err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + ".layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.destroy(device)
		return nil, fmt.Errorf("%w: %s: create pipeline layout: %w", ErrPipelineCreate, label, err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  label + ".pipeline",
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.shader,
			EntryPoint: "vs_main",
			Buffers:    quadVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     p.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    format,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleStrip,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		p.destroy(device)
		return nil, fmt.Errorf("%w: %s: create pipeline: %w", ErrPipelineCreate, label, err)
	}
	p.pipeline = pipeline

	return p, nil
}
