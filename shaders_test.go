package imageflow

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestHashShaderSource(t *testing.T) {
	const src = "fn fs_main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }"

	if hashShaderSource(src) != hashShaderSource(src) {
		t.Fatal("same source must hash identically")
	}
	if hashShaderSource(src) == hashShaderSource(src+" ") {
		t.Error("program cache keys on exact source text; whitespace must change the hash")
	}
	if hashShaderSource("") == hashShaderSource(src) {
		t.Error("empty source collided with real source")
	}
}

func TestPackQuadVertices(t *testing.T) {
	coords := RotateClockwise.TextureCoordinates()
	buf := packQuadVertices(coords)

	if len(buf) != quadVertexStride*4 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), quadVertexStride*4)
	}

	at := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	for v := 0; v < 4; v++ {
		base := v * 4 // floats per vertex
		if got := [2]float32{at(base), at(base + 1)}; got != [2]float32{standardQuadPositions[v*2], standardQuadPositions[v*2+1]} {
			t.Errorf("vertex %d position = %v, want %v", v, got,
				[2]float32{standardQuadPositions[v*2], standardQuadPositions[v*2+1]})
		}
		if got := [2]float32{at(base + 2), at(base + 3)}; got != [2]float32{coords[v*2], coords[v*2+1]} {
			t.Errorf("vertex %d tex coord = %v, want %v", v, got,
				[2]float32{coords[v*2], coords[v*2+1]})
		}
	}
}

func TestShaderStoreWithoutDevice(t *testing.T) {
	s := newShaderStore()

	if p := s.passthrough(nil); p != nil {
		t.Errorf("passthrough(nil) = %v, want nil", p)
	}
	if _, err := s.program(nil, "test", "fn fs_main() {}", gputypes.TextureFormatRGBA8Unorm); err == nil {
		t.Error("program(nil device) succeeded, want error")
	}
}
