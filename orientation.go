package imageflow

// Size holds pixel dimensions of an image buffer.
//
// Sizes are stored in the buffer's own orientation; use
// [Rotation.RotatedSize] or [Framebuffer.SizeForOrientation] to obtain the
// dimensions as seen by a consumer with a different orientation.
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether either dimension is zero or negative.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// ImageOrientation describes how an image buffer's rows map to the world:
// which edge of the sensor or source is "up". Producers tag buffers with an
// orientation; consumers ask for the rotation needed to display them.
type ImageOrientation int

const (
	// Portrait is the canonical orientation. Buffers fetched from the
	// cache are reset to the orientation requested at fetch time.
	Portrait ImageOrientation = iota

	// PortraitUpsideDown is portrait rotated 180 degrees.
	PortraitUpsideDown

	// LandscapeLeft is portrait rotated 90 degrees counterclockwise.
	LandscapeLeft

	// LandscapeRight is portrait rotated 90 degrees clockwise.
	LandscapeRight
)

// String returns the orientation name.
func (o ImageOrientation) String() string {
	switch o {
	case Portrait:
		return "Portrait"
	case PortraitUpsideDown:
		return "PortraitUpsideDown"
	case LandscapeLeft:
		return "LandscapeLeft"
	case LandscapeRight:
		return "LandscapeRight"
	default:
		return "Unknown"
	}
}

// RotationNeeded returns the rotation that maps an image in orientation o
// onto target.
func (o ImageOrientation) RotationNeeded(target ImageOrientation) Rotation {
	switch {
	case o == target:
		return NoRotation
	case (o == Portrait && target == PortraitUpsideDown) ||
		(o == PortraitUpsideDown && target == Portrait) ||
		(o == LandscapeLeft && target == LandscapeRight) ||
		(o == LandscapeRight && target == LandscapeLeft):
		return Rotate180
	case (o == Portrait && target == LandscapeLeft) ||
		(o == LandscapeRight && target == Portrait) ||
		(o == PortraitUpsideDown && target == LandscapeRight) ||
		(o == LandscapeLeft && target == PortraitUpsideDown):
		return RotateCounterclockwise
	default:
		// portrait→landscapeRight, landscapeLeft→portrait,
		// portraitUpsideDown→landscapeLeft, landscapeRight→portraitUpsideDown
		return RotateClockwise
	}
}

// Rotation describes the transform applied to texture coordinates when an
// image buffer is sampled by a consumer.
type Rotation int

const (
	NoRotation Rotation = iota
	RotateCounterclockwise
	RotateClockwise
	Rotate180
	FlipHorizontally
	FlipVertically
	RotateClockwiseAndFlipVertically
	RotateClockwiseAndFlipHorizontally
)

// String returns the rotation name.
func (r Rotation) String() string {
	switch r {
	case NoRotation:
		return "NoRotation"
	case RotateCounterclockwise:
		return "RotateCounterclockwise"
	case RotateClockwise:
		return "RotateClockwise"
	case Rotate180:
		return "Rotate180"
	case FlipHorizontally:
		return "FlipHorizontally"
	case FlipVertically:
		return "FlipVertically"
	case RotateClockwiseAndFlipVertically:
		return "RotateClockwiseAndFlipVertically"
	case RotateClockwiseAndFlipHorizontally:
		return "RotateClockwiseAndFlipHorizontally"
	default:
		return "Unknown"
	}
}

// FlipsDimensions reports whether the rotation swaps width and height.
func (r Rotation) FlipsDimensions() bool {
	switch r {
	case RotateCounterclockwise, RotateClockwise,
		RotateClockwiseAndFlipVertically, RotateClockwiseAndFlipHorizontally:
		return true
	default:
		return false
	}
}

// RotatedSize returns s with width and height swapped when the rotation
// flips dimensions.
func (r Rotation) RotatedSize(s Size) Size {
	if r.FlipsDimensions() {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// TextureCoordinates returns the per-vertex texture coordinates for a
// triangle-strip quad (bottom-left, bottom-right, top-left, top-right)
// sampling an image with this rotation applied.
func (r Rotation) TextureCoordinates() [8]float32 {
	switch r {
	case NoRotation:
		return [8]float32{0, 0, 1, 0, 0, 1, 1, 1}
	case RotateCounterclockwise:
		return [8]float32{0, 1, 0, 0, 1, 1, 1, 0}
	case RotateClockwise:
		return [8]float32{1, 0, 1, 1, 0, 0, 0, 1}
	case Rotate180:
		return [8]float32{1, 1, 0, 1, 1, 0, 0, 0}
	case FlipHorizontally:
		return [8]float32{1, 0, 0, 0, 1, 1, 0, 1}
	case FlipVertically:
		return [8]float32{0, 1, 1, 1, 0, 0, 1, 0}
	case RotateClockwiseAndFlipVertically:
		return [8]float32{0, 0, 0, 1, 1, 0, 1, 1}
	case RotateClockwiseAndFlipHorizontally:
		return [8]float32{1, 1, 1, 0, 0, 1, 0, 0}
	default:
		return [8]float32{0, 0, 1, 0, 0, 1, 1, 1}
	}
}
