package imageflow

import (
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"

	xdraw "golang.org/x/image/draw"
)

// ErrZeroSizeImage is returned when constructing a picture input from an
// image with no pixels.
var ErrZeroSizeImage = errors.New("imageflow: image has zero size")

// pictureOptions holds optional configuration for PictureInput creation.
type pictureOptions struct {
	orientation ImageOrientation
	smooth      bool
}

// PictureOption configures a PictureInput during creation.
type PictureOption func(*pictureOptions)

// WithPictureOrientation tags the image with a non-portrait orientation.
func WithPictureOrientation(o ImageOrientation) PictureOption {
	return func(opts *pictureOptions) {
		opts.orientation = o
	}
}

// WithSmoothScaling uses a Catmull-Rom kernel when the image has to be
// downscaled to device limits, trading upload time for quality. The
// default kernel is approximate bilinear.
func WithSmoothScaling() PictureOption {
	return func(opts *pictureOptions) {
		opts.smooth = true
	}
}

// PictureInput feeds a still image into a pipeline. The decoded pixels
// are uploaded once at construction; every ProcessImage call fans the
// same framebuffer out again. Stills replay to late-attached targets, so
// a picture wired after processing still delivers.
type PictureInput struct {
	*SourceNode

	fb        *Framebuffer
	pixels    []byte
	processed bool
}

var _ ImageSource = (*PictureInput)(nil)

// NewPictureInput decodes, converts, and uploads an image. Images larger
// than the device's texture limit are downscaled to fit. The stored
// framebuffer holds one producer lock for the input's lifetime; Close
// releases it.
func NewPictureInput(ctx *RenderContext, img image.Image, opts ...PictureOption) (*PictureInput, error) {
	o := pictureOptions{orientation: Portrait}
	for _, opt := range opts {
		opt(&o)
	}

	bounds := img.Bounds()
	size := Size{Width: bounds.Dx(), Height: bounds.Dy()}
	if size.IsZero() {
		return nil, ErrZeroSizeImage
	}

	rgba := imageToRGBA(img)
	if maxDim := int(ctx.limits.MaxTextureDimension2D); maxDim > 0 && (size.Width > maxDim || size.Height > maxDim) {
		rgba = scaleToFit(rgba, maxDim, o.smooth)
		size = Size{Width: rgba.Rect.Dx(), Height: rgba.Rect.Dy()}
		Logger().Info("picture downscaled to device limit",
			"width", size.Width, "height", size.Height, "limit", maxDim)
	}

	props := DefaultFramebufferProperties(o.orientation, size)
	props.TextureOnly = true

	p := &PictureInput{pixels: rgba.Pix}
	var err error
	ctx.Sync(func() {
		var fb *Framebuffer
		fb, err = NewFramebuffer(ctx, props)
		if err != nil {
			return
		}
		if uploadErr := ctx.UploadPixels(fb, rgba.Pix); uploadErr != nil {
			fb.Destroy()
			err = uploadErr
			return
		}
		fb.SetTiming(StillImageTime())
		fb.Lock() // lifetime producer lock
		p.fb = fb
	})
	if err != nil {
		return nil, fmt.Errorf("imageflow: picture upload failed: %w", err)
	}
	p.SourceNode = NewSourceNode(ctx, p)
	return p, nil
}

// ProcessImage fans the stored image out to every attached target,
// asynchronously on the render queue.
func (p *PictureInput) ProcessImage() {
	p.SourceNode.ctx.queue.Async(p.process)
}

// ProcessImageSync fans the stored image out and blocks until every
// directly attached consumer has run.
func (p *PictureInput) ProcessImageSync() {
	p.SourceNode.ctx.queue.Sync(p.process)
}

func (p *PictureInput) process() {
	if p.fb == nil {
		return
	}
	p.UpdateTargets(p.fb)
	p.processed = true
}

// TransmitPreviousImage replays the stored image to one newly attached
// target, once the image has been processed at least once.
func (p *PictureInput) TransmitPreviousImage(target ImageConsumer, atIndex int) {
	if !p.processed || p.fb == nil {
		return
	}
	p.fb.Lock()
	target.NewFramebufferAvailable(p.fb, atIndex)
}

// Pixels returns the uploaded RGBA bytes. Useful in logical mode, where
// the framebuffer carries no texture.
func (p *PictureInput) Pixels() []byte { return p.pixels }

// Close severs the input from the graph, releases the lifetime lock, and
// destroys the stored framebuffer.
func (p *PictureInput) Close() {
	p.SourceNode.Close()
	p.SourceNode.ctx.queue.Sync(func() {
		if p.fb != nil {
			p.fb.Unlock()
			p.fb.Destroy()
			p.fb = nil
		}
	})
}

// imageToRGBA converts any image to tightly packed premultiplied RGBA.
func imageToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == rgba.Rect.Dx()*4 {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	stddraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, stddraw.Src)
	return rgba
}

// scaleToFit downscales so the larger dimension equals maxDim, keeping
// aspect ratio.
func scaleToFit(src *image.RGBA, maxDim int, smooth bool) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	long := w
	if h > long {
		long = h
	}
	scale := float64(maxDim) / float64(long)
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	var kernel xdraw.Interpolator = xdraw.ApproxBiLinear
	if smooth {
		kernel = xdraw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	kernel.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
