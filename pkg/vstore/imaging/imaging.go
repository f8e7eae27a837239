// Package imaging decodes, crops and scales bitmap images for previews.
package imaging

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// BytesPerPixel is the decoded footprint assumed when estimating memory cost.
const BytesPerPixel = 4

// PeekSize reads the image header from r. The returned reader yields the full stream,
// including the header bytes already read.
func PeekSize(r io.Reader) (descriptors.ImageSize, string, io.Reader, error) {
	var consumed bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(r, &consumed))
	if err != nil {
		return descriptors.ImageSize{}, "", nil, err
	}
	return descriptors.ImageSize{Width: cfg.Width, Height: cfg.Height}, format, io.MultiReader(&consumed, r), nil
}

// Decode decodes an image, aborting with ctx.Err() once ctx is done.
func Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(&contextReader{ctx: ctx, r: r})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return img, err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Target is a requested output size. A zero dimension is unspecified.
type Target struct {
	Width  int
	Height int
}

// Side is the side length used for square scaling when both dimensions are given.
func (t Target) Side() int {
	return max(t.Width, t.Height)
}

// OutputSize computes the dimensions Scale will produce for an image of size src.
func OutputSize(src descriptors.ImageSize, t Target) descriptors.ImageSize {
	if src.Width <= 0 || src.Height <= 0 {
		return descriptors.ImageSize{}
	}
	switch {
	case t.Width > 0 && t.Height > 0:
		side := t.Side()
		if src.Width >= src.Height {
			return descriptors.ImageSize{Width: side, Height: proportional(src.Height, side, src.Width)}
		}
		return descriptors.ImageSize{Width: proportional(src.Width, side, src.Height), Height: side}
	case t.Width > 0:
		return descriptors.ImageSize{Width: t.Width, Height: proportional(src.Height, t.Width, src.Width)}
	case t.Height > 0:
		return descriptors.ImageSize{Width: proportional(src.Width, t.Height, src.Height), Height: t.Height}
	}
	return src
}

func proportional(v, num, den int) int {
	return max(1, int((int64(v)*int64(num)+int64(den)/2)/int64(den)))
}

// EstimateCost approximates the bytes held while producing a variant of size dst from a
// source of size src.
func EstimateCost(src, dst descriptors.ImageSize) int64 {
	return (src.Pixels() + dst.Pixels()) * BytesPerPixel
}

// Crop returns the part of img selected by area. An empty area or one outside the image
// leaves img unchanged.
func Crop(img image.Image, area *descriptors.CropArea) image.Image {
	if area.IsEmpty() {
		return img
	}
	b := img.Bounds()
	rect := image.Rect(area.Left, area.Top, area.Left+area.Width, area.Top+area.Height).Add(b.Min).Intersect(b)
	if rect.Empty() {
		return img
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Scale resizes img to t. When both dimensions are set the larger image side is scaled
// to max(width, height); otherwise the aspect ratio is kept along the missing axis.
func Scale(img image.Image, t Target) image.Image {
	b := img.Bounds()
	out := OutputSize(descriptors.ImageSize{Width: b.Dx(), Height: b.Dy()}, t)
	if out.Width == b.Dx() && out.Height == b.Dy() {
		return img
	}
	return resize.Resize(uint(out.Width), uint(out.Height), img, resize.Lanczos3)
}

// EncodePNG writes img as png.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
