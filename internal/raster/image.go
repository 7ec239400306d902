package raster

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

func (r *Rasterizer) decodeImage(data []byte, number int) (Page, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Page{}, common.RasterizationError("decode image", err)
	}
	rgb := Fit(img, r.cfg.MaxDimension)
	r.logger.Debug("raster.image.decoded",
		"page", number,
		"format", format,
		"src_w", img.Bounds().Dx(), "src_h", img.Bounds().Dy(),
		"w", rgb.Bounds().Dx(), "h", rgb.Bounds().Dy(),
	)
	return Page{Number: number, Image: rgb}, nil
}

// Fit flattens img onto an opaque white canvas and, when either side exceeds max,
// downscales it with Catmull-Rom keeping the aspect ratio.
func Fit(img image.Image, max int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := w, h
	if max > 0 && (w > max || h > max) {
		if w >= h {
			nw = max
			nh = int(float64(h) * float64(max) / float64(w))
		} else {
			nh = max
			nw = int(float64(w) * float64(max) / float64(h))
		}
		nw = atLeast1(nw)
		nh = atLeast1(nh)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}
	return dst
}

func atLeast1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
