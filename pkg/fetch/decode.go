package fetch

import (
	"fmt"
	"image"
	"io"

	"github.com/sunshineplan/imgconv"
)

// Decoder turns an encoded body into pixels.
type Decoder interface {
	Decode(r io.Reader) (image.Image, error)
}

// ImgconvDecoder decodes any format imgconv understands and, when MaxSize is
// set, downscales images whose longer side exceeds it. Origins are free to
// ignore the resize hint, so this keeps cached images small regardless.
type ImgconvDecoder struct {
	MaxSize int
}

func (d ImgconvDecoder) Decode(r io.Reader) (image.Image, error) {
	img, err := imgconv.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("imgconv decode: %w", err)
	}
	return d.downscale(img), nil
}

func (d ImgconvDecoder) downscale(img image.Image) image.Image {
	if d.MaxSize <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= d.MaxSize && h <= d.MaxSize {
		return img
	}
	if w >= h {
		h = max(1, h*d.MaxSize/w)
		w = d.MaxSize
	} else {
		w = max(1, w*d.MaxSize/h)
		h = d.MaxSize
	}
	return imgconv.Resize(img, &imgconv.ResizeOption{Width: w, Height: h})
}
