// Package imaging normalises uploaded item photos before they are stored.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/erazemk/menjalnica/internal/model"
)

// MaxDimension is the longest side of a stored photo.
const MaxDimension = 1024

// MaxUploadBytes caps the raw upload size.
const MaxUploadBytes = 10 << 20

// JPEGQuality is the compression quality for stored photos.
const JPEGQuality = 85

var decoders = map[string]func(io.Reader) (image.Image, error){
	"image/jpeg": jpeg.Decode,
	"image/png":  png.Decode,
}

// Photo is a normalised image ready for storage.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Process reads an uploaded photo, checks its real format by sniffing the
// bytes, shrinks it to fit MaxDimension and re-encodes it as JPEG.
// Transparent PNG areas become white. Unsupported or oversized input is
// rejected with model.ErrValidation.
func Process(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: photo larger than %d bytes", model.ErrValidation, MaxUploadBytes)
	}

	detected := http.DetectContentType(data)
	decode, ok := decoders[detected]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported photo format %s (JPEG or PNG only)", model.ErrValidation, detected)
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding photo: %v", model.ErrValidation, err)
	}

	out := fit(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding photo: %w", err)
	}

	b := out.Bounds()
	return &Photo{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// fit draws img onto a white canvas no larger than maxDim on either side,
// keeping the aspect ratio. Small images keep their size.
func fit(img image.Image, maxDim int) *image.RGBA {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()

	if w > maxDim || h > maxDim {
		if w > h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}
	return dst
}
