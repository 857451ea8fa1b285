package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/erazemk/menjalnica/internal/model"
)

func createTestJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func createTransparentPNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestProcessJPEG(t *testing.T) {
	photo, err := Process(bytes.NewReader(createTestJPEG(100, 80)))
	if err != nil {
		t.Fatalf("Process JPEG: %v", err)
	}
	if photo.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", photo.MIME)
	}
	if photo.Width != 100 || photo.Height != 80 {
		t.Errorf("small photo should keep its size, got %dx%d", photo.Width, photo.Height)
	}
}

func TestProcessPNGFlattensTransparency(t *testing.T) {
	photo, err := Process(bytes.NewReader(createTransparentPNG(20, 20)))
	if err != nil {
		t.Fatalf("Process PNG: %v", err)
	}
	if photo.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg output, got %s", photo.MIME)
	}

	img, err := jpeg.Decode(bytes.NewReader(photo.Data))
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	r, g, b, _ := img.At(10, 10).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("expected white background, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestProcessDownscale(t *testing.T) {
	photo, err := Process(bytes.NewReader(createTestJPEG(2048, 1024)))
	if err != nil {
		t.Fatalf("Process large image: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(photo.Data))
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != MaxDimension || bounds.Dy() != MaxDimension/2 {
		t.Errorf("expected %dx%d, got %dx%d", MaxDimension, MaxDimension/2, bounds.Dx(), bounds.Dy())
	}
}

func TestProcessRejectsOtherFormats(t *testing.T) {
	for name, data := range map[string][]byte{
		"text": []byte("not an image"),
		"gif":  []byte("GIF89a..."),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Process(bytes.NewReader(data))
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestProcessRejectsOversized(t *testing.T) {
	data := make([]byte, MaxUploadBytes+10)
	copy(data, createTestJPEG(10, 10))
	_, err := Process(bytes.NewReader(data))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
