package dataset

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"cae-forge/internal/model"
)

func TestDecodeResizeAndColor(t *testing.T) {
	data := pngBytes(t, 8, 8)
	p, _ := model.PreprocessingFor(model.MVTec)
	img, err := Decode(data, DecodeOptions{Shape: model.Shape{Height: 8, Width: 8}, Color: Grayscale, Preprocessing: p})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.N != 1 || img.H != 8 || img.W != 8 || img.C != 1 {
		t.Fatalf("shape %s", img.Shape())
	}
	if v := img.At(0, 2, 3, 0); math.Abs(float64(v)-19.0/255) > 1e-4 {
		t.Fatalf("pixel (3,2)=%f want %f", v, 19.0/255)
	}

	small, err := Decode(pngBytes(t, 16, 16), DecodeOptions{Shape: model.Shape{Height: 4, Width: 4}, Color: Grayscale, Preprocessing: p})
	if err != nil || small.H != 4 || small.W != 4 {
		t.Fatalf("resize: %v %v", small.Shape(), err)
	}

	p, _ = model.PreprocessingFor(model.ResNet)
	rgb, err := Decode(data, DecodeOptions{Shape: model.Shape{Height: 8, Width: 8}, Color: RGB, Preprocessing: p})
	if err != nil {
		t.Fatalf("Decode rgb: %v", err)
	}
	if rgb.C != 3 {
		t.Fatalf("expected 3 channels, got %d", rgb.C)
	}
	if v := rgb.At(0, 0, 0, 2); math.Abs(float64(v)+1) > 1e-6 {
		t.Fatalf("black pixel with inception scaling=%f want -1", v)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("not an image"), DecodeOptions{Shape: model.Shape{Height: 4, Width: 4}}); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := ParseColorMode("cmyk"); !errors.Is(err, ErrInvalidColorMode) {
		t.Fatalf("expected ErrInvalidColorMode, got %v", err)
	}
	if m, err := ParseColorMode("RGB"); err != nil || m.Channels() != 3 {
		t.Fatalf("ParseColorMode(RGB)=%q, %v", m, err)
	}
}
