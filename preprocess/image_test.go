package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func sampleImage() *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, 40, 20), color.Palette{color.White, color.Black})
	for x := 5; x < 35; x++ {
		img.SetColorIndex(x, 10, 1)
	}
	return img
}

func encoded(t *testing.T, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, sampleImage())
	case "jpeg":
		err = jpeg.Encode(&buf, sampleImage(), nil)
	case "gif":
		err = gif.Encode(&buf, sampleImage(), nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNormalizeImage_Formats(t *testing.T) {
	for _, format := range []string{"png", "jpeg", "gif"} {
		t.Run(format, func(t *testing.T) {
			out, err := NormalizeImage(encoded(t, format))
			if err != nil {
				t.Fatal(err)
			}
			img, got, err := image.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatal(err)
			}
			if got != "png" {
				t.Fatalf("normalized format = %q, want png", got)
			}
			if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
				t.Fatalf("bounds = %v", b)
			}
		})
	}
}

func TestNormalizeImage_Lossless(t *testing.T) {
	out, err := NormalizeImage(encoded(t, "png"))
	if err != nil {
		t.Fatal(err)
	}
	img, _, _ := image.Decode(bytes.NewReader(out))
	r, g, b, _ := img.At(20, 10).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("pixel (20,10) = %d,%d,%d, want black", r, g, b)
	}
}

func TestNormalizeImage_Rejects(t *testing.T) {
	_, err := NormalizeImage([]byte("%PDF-1.7 not an image"))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("err = %v, want ErrUnsupportedImage", err)
	}
}

func TestImageToPDF(t *testing.T) {
	normalized, err := NormalizeImage(encoded(t, "jpeg"))
	if err != nil {
		t.Fatal(err)
	}
	pdf, err := ImageToPDF(normalized)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("output does not start with a PDF header: %q", pdf[:min(len(pdf), 8)])
	}
	n, err := PageCount(pdf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("page count = %d, want 1", n)
	}
}
