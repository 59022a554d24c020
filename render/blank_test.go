package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestPNGBlankDetectorDetectsUniformColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	want := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, want)
		}
	}

	var d PNGBlankDetector
	rgba, ok := d.Detect(encodePNG(t, img))
	if !ok {
		t.Fatal("expected a uniform-color image to be detected as blank")
	}
	if rgba != [4]byte{want.R, want.G, want.B, want.A} {
		t.Fatalf("got %v, want %v", rgba, want)
	}
}

func TestPNGBlankDetectorRejectsNonUniformColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{B: 255, A: 255})

	var d PNGBlankDetector
	if _, ok := d.Detect(encodePNG(t, img)); ok {
		t.Fatal("expected a non-uniform image not to be detected as blank")
	}
}

func TestPNGBlankDetectorRejectsUndecodableInput(t *testing.T) {
	var d PNGBlankDetector
	if _, ok := d.Detect([]byte("not a png")); ok {
		t.Fatal("expected garbage input not to be detected as blank")
	}
}

func TestPNGBlankDetectorExpandRoundTrips(t *testing.T) {
	var d PNGBlankDetector
	rgba := [4]byte{5, 6, 7, 255}
	data := d.Expand(rgba, 8, 6)

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding expanded tile: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 6 {
		t.Fatalf("got bounds %v, want 8x6", bounds)
	}
	got := color.NRGBAModel.Convert(img.At(3, 2)).(color.NRGBA)
	if got != (color.NRGBA{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]}) {
		t.Fatalf("got pixel %v, want %v", got, rgba)
	}
}
