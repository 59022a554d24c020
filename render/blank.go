package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PNGBlankDetector implements pipeline.BlankDetector on the standard
// library's image/png decoder alone. MapCache deliberately carries no
// pixel-resampling library (see DESIGN.md), and testing a decoded PNG for
// a single uniform color needs nothing more than stdlib decode plus a
// pixel scan, so this is the one ambient piece of image handling built on
// the standard library rather than a third-party dependency.
type PNGBlankDetector struct{}

// Detect decodes raw as a PNG and reports the uniform color every pixel
// shares, or ok=false if raw fails to decode or isn't uniform.
func (PNGBlankDetector) Detect(raw []byte) (rgba [4]byte, ok bool) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return rgba, false
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return rgba, false
	}
	first := color.NRGBAModel.Convert(img.At(bounds.Min.X, bounds.Min.Y)).(color.NRGBA)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c != first {
				return rgba, false
			}
		}
	}
	return [4]byte{first.R, first.G, first.B, first.A}, true
}

// Expand renders a width x height PNG filled with rgba.
func (PNGBlankDetector) Expand(rgba [4]byte, width, height int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	c := color.NRGBA{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
