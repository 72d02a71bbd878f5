package receiptscan

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// renderVariants opens the receipt image and produces preprocessed PNG
// variants for the OCR passes. More variants cost time; two cover the
// common phone-photo and screenshot cases.
func renderVariants(path string) ([][]byte, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if src.Bounds().Dx() < 1200 {
		src = imaging.Resize(src, 1200, 0, imaging.Lanczos)
	}
	gray := imaging.Grayscale(src)

	enhanced := imaging.Sharpen(imaging.AdjustContrast(gray, 20), 1.0)
	bin := binarize(gray, 160)

	var out [][]byte
	for _, img := range []image.Image{enhanced, bin} {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

// binarize performs a simple global threshold on a grayscale image.
func binarize(img image.Image, threshold uint8) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			gray := uint8((r + g + bb) / 3 >> 8)
			var v uint8 = 255
			if gray <= threshold {
				v = 0
			}
			out.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}
