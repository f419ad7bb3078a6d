package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/photoid/internal/domain"
)

// Encode writes img as PNG or JPEG. JPEG has no alpha, so img is flattened
// onto matte first.
func Encode(img image.Image, format string, matte color.Color) ([]byte, error) {
	format, err := domain.NormalizeFormat(format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case domain.FormatJPEG:
		if matte == nil {
			matte = color.White
		}
		if err := jpeg.Encode(&buf, Flatten(img, matte), &jpeg.Options{Quality: domain.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func Flatten(img image.Image, bg color.Color) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

func ContentType(format string) string {
	if format == domain.FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

func Extension(format string) string {
	if format == domain.FormatJPEG {
		return "jpg"
	}
	return "png"
}
