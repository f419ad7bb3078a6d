//go:build govips && cgo

package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

type vipsResampler struct{}

func (vipsResampler) Resize(src *image.NRGBA, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize requires positive dimensions")
	}
	if err := Startup(); err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&raw, src); err != nil {
		return nil, fmt.Errorf("stage cutout for libvips: %w", err)
	}

	img, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load cutout into libvips: %w", err)
	}
	defer img.Close()

	hscale := float64(width) / float64(img.Width())
	vscale := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize cutout: %w", err)
	}

	params := vips.NewPngExportParams()
	params.Compression = 0
	data, _, err := img.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("export resized cutout: %w", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode resized cutout: %w", err)
	}

	out := imaging.Clone(decoded)
	// libvips rounds each axis independently; pin the exact target size.
	if out.Bounds().Dx() != width || out.Bounds().Dy() != height {
		out = imaging.Resize(out, width, height, imaging.Lanczos)
	}
	return out, nil
}
