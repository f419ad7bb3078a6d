// Package imageio decodes uploads into upright NRGBA images and encodes
// finished photos.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxBytes  = 32 << 20
	DefaultMaxPixels = 50_000_000
)

var (
	ErrImageTooLarge = errors.New("image exceeds size limit")
	ErrInvalidImage  = errors.New("invalid image")
)

type Limits struct {
	MaxBytes  int64
	MaxPixels int
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	return l
}

// Decoded is an upright source image and what it was decoded from.
type Decoded struct {
	Image       *image.NRGBA
	Format      string
	Orientation int
}

func Decode(r io.Reader) (Decoded, error) {
	return DecodeWithLimits(r, Limits{})
}

// DecodeWithLimits decodes JPEG, PNG or WebP, applies the EXIF orientation
// and converts to NRGBA anchored at the origin.
func DecodeWithLimits(r io.Reader, limits Limits) (Decoded, error) {
	limits = limits.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, limits.MaxBytes+1))
	if err != nil {
		return Decoded{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limits.MaxBytes {
		return Decoded{}, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limits.MaxBytes)
	}
	if len(data) == 0 {
		return Decoded{}, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: decode header: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Decoded{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > limits.MaxPixels {
		return Decoded{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidImage, format, err)
	}

	orientation := readOrientation(data)
	return Decoded{
		Image:       Orient(src, orientation),
		Format:      format,
		Orientation: orientation,
	}, nil
}

// readOrientation returns the EXIF orientation tag, or 1 when there is none.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Orient maps an EXIF orientation onto the image so it displays upright.
func Orient(img image.Image, orientation int) *image.NRGBA {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
