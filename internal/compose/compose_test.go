package compose

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// leftHalfMatte keeps the left half of the image and clears the rest.
func leftHalfMatte(w, h int) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			m.SetAlpha(x, y, color.Alpha{A: 255})
		}
	}
	return m
}

func mustPreset(t *testing.T, name string) domain.PhotoPreset {
	t.Helper()
	p, err := domain.LookupPreset(name)
	require.NoError(t, err)
	return p
}

func TestComposeExactPresetSize(t *testing.T) {
	c := NewWithResampler(nil)
	src := solid(800, 1000, color.NRGBA{R: 200, G: 150, B: 120, A: 255})

	for _, preset := range domain.PhotoPresets() {
		crop := domain.CropRect{X: 10, Y: 20, Width: 700, Height: 700 * preset.Height / preset.Width}
		out, err := c.Compose(src, nil, crop, preset, domain.BackgroundWhite)
		require.NoError(t, err, preset.Name)
		assert.Equal(t, image.Pt(preset.Width, preset.Height), out.Bounds().Size(), preset.Name)
	}
}

func TestComposeFillsBackgroundWhereMatteIsClear(t *testing.T) {
	c := NewWithResampler(nil)
	preset := mustPreset(t, domain.PresetUS2x2)
	src := solid(600, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	crop := domain.CropRect{Width: 600, Height: 600, Scale: 1}

	out, err := c.Compose(src, leftHalfMatte(600, 600), crop, preset, domain.BackgroundBlue)
	require.NoError(t, err)

	blue, _ := domain.BackgroundBlue.Color()
	assert.Equal(t, blue, out.NRGBAAt(550, 300))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.NRGBAAt(50, 300))
}

func TestComposeTransparentKeepsAlpha(t *testing.T) {
	c := NewWithResampler(nil)
	preset := mustPreset(t, domain.PresetUS2x2)
	src := solid(600, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	crop := domain.CropRect{Width: 600, Height: 600, Scale: 1}

	out, err := c.Compose(src, leftHalfMatte(600, 600), crop, preset, domain.BackgroundTransparent)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(550, 300).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(50, 300).A)
}

func TestComposeIsDeterministic(t *testing.T) {
	c := NewWithResampler(nil)
	preset := mustPreset(t, domain.PresetEU35x45)
	src := image.NewNRGBA(image.Rect(0, 0, 900, 1200))
	for y := 0; y < 1200; y++ {
		for x := 0; x < 900; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	crop := domain.CropRect{X: 100, Y: 100, Width: 700, Height: 900}

	a, err := c.Compose(src, nil, crop, preset, domain.BackgroundWhite)
	require.NoError(t, err)
	b, err := c.Compose(src, nil, crop, preset, domain.BackgroundWhite)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestComposeRejectsBadInput(t *testing.T) {
	c := NewWithResampler(nil)
	preset := mustPreset(t, domain.PresetUS2x2)
	src := solid(400, 400, color.NRGBA{A: 255})

	_, err := c.Compose(src, nil, domain.CropRect{X: 200, Y: 0, Width: 300, Height: 300}, preset, domain.BackgroundWhite)
	assert.Error(t, err, "crop past the right edge")

	_, err = c.Compose(src, image.NewAlpha(image.Rect(0, 0, 10, 10)), domain.CropRect{Width: 300, Height: 300}, preset, domain.BackgroundWhite)
	assert.Error(t, err, "matte size mismatch")

	_, err = c.Compose(src, nil, domain.CropRect{Width: 300, Height: 300}, preset, domain.Background("green"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackground)
}

type shortResampler struct{}

func (shortResampler) Resize(img *image.NRGBA, w, h int) (*image.NRGBA, error) {
	return image.NewNRGBA(image.Rect(0, 0, w-1, h)), nil
}

type failingResampler struct{}

func (failingResampler) Resize(*image.NRGBA, int, int) (*image.NRGBA, error) {
	return nil, errors.New("boom")
}

func TestComposeChecksResamplerOutput(t *testing.T) {
	preset := mustPreset(t, domain.PresetUS2x2)
	src := solid(400, 400, color.NRGBA{A: 255})
	crop := domain.CropRect{Width: 300, Height: 300}

	_, err := NewWithResampler(shortResampler{}).Compose(src, nil, crop, preset, domain.BackgroundWhite)
	assert.ErrorContains(t, err, "resampler returned")

	_, err = NewWithResampler(failingResampler{}).Compose(src, nil, crop, preset, domain.BackgroundWhite)
	assert.ErrorContains(t, err, "boom")
}

func TestCutoutHonoursOffsetBounds(t *testing.T) {
	src := solid(20, 20, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	shifted := src.SubImage(image.Rect(5, 5, 20, 20))
	matte := image.NewAlpha(image.Rect(5, 5, 20, 20))
	matte.SetAlpha(5, 5, color.Alpha{A: 128})

	out := Cutout(shifted, matte, image.Rect(5, 5, 10, 10))
	assert.Equal(t, image.Rect(0, 0, 5, 5), out.Bounds())
	assert.Equal(t, uint8(128), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(0), out.NRGBAAt(1, 1).A)
}

func TestDrawGuides(t *testing.T) {
	preset := mustPreset(t, domain.PresetUS2x2)
	src := solid(400, 400, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	crop := domain.CropRect{X: 50, Y: 40, Width: 300, Height: 300}

	out := DrawGuides(src, crop, preset)
	require.Equal(t, src.Bounds(), out.Bounds())

	assert.Equal(t, CropGuideColor, out.RGBAAt(50, 200), "left edge")
	assert.Equal(t, CropGuideColor, out.RGBAAt(349, 200), "right edge")
	eyeY := 40 + int(preset.EyeLineRatio*300+0.5)
	assert.Equal(t, EyeGuideColor, out.RGBAAt(200, eyeY))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(10, 10), "outside the crop is untouched")
}
