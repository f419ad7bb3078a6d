package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// marker is 4x2 with a red pixel in the top-left corner.
func marker() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+3] = 255
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	return img
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, marker()))

	d, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", d.Format)
	assert.Equal(t, 1, d.Orientation)
	assert.Equal(t, image.Rect(0, 0, 4, 2), d.Image.Bounds())
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, d.Image.NRGBAAt(0, 0))
}

func TestDecodeRejectsGarbageAndOversize(t *testing.T) {
	_, err := Decode(strings.NewReader("not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Decode(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidImage)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 100, 100))))
	_, err = DecodeWithLimits(bytes.NewReader(buf.Bytes()), Limits{MaxPixels: 50})
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = DecodeWithLimits(bytes.NewReader(buf.Bytes()), Limits{MaxBytes: 10})
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestOrient(t *testing.T) {
	src := marker()
	red := color.NRGBA{R: 255, A: 255}

	cases := []struct {
		orientation int
		size        image.Point
		redAt       image.Point
	}{
		{1, image.Pt(4, 2), image.Pt(0, 0)},
		{2, image.Pt(4, 2), image.Pt(3, 0)},
		{3, image.Pt(4, 2), image.Pt(3, 1)},
		{4, image.Pt(4, 2), image.Pt(0, 1)},
		{5, image.Pt(2, 4), image.Pt(0, 0)},
		{6, image.Pt(2, 4), image.Pt(1, 0)},
		{7, image.Pt(2, 4), image.Pt(1, 3)},
		{8, image.Pt(2, 4), image.Pt(0, 3)},
	}
	for _, tc := range cases {
		out := Orient(src, tc.orientation)
		assert.Equal(t, tc.size, out.Bounds().Size(), "orientation %d", tc.orientation)
		assert.Equal(t, red, out.NRGBAAt(tc.redAt.X, tc.redAt.Y), "orientation %d", tc.orientation)
	}
}

func TestReadOrientationWithoutExif(t *testing.T) {
	assert.Equal(t, 1, readOrientation([]byte("plain bytes")))
}

func TestEncodeJPEGFlattensAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	data, err := Encode(img, "jpg", color.NRGBA{R: 47, G: 93, B: 170, A: 255})
	require.NoError(t, err)

	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := out.At(4, 4).RGBA()
	assert.InDelta(t, 47, r>>8, 4)
	assert.InDelta(t, 93, g>>8, 4)
	assert.InDelta(t, 170, b>>8, 4)
}

func TestEncodePNGKeepsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, color.NRGBA{R: 9, A: 128})

	data, err := Encode(img, "", nil)
	require.NoError(t, err)
	out, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{R: 9, A: 128}, color.NRGBAModel.Convert(out.At(1, 1)))
	assert.Equal(t, uint8(0), color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA).A)

	_, err = Encode(img, "gif", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType(domain.FormatJPEG))
	assert.Equal(t, "image/png", ContentType(domain.FormatPNG))
	assert.Equal(t, "jpg", Extension(domain.FormatJPEG))
	assert.Equal(t, "png", Extension(domain.FormatPNG))
}
