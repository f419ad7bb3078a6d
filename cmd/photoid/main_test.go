package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/photoid/internal/compose"
	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/face"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useDetector(t *testing.T, detector face.Detector) {
	t.Helper()
	prev := engineFactory
	engineFactory = func(config.Config, *logrus.Entry) (renderer, func(), error) {
		engine, err := pipeline.NewEngine(pipeline.Dependencies{
			Detector:   detector,
			Compositor: compose.NewWithResampler(nil),
		})
		return engine, func() {}, err
	}
	t.Cleanup(func() { engineFactory = prev })
}

func writePortrait(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 600, 800))
	for y := 0; y < 800; y++ {
		for x := 0; x < 600; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: uint8(y % 256), B: uint8(x % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "face.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

var eyes = face.DetectorFunc(func(context.Context, image.Image) (*domain.FaceLandmarks, error) {
	return &domain.FaceLandmarks{
		LeftEye:  domain.Point{X: 250, Y: 300},
		RightEye: domain.Point{X: 350, Y: 300},
	}, nil
})

func TestRunWritesAllArtifacts(t *testing.T) {
	useDetector(t, eyes)
	dir := t.TempDir()
	in := writePortrait(t, dir)

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"-in", in,
		"-out", filepath.Join(dir, "out", "passport.jpg"),
		"-bg", "blue",
		"-sheet", domain.Sheet4x6,
		"-copies", "6",
		"-sheet-out", filepath.Join(dir, "sheet.jpg"),
		"-preview", filepath.Join(dir, "guides.png"),
	}, &stdout, io.Discard)
	require.NoError(t, err)

	photo, err := os.Open(filepath.Join(dir, "out", "passport.jpg"))
	require.NoError(t, err)
	defer photo.Close()
	cfg, format, err := image.DecodeConfig(photo)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 600, cfg.Width)
	assert.Equal(t, 600, cfg.Height)

	assert.FileExists(t, filepath.Join(dir, "sheet.jpg"))
	assert.FileExists(t, filepath.Join(dir, "guides.png"))
	assert.Contains(t, stdout.String(), "sheet")
}

func TestRunNoFace(t *testing.T) {
	useDetector(t, face.DetectorFunc(func(context.Context, image.Image) (*domain.FaceLandmarks, error) {
		return nil, domain.ErrNoFaceDetected
	}))
	dir := t.TempDir()
	in := writePortrait(t, dir)

	err := run(context.Background(), []string{"-in", in, "-out", filepath.Join(dir, "p.png")}, io.Discard, io.Discard)
	require.ErrorIs(t, err, domain.ErrNoFaceDetected)
	assert.Equal(t, 3, exitCode(err))

	var stdout bytes.Buffer
	err = run(context.Background(), []string{"-in", in, "-out", filepath.Join(dir, "p.png"), "-no-face", "center"}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), `used "center" crop`)
}

func TestParseFlags(t *testing.T) {
	cli, err := parseFlags([]string{"-in", "a.jpg", "-out", "b.JPEG", "-head-scale", "5"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "jpg", cli.photoOpts.Format)
	assert.Equal(t, 5, cli.photoOpts.HeadScalePercent)
	assert.False(t, cli.photoOpts.Preview)

	cli, err = parseFlags([]string{"-in", "a.jpg", "-out", "b.jpg", "-format", "png"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "png", cli.photoOpts.Format, "explicit format wins over the extension")

	_, err = parseFlags([]string{"-out", "b.png"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-in", "a.jpg", "extra"}, io.Discard)
	assert.Error(t, err)
}

func TestRunRejectsBadOptions(t *testing.T) {
	useDetector(t, eyes)
	dir := t.TempDir()
	in := writePortrait(t, dir)

	err := run(context.Background(), []string{"-in", in, "-bg", "transparent", "-format", "jpg"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackground)
	assert.Equal(t, 2, exitCode(err))
}
