package face

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/photoid/internal/domain"
	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickBestPrefersLargeConfidentFaces(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 100, Col: 100, Scale: 40, Q: 30},
		{Row: 300, Col: 300, Scale: 160, Q: 8},
		{Row: 500, Col: 500, Scale: 400, Q: 2},
	}

	best, ok := pickBest(dets, 5)
	require.True(t, ok)
	assert.Equal(t, 160, best.Scale, "the weak large detection is filtered out")

	best, ok = pickBest([]pigo.Detection{
		{Row: 100, Col: 100, Scale: 60, Q: 40},
		{Row: 120, Col: 400, Scale: 180, Q: 6},
		{Row: 300, Col: 300, Scale: 180, Q: 9},
	}, 5)
	require.True(t, ok)
	assert.Equal(t, 300, best.Col, "a confident background face never beats the subject")

	_, ok = pickBest(dets, 50)
	assert.False(t, ok)

	_, ok = pickBest(nil, 0)
	assert.False(t, ok)
}

func TestSeedEyesSitInUpperFace(t *testing.T) {
	det := pigo.Detection{Row: 400, Col: 300, Scale: 200}
	left, right := seedEyes(det)

	assert.Equal(t, domain.Point{X: 265, Y: 385}, left)
	assert.Equal(t, domain.Point{X: 335, Y: 385}, right)
	assert.Less(t, left.X, right.X)

	box := detectionBox(det)
	assert.Equal(t, image.Rect(200, 300, 400, 500), box)
	assert.True(t, image.Pt(int(left.X), int(left.Y)).In(box))
}

func TestDownscaleReportsFactor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2400, 1200))
	work, factor := downscale(img, 1200)
	assert.Equal(t, image.Pt(1200, 600), work.Bounds().Size())
	assert.InDelta(t, 2.0, factor, 1e-9)

	small := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	work, factor = downscale(small, 1200)
	assert.Same(t, small, work)
	assert.Equal(t, 1.0, factor)

	offset := image.NewNRGBA(image.Rect(10, 10, 110, 110))
	work, _ = downscale(offset, 0)
	assert.Equal(t, image.Point{}, work.Bounds().Min)
}

func TestScaleBackToSourcePixels(t *testing.T) {
	assert.Equal(t, domain.Point{X: 20, Y: 30}, scalePoint(domain.Point{X: 10, Y: 15}, 2))
	assert.Equal(t, image.Rect(20, 40, 60, 80), scaleRect(image.Rect(10, 20, 30, 40), 2))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MinSizeRatio: 2, ScaleFactor: 0.5, MaxDimension: -1}.withDefaults()
	def := DefaultConfig()

	assert.Equal(t, def.CascadeDir, cfg.CascadeDir)
	assert.Equal(t, def.MinSizeRatio, cfg.MinSizeRatio)
	assert.Equal(t, def.ScaleFactor, cfg.ScaleFactor)
	assert.Equal(t, 0, cfg.MaxDimension)
}

func TestLoadPigoDetectorMissingCascade(t *testing.T) {
	_, err := LoadPigoDetector(Config{CascadeDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewPigoDetector(nil, nil, DefaultConfig())
	assert.Error(t, err)
}

// The real cascades are large binaries fetched separately; this test runs
// only when they have been placed in ../../models.
func TestPigoDetectorWithRealCascade(t *testing.T) {
	dir := filepath.Join("..", "..", "models")
	if _, err := os.Stat(filepath.Join(dir, FacefinderFile)); err != nil {
		t.Skip("facefinder cascade not present")
	}

	d, err := LoadPigoDetector(Config{CascadeDir: dir})
	require.NoError(t, err)

	blank := image.NewGray(image.Rect(0, 0, 320, 240))
	_, err = d.DetectFace(context.Background(), blank)
	assert.ErrorIs(t, err, domain.ErrNoFaceDetected)
}

func TestDetectorFunc(t *testing.T) {
	want := &domain.FaceLandmarks{LeftEye: domain.Point{X: 1}, RightEye: domain.Point{X: 3}}
	var d Detector = DetectorFunc(func(context.Context, image.Image) (*domain.FaceLandmarks, error) {
		return want, nil
	})
	got, err := d.DetectFace(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
