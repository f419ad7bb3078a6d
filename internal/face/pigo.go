package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/photoid/internal/domain"
	pigo "github.com/esimov/pigo/core"
)

const (
	FacefinderFile = "facefinder"
	PuplocFile     = "puploc"

	// Pupil search seeds relative to the detection square, as used by
	// pigo's own pupil localisation examples.
	eyeRowOffset = 0.075
	eyeColOffset = 0.175
	pupilScale   = 0.25
	pupilPerturb = 63

	clusterIoU = 0.2
)

type Config struct {
	CascadeDir string
	// MinQuality drops weak detections after clustering.
	MinQuality float64
	// MaxDimension downsamples larger images before detection. 0 disables.
	MaxDimension int
	// MinSizeRatio and MaxSizeRatio bound the face size relative to the
	// shorter image side.
	MinSizeRatio float64
	MaxSizeRatio float64
	ShiftFactor  float64
	ScaleFactor  float64
}

func DefaultConfig() Config {
	return Config{
		CascadeDir:   "./models",
		MinQuality:   5,
		MaxDimension: 1200,
		MinSizeRatio: 0.05,
		MaxSizeRatio: 0.95,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CascadeDir == "" {
		c.CascadeDir = d.CascadeDir
	}
	if c.MaxDimension < 0 {
		c.MaxDimension = 0
	}
	if c.MinSizeRatio <= 0 || c.MinSizeRatio >= 1 {
		c.MinSizeRatio = d.MinSizeRatio
	}
	if c.MaxSizeRatio <= c.MinSizeRatio || c.MaxSizeRatio > 1 {
		c.MaxSizeRatio = d.MaxSizeRatio
	}
	if c.ShiftFactor <= 0 || c.ShiftFactor >= 1 {
		c.ShiftFactor = d.ShiftFactor
	}
	if c.ScaleFactor <= 1 {
		c.ScaleFactor = d.ScaleFactor
	}
	return c
}

// PigoDetector finds faces with pigo's facefinder cascade and refines the
// eyes with the puploc cascade when it is available. It is safe for
// concurrent use once constructed.
type PigoDetector struct {
	cfg    Config
	faces  *pigo.Pigo
	pupils *pigo.PuplocCascade
}

func NewPigoDetector(facefinder, puploc []byte, cfg Config) (*PigoDetector, error) {
	if len(facefinder) == 0 {
		return nil, errors.New("facefinder cascade is empty")
	}
	faces, err := pigo.NewPigo().Unpack(facefinder)
	if err != nil {
		return nil, fmt.Errorf("unpack facefinder cascade: %w", err)
	}

	d := &PigoDetector{cfg: cfg.withDefaults(), faces: faces}
	if len(puploc) > 0 {
		pupils, err := pigo.NewPuplocCascade().UnpackCascade(puploc)
		if err != nil {
			return nil, fmt.Errorf("unpack puploc cascade: %w", err)
		}
		d.pupils = pupils
	}
	return d, nil
}

// LoadPigoDetector reads the cascades from cfg.CascadeDir. The puploc file is
// optional; without it eyes are estimated from the face square.
func LoadPigoDetector(cfg Config) (*PigoDetector, error) {
	cfg = cfg.withDefaults()

	facefinder, err := os.ReadFile(filepath.Join(cfg.CascadeDir, FacefinderFile))
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}
	puploc, err := os.ReadFile(filepath.Join(cfg.CascadeDir, PuplocFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read pupil cascade: %w", err)
	}
	return NewPigoDetector(facefinder, puploc, cfg)
}

var (
	defaultOnce     sync.Once
	defaultDetector *PigoDetector
	defaultErr      error
)

// Default loads the process-wide detector on first call. Later calls return
// the same detector (or the same load error) whatever cfg they pass.
func Default(cfg Config) (*PigoDetector, error) {
	defaultOnce.Do(func() {
		defaultDetector, defaultErr = LoadPigoDetector(cfg)
	})
	return defaultDetector, defaultErr
}

func (d *PigoDetector) HasPupilCascade() bool {
	return d.pupils != nil
}

func (d *PigoDetector) DetectFace(ctx context.Context, img image.Image) (*domain.FaceLandmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.New("detect face: empty image")
	}

	work, factor := downscale(img, d.cfg.MaxDimension)
	wb := work.Bounds()
	params := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(work),
		Rows:   wb.Dy(),
		Cols:   wb.Dx(),
		Dim:    wb.Dx(),
	}

	short := float64(min(wb.Dx(), wb.Dy()))
	cascade := pigo.CascadeParams{
		MinSize:     max(20, int(short*d.cfg.MinSizeRatio)),
		MaxSize:     max(21, int(short*d.cfg.MaxSizeRatio)),
		ShiftFactor: d.cfg.ShiftFactor,
		ScaleFactor: d.cfg.ScaleFactor,
		ImageParams: params,
	}

	dets := d.faces.RunCascade(cascade, 0.0)
	dets = d.faces.ClusterDetections(dets, clusterIoU)
	best, ok := pickBest(dets, d.cfg.MinQuality)
	if !ok {
		return nil, domain.ErrNoFaceDetected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	left, right := seedEyes(best)
	if d.pupils != nil {
		left = d.refine(left, best, params)
		right = d.refine(right, best, params)
	}

	lm := &domain.FaceLandmarks{
		LeftEye:  scalePoint(left, factor),
		RightEye: scalePoint(right, factor),
		Box:      scaleRect(detectionBox(best), factor),
		Score:    float64(best.Q),
	}
	return lm, nil
}

func (d *PigoDetector) refine(seed domain.Point, det pigo.Detection, params pigo.ImageParams) domain.Point {
	pl := pigo.Puploc{
		Row:      int(math.Round(seed.Y)),
		Col:      int(math.Round(seed.X)),
		Scale:    float32(det.Scale) * pupilScale,
		Perturbs: pupilPerturb,
	}
	found := d.pupils.RunDetector(pl, params, 0.0, false)
	if found == nil || found.Row <= 0 || found.Col <= 0 {
		return seed
	}
	// Reject pupils that wander outside the face square.
	box := detectionBox(det)
	if !image.Pt(found.Col, found.Row).In(box) {
		return seed
	}
	return domain.Point{X: float64(found.Col), Y: float64(found.Row)}
}

// pickBest prefers large, confident detections.
func pickBest(dets []pigo.Detection, minQuality float64) (pigo.Detection, bool) {
	kept := make([]pigo.Detection, 0, len(dets))
	for _, det := range dets {
		if float64(det.Q) >= minQuality && det.Scale > 0 {
			kept = append(kept, det)
		}
	}
	if len(kept) == 0 {
		return pigo.Detection{}, false
	}
	// The subject is the largest face; quality only breaks ties.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Scale != kept[j].Scale {
			return kept[i].Scale > kept[j].Scale
		}
		return kept[i].Q > kept[j].Q
	})
	return kept[0], true
}

// seedEyes estimates both eye centers from the detection square. Left is the
// eye on the image's left.
func seedEyes(det pigo.Detection) (domain.Point, domain.Point) {
	s := float64(det.Scale)
	row := float64(det.Row) - eyeRowOffset*s
	return domain.Point{X: float64(det.Col) - eyeColOffset*s, Y: row},
		domain.Point{X: float64(det.Col) + eyeColOffset*s, Y: row}
}

func detectionBox(det pigo.Detection) image.Rectangle {
	half := det.Scale / 2
	return image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half)
}

// downscale returns an origin-anchored working copy no larger than maxDim and
// the factor mapping its coordinates back to img.
func downscale(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if maxDim <= 0 || longest <= maxDim {
		if b.Min != (image.Point{}) {
			return imaging.Clone(img), 1
		}
		return img, 1
	}
	out := imaging.Fit(img, maxDim, maxDim, imaging.Linear)
	return out, float64(b.Dx()) / float64(out.Bounds().Dx())
}

func scalePoint(p domain.Point, factor float64) domain.Point {
	return domain.Point{X: p.X * factor, Y: p.Y * factor}
}

func scaleRect(r image.Rectangle, factor float64) image.Rectangle {
	return image.Rect(
		int(math.Round(float64(r.Min.X)*factor)),
		int(math.Round(float64(r.Min.Y)*factor)),
		int(math.Round(float64(r.Max.X)*factor)),
		int(math.Round(float64(r.Max.Y)*factor)),
	)
}
