package domain

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"
)

const (
	PresetUS2x2   = "2x2in"
	PresetEU35x45 = "35x45mm"
	DefaultPreset = PresetUS2x2

	FormatPNG     = "png"
	FormatJPEG    = "jpeg"
	DefaultFormat = FormatPNG
	JPEGQuality   = 95

	NoFaceReject  = "reject"
	NoFaceCenter  = "center"
	NoFaceSmart   = "smart"
	DefaultNoFace = NoFaceReject

	MaxAdjustment  = 10
	MinEyeLineRate = 0.25
	MaxEyeLineRate = 0.75

	mmPerInch  = 25.4
	defaultDPI = 300
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceLandmarks is the single face a Landmark Provider reports. Eye
// positions and Box are in pixels from the image's top-left corner.
type FaceLandmarks struct {
	LeftEye  Point           `json:"left_eye"`
	RightEye Point           `json:"right_eye"`
	Box      image.Rectangle `json:"box"`
	Score    float64         `json:"score"`
}

func (f FaceLandmarks) EyeMidpoint() Point {
	return Point{
		X: (f.LeftEye.X + f.RightEye.X) / 2,
		Y: (f.LeftEye.Y + f.RightEye.Y) / 2,
	}
}

func (f FaceLandmarks) InterocularDistance() float64 {
	return math.Hypot(f.RightEye.X-f.LeftEye.X, f.RightEye.Y-f.LeftEye.Y)
}

type PhotoPreset struct {
	Name               string  `json:"name"`
	Label              string  `json:"label"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	DPI                int     `json:"dpi"`
	HeadHeightRatio    float64 `json:"head_height_ratio"`
	MaxHeadHeightRatio float64 `json:"max_head_height_ratio,omitempty"`
	EyeLineRatio       float64 `json:"eye_line_ratio"`
}

func (p PhotoPreset) AspectRatio() float64 {
	return float64(p.Width) / float64(p.Height)
}

func (p PhotoPreset) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("preset %q: width and height must be positive", p.Name)
	}
	if p.HeadHeightRatio <= 0 || p.HeadHeightRatio >= 1 {
		return fmt.Errorf("preset %q: head_height_ratio must be in (0,1)", p.Name)
	}
	if p.EyeLineRatio <= 0 || p.EyeLineRatio >= 1 {
		return fmt.Errorf("preset %q: eye_line_ratio must be in (0,1)", p.Name)
	}
	if p.MaxHeadHeightRatio != 0 && (p.MaxHeadHeightRatio < p.HeadHeightRatio || p.MaxHeadHeightRatio >= 1) {
		return fmt.Errorf("preset %q: max_head_height_ratio must be in [head_height_ratio,1)", p.Name)
	}
	return nil
}

// HeadCeiling is the largest head ratio the preset tolerates when a crop has
// to shrink to fit the source image.
func (p PhotoPreset) HeadCeiling() float64 {
	if p.MaxHeadHeightRatio > p.HeadHeightRatio {
		return p.MaxHeadHeightRatio
	}
	return p.HeadHeightRatio
}

// Adjustments are the manual head-size and eye-line nudges, each in
// [-MaxAdjustment, MaxAdjustment].
type Adjustments struct {
	HeadScalePercent int `json:"head_scale" validate:"gte=-10,lte=10"`
	EyeNudge         int `json:"eye_nudge" validate:"gte=-10,lte=10"`
}

// Apply returns the preset with the nudges folded into its ratios.
func (a Adjustments) Apply(p PhotoPreset) PhotoPreset {
	if a.HeadScalePercent == 0 && a.EyeNudge == 0 {
		return p
	}
	head := clampAdjustment(a.HeadScalePercent)
	eye := clampAdjustment(a.EyeNudge)

	scale := 1 + float64(head)/100
	p.HeadHeightRatio *= scale
	if p.MaxHeadHeightRatio != 0 {
		p.MaxHeadHeightRatio = math.Max(p.MaxHeadHeightRatio, p.HeadHeightRatio)
	}
	p.EyeLineRatio += float64(eye) / 100 * 0.15
	p.EyeLineRatio = math.Min(MaxEyeLineRate, math.Max(MinEyeLineRate, p.EyeLineRatio))
	return p
}

func clampAdjustment(v int) int {
	if v > MaxAdjustment {
		return MaxAdjustment
	}
	if v < -MaxAdjustment {
		return -MaxAdjustment
	}
	return v
}

type CropRect struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

func (c CropRect) Rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

func (c CropRect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", c.Width, c.Height, c.X, c.Y)
}

type Background string

const (
	BackgroundWhite       Background = "white"
	BackgroundBlue        Background = "blue"
	BackgroundTransparent Background = "transparent"
)

func ParseBackground(s string) (Background, error) {
	switch b := Background(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackgroundWhite, nil
	case BackgroundWhite, BackgroundBlue, BackgroundTransparent:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackground, s)
	}
}

// Color returns the fill color. Transparent reports ok=false.
func (b Background) Color() (color.NRGBA, bool) {
	switch b {
	case BackgroundWhite:
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}, true
	case BackgroundBlue:
		return color.NRGBA{R: 47, G: 93, B: 170, A: 255}, true
	default:
		return color.NRGBA{}, false
	}
}

func Backgrounds() []Background {
	return []Background{BackgroundWhite, BackgroundBlue, BackgroundTransparent}
}

func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		return DefaultFormat, nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// CheckBackgroundFormat rejects transparent output for formats without an
// alpha channel.
func CheckBackgroundFormat(bg Background, format string) error {
	if bg == BackgroundTransparent && format != FormatPNG {
		return fmt.Errorf("%w: transparent background requires png output, got %s", ErrUnsupportedBackground, format)
	}
	return nil
}

func ParseNoFacePolicy(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "":
		return DefaultNoFace, nil
	case NoFaceReject, NoFaceCenter, NoFaceSmart:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unsupported no_face policy %q", ErrInvalidOptions, s)
	}
}

func pixelsFromMM(mm float64, dpi int) int {
	return int(math.Round(mm * float64(dpi) / mmPerInch))
}

var photoPresets = map[string]PhotoPreset{
	PresetUS2x2: {
		Name:               PresetUS2x2,
		Label:              "2x2 in (600x600 px)",
		Width:              600,
		Height:             600,
		DPI:                defaultDPI,
		HeadHeightRatio:    1.0 / 2.0,
		MaxHeadHeightRatio: 1.375 / 2.0,
		EyeLineRatio:       1 - 1.1875/2.0,
	},
	PresetEU35x45: {
		Name:               PresetEU35x45,
		Label:              "35x45 mm (413x531 px)",
		Width:              pixelsFromMM(35, defaultDPI),
		Height:             pixelsFromMM(45, defaultDPI),
		DPI:                defaultDPI,
		HeadHeightRatio:    34.0 / 45.0,
		MaxHeadHeightRatio: 36.0 / 45.0,
		EyeLineRatio:       0.45,
	},
}

func LookupPreset(name string) (PhotoPreset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultPreset
	}
	p, ok := photoPresets[name]
	if !ok {
		return PhotoPreset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

func PhotoPresets() []PhotoPreset {
	out := make([]PhotoPreset, 0, len(photoPresets))
	for _, p := range photoPresets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
