package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/photoid/internal/compose"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/face"
	"github.com/dunamismax/photoid/internal/geometry"
	"github.com/dunamismax/photoid/internal/imageio"
	"github.com/dunamismax/photoid/internal/matting"
	"github.com/dunamismax/photoid/internal/sheet"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dunamismax/photoid/internal/pipeline"

type Dependencies struct {
	Detector   face.Detector
	Remover    matting.Remover
	Geometry   geometry.Engine
	Compositor *compose.Compositor
	Limits     imageio.Limits
}

// Engine renders passport photos in memory. Each call is independent and
// runs its stages one after another.
type Engine struct {
	detector   face.Detector
	remover    matting.Remover
	geometry   geometry.Engine
	compositor *compose.Compositor
	limits     imageio.Limits
	tracer     trace.Tracer
}

func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Detector == nil {
		return nil, errors.New("face detector is required")
	}
	if deps.Remover == nil {
		deps.Remover = matting.Opaque{}
	}
	if deps.Compositor == nil {
		deps.Compositor = compose.New()
	}
	if deps.Geometry.InterocularRatio == 0 {
		deps.Geometry = geometry.New(geometry.DefaultInterocularRatio)
	}

	return &Engine{
		detector:   deps.Detector,
		remover:    deps.Remover,
		geometry:   deps.Geometry,
		compositor: deps.Compositor,
		limits:     deps.Limits,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Artifact is one encoded output of a render.
type Artifact struct {
	Kind   string
	Name   string
	Format string
	Data   []byte
	Width  int
	Height int
}

type Rendered struct {
	Preset    string
	Source    image.Point
	Landmarks *domain.FaceLandmarks
	// Fallback names the no-face policy used when no face was found.
	Fallback  string
	Crop      domain.CropRect
	Layout    *domain.SheetLayout
	Artifacts []Artifact
}

// Artifact returns the first artifact of kind.
func (r Rendered) Artifact(kind string) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}

// Render decodes data and produces the finished photo plus the optional
// sheet and guide preview. Either every requested artifact is produced or
// an error is returned.
func (e *Engine) Render(ctx context.Context, data []byte, opts domain.ResolvedOptions) (Rendered, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(
		attribute.String("photoid.preset", opts.Preset.Name),
		attribute.String("photoid.background", string(opts.Background)),
		attribute.String("photoid.format", opts.Format),
	))
	defer span.End()

	if err := domain.CheckBackgroundFormat(opts.Background, opts.Format); err != nil {
		return Rendered{}, err
	}

	decoded, err := imageio.DecodeWithLimits(bytes.NewReader(data), e.limits)
	if err != nil {
		return Rendered{}, fmt.Errorf("decode stage: %w", err)
	}
	src := decoded.Image
	out := Rendered{Preset: opts.Preset.Name, Source: src.Bounds().Size()}

	crop, lm, fallback, err := e.locate(ctx, src, opts)
	if err != nil {
		return Rendered{}, err
	}
	out.Crop, out.Landmarks, out.Fallback = crop, lm, fallback

	matte, err := e.matte(ctx, src)
	if err != nil {
		return Rendered{}, err
	}

	photo, err := e.stage(ctx, "pipeline.compose", func(context.Context) (image.Image, error) {
		return e.compositor.Compose(src, matte, crop, opts.Preset, opts.Background)
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("compose stage: %w", err)
	}

	fill, _ := opts.Background.Color()
	photoBytes, err := imageio.Encode(photo, opts.Format, fill)
	if err != nil {
		return Rendered{}, fmt.Errorf("encode stage: %w", err)
	}
	out.Artifacts = append(out.Artifacts, Artifact{
		Kind:   domain.OutputPhoto,
		Name:   PhotoName(opts),
		Format: opts.Format,
		Data:   photoBytes,
		Width:  opts.Preset.Width,
		Height: opts.Preset.Height,
	})

	if opts.Sheet != nil {
		sheetImg, layout, err := sheet.Layout(photo, opts.Copies, *opts.Sheet)
		if err != nil {
			return Rendered{}, fmt.Errorf("sheet stage: %w", err)
		}
		sheetBytes, err := imageio.Encode(sheetImg, domain.FormatJPEG, nil)
		if err != nil {
			return Rendered{}, fmt.Errorf("encode sheet: %w", err)
		}
		out.Layout = &layout
		out.Artifacts = append(out.Artifacts, Artifact{
			Kind:   domain.OutputSheet,
			Name:   SheetName(*opts.Sheet),
			Format: domain.FormatJPEG,
			Data:   sheetBytes,
			Width:  opts.Sheet.Width,
			Height: opts.Sheet.Height,
		})
	}

	if opts.Preview {
		guides := compose.DrawGuides(src, crop, opts.Adjust.Apply(opts.Preset))
		previewBytes, err := imageio.Encode(guides, domain.FormatPNG, nil)
		if err != nil {
			return Rendered{}, fmt.Errorf("encode preview: %w", err)
		}
		out.Artifacts = append(out.Artifacts, Artifact{
			Kind:   domain.OutputPreview,
			Name:   PreviewName(opts),
			Format: domain.FormatPNG,
			Data:   previewBytes,
			Width:  out.Source.X,
			Height: out.Source.Y,
		})
	}

	span.SetAttributes(
		attribute.Int("photoid.crop.width", crop.Width),
		attribute.Int("photoid.crop.height", crop.Height),
		attribute.Int("photoid.artifacts", len(out.Artifacts)),
	)
	return out, nil
}

// Locate decodes data and runs detection and geometry only.
func (e *Engine) Locate(ctx context.Context, data []byte, opts domain.ResolvedOptions) (Rendered, error) {
	decoded, err := imageio.DecodeWithLimits(bytes.NewReader(data), e.limits)
	if err != nil {
		return Rendered{}, fmt.Errorf("decode stage: %w", err)
	}
	crop, lm, fallback, err := e.locate(ctx, decoded.Image, opts)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Preset:    opts.Preset.Name,
		Source:    decoded.Image.Bounds().Size(),
		Landmarks: lm,
		Fallback:  fallback,
		Crop:      crop,
	}, nil
}

func (e *Engine) locate(ctx context.Context, src *image.NRGBA, opts domain.ResolvedOptions) (domain.CropRect, *domain.FaceLandmarks, string, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.detect")
	lm, err := e.detector.DetectFace(ctx, src)
	span.End()

	preset := opts.Adjust.Apply(opts.Preset)
	switch {
	case errors.Is(err, domain.ErrNoFaceDetected):
		crop, ferr := geometry.Fallback(opts.NoFace, src, preset)
		if ferr != nil {
			return domain.CropRect{}, nil, "", fmt.Errorf("detect stage: %w", ferr)
		}
		return crop, nil, opts.NoFace, nil
	case err != nil:
		return domain.CropRect{}, nil, "", fmt.Errorf("detect stage: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.CropRect{}, nil, "", err
	}

	crop, err := e.geometry.ComputeCrop(src.Bounds().Size(), lm, preset)
	if err != nil {
		return domain.CropRect{}, nil, "", fmt.Errorf("geometry stage: %w", err)
	}
	return crop, lm, "", nil
}

func (e *Engine) matte(ctx context.Context, src *image.NRGBA) (*image.Alpha, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.matte")
	defer span.End()

	matte, err := e.remover.RemoveBackground(ctx, src)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("matte stage: %w", err)
	}
	if matte != nil && matte.Bounds().Size() != src.Bounds().Size() {
		matte = matting.FitAlpha(matte, src.Bounds().Size())
	}
	return matte, nil
}

func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) (image.Image, error)) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()

	img, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return img, err
}

func PhotoName(opts domain.ResolvedOptions) string {
	return fmt.Sprintf("passport_%s.%s", opts.Preset.Name, imageio.Extension(opts.Format))
}

func SheetName(s domain.SheetPreset) string {
	return fmt.Sprintf("sheet_%s.jpg", s.Name)
}

func PreviewName(opts domain.ResolvedOptions) string {
	return fmt.Sprintf("preview_%s.png", opts.Preset.Name)
}
