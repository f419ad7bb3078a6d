package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/photoid/internal/compose"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/face"
	"github.com/dunamismax/photoid/internal/matting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFace(lm domain.FaceLandmarks) face.Detector {
	return face.DetectorFunc(func(ctx context.Context, _ image.Image) (*domain.FaceLandmarks, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := lm
		return &out, nil
	})
}

var noFace = face.DetectorFunc(func(context.Context, image.Image) (*domain.FaceLandmarks, error) {
	return nil, domain.ErrNoFaceDetected
})

// portraitFace matches buildTestPNG(600, 800).
var portraitFace = domain.FaceLandmarks{
	LeftEye:  domain.Point{X: 250, Y: 300},
	RightEye: domain.Point{X: 350, Y: 300},
	Box:      image.Rect(200, 200, 400, 420),
	Score:    12,
}

func newTestEngine(t testing.TB, detector face.Detector, remover matting.Remover) *Engine {
	t.Helper()
	engine, err := NewEngine(Dependencies{
		Detector:   detector,
		Remover:    remover,
		Compositor: compose.NewWithResampler(nil),
	})
	require.NoError(t, err)
	return engine
}

func resolve(t testing.TB, opts domain.PhotoOptions) domain.ResolvedOptions {
	t.Helper()
	resolved, err := opts.Resolve()
	require.NoError(t, err)
	return resolved
}

func TestLocalProcessorFileInPhotoSheetPreviewOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")
	require.NoError(t, os.WriteFile(inputPath, buildTestPNG(t, 600, 800), 0o644))

	processor, err := NewLocalProcessor(newTestEngine(t, fixedFace(portraitFace), nil), outputDir)
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Options: resolve(t, domain.PhotoOptions{
			Background: "blue",
			Format:     "jpg",
			Sheet:      domain.Sheet4x6,
			Copies:     6,
			Preview:    true,
		}),
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 3)

	photo := result.Outputs[0]
	assert.Equal(t, domain.OutputPhoto, photo.Kind)
	assert.Equal(t, domain.FormatJPEG, photo.Format)
	assert.Equal(t, filepath.Join(outputDir, "job-local-1", "passport_2x2in.jpg"), photo.Path)
	verifyImageSize(t, photo.Path, 600, 600)

	sheetOut := result.Outputs[1]
	assert.Equal(t, domain.OutputSheet, sheetOut.Kind)
	assert.Equal(t, filepath.Join(outputDir, "job-local-1", "sheet_4x6in.jpg"), sheetOut.Path)
	verifyImageSize(t, sheetOut.Path, 1800, 1200)
	require.NotNil(t, result.Rendered.Layout)
	assert.Equal(t, 6, result.Rendered.Layout.Capacity())

	preview := result.Outputs[2]
	assert.Equal(t, domain.OutputPreview, preview.Kind)
	verifyImageSize(t, preview.Path, 600, 800)

	assert.Equal(t, domain.CropRect{X: 0, Y: 56, Width: 600, Height: 600, Scale: 1}, result.Rendered.Crop)
}

func TestLocalProcessorUnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(newTestEngine(t, fixedFace(portraitFace), nil), t.TempDir())
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Options:    resolve(t, domain.PhotoOptions{}),
	})
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)
}

func TestRenderIsDeterministic(t *testing.T) {
	engine := newTestEngine(t, fixedFace(portraitFace), nil)
	src := buildTestPNG(t, 600, 800)
	opts := resolve(t, domain.PhotoOptions{Preset: domain.PresetEU35x45})

	first, err := engine.Render(context.Background(), src, opts)
	require.NoError(t, err)
	second, err := engine.Render(context.Background(), src, opts)
	require.NoError(t, err)

	a, ok := first.Artifact(domain.OutputPhoto)
	require.True(t, ok)
	b, ok := second.Artifact(domain.OutputPhoto)
	require.True(t, ok)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, 413, a.Width)
	assert.Equal(t, 531, a.Height)
}

func TestRenderNoFacePolicies(t *testing.T) {
	engine := newTestEngine(t, noFace, nil)
	src := buildTestPNG(t, 600, 800)

	_, err := engine.Render(context.Background(), src, resolve(t, domain.PhotoOptions{}))
	assert.ErrorIs(t, err, domain.ErrNoFaceDetected)

	rendered, err := engine.Render(context.Background(), src, resolve(t, domain.PhotoOptions{NoFace: "center"}))
	require.NoError(t, err)
	assert.Equal(t, domain.NoFaceCenter, rendered.Fallback)
	assert.Nil(t, rendered.Landmarks)
	assert.Equal(t, 600, rendered.Crop.Width)
}

func TestRenderUserErrors(t *testing.T) {
	engine := newTestEngine(t, fixedFace(portraitFace), nil)
	src := buildTestPNG(t, 600, 800)

	opts := resolve(t, domain.PhotoOptions{})
	opts.Background = domain.BackgroundTransparent
	opts.Format = domain.FormatJPEG
	_, err := engine.Render(context.Background(), src, opts)
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackground)

	_, err = engine.Render(context.Background(), src, resolve(t, domain.PhotoOptions{Sheet: domain.Sheet4x6, Copies: 7}))
	assert.ErrorIs(t, err, domain.ErrTooManyCopies)

	_, err = engine.Render(context.Background(), buildTestPNG(t, 120, 120), resolve(t, domain.PhotoOptions{}))
	assert.ErrorIs(t, err, domain.ErrImageTooSmall)
}

func TestRenderAppliesMatte(t *testing.T) {
	clearAll := matting.RemoverFunc(func(_ context.Context, img image.Image) (*image.Alpha, error) {
		return image.NewAlpha(img.Bounds()), nil
	})
	engine := newTestEngine(t, fixedFace(portraitFace), clearAll)

	rendered, err := engine.Render(context.Background(), buildTestPNG(t, 600, 800), resolve(t, domain.PhotoOptions{Background: "white"}))
	require.NoError(t, err)

	photo, _ := rendered.Artifact(domain.OutputPhoto)
	img, err := png.Decode(bytes.NewReader(photo.Data))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, color.NRGBAModel.Convert(img.At(300, 300)))
}

func TestRenderStopsOnMatteFailure(t *testing.T) {
	failing := matting.RemoverFunc(func(context.Context, image.Image) (*image.Alpha, error) {
		return nil, errors.New("model offline")
	})
	engine := newTestEngine(t, fixedFace(portraitFace), failing)

	_, err := engine.Render(context.Background(), buildTestPNG(t, 600, 800), resolve(t, domain.PhotoOptions{}))
	assert.ErrorContains(t, err, "matte stage")
}

func TestRenderHonoursCancellation(t *testing.T) {
	engine := newTestEngine(t, fixedFace(portraitFace), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Render(ctx, buildTestPNG(t, 600, 800), resolve(t, domain.PhotoOptions{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineRequiresDetector(t *testing.T) {
	_, err := NewEngine(Dependencies{})
	assert.Error(t, err)
}

type memoryObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryObjects) RemoveObject(_ context.Context, key string) error {
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

type failingEmitter struct {
	Emitter
	failKind string
}

func (f failingEmitter) Emit(ctx context.Context, req Request, artifact Artifact) (domain.Output, error) {
	if artifact.Kind == f.failKind {
		return domain.Output{}, errors.New("disk full")
	}
	return f.Emitter.Emit(ctx, req, artifact)
}

func (f failingEmitter) Discard(ctx context.Context, output domain.Output) error {
	return f.Emitter.(Discarder).Discard(ctx, output)
}

func TestProcessDiscardsPartialLocalOutputs(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")
	require.NoError(t, os.WriteFile(inputPath, buildTestPNG(t, 600, 800), 0o644))

	processor, err := NewProcessor(
		LocalFileFetcher{},
		newTestEngine(t, fixedFace(portraitFace), nil),
		failingEmitter{Emitter: LocalFileEmitter{OutputDir: outputDir}, failKind: domain.OutputPreview},
	)
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-partial",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Options:    resolve(t, domain.PhotoOptions{Sheet: domain.Sheet4x6, Preview: true}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emit stage kind=preview")

	entries, err := os.ReadDir(filepath.Join(outputDir, "job-partial"))
	require.NoError(t, err)
	assert.Empty(t, entries, "photo and sheet written before the failure are removed")
}

func TestProcessDiscardsPartialObjectOutputs(t *testing.T) {
	objects := &memoryObjects{
		objects: map[string][]byte{"uploads/job-10/source": buildTestPNG(t, 600, 800)},
		types:   map[string]string{},
	}
	processor, err := NewProcessor(
		ObjectStoreFetcher{Storage: objects},
		newTestEngine(t, fixedFace(portraitFace), nil),
		failingEmitter{Emitter: ObjectStoreEmitter{Storage: objects}, failKind: domain.OutputSheet},
	)
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-10",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-10/source",
		Options:    resolve(t, domain.PhotoOptions{Sheet: domain.Sheet4x6}),
	})
	require.Error(t, err)
	assert.NotContains(t, objects.objects, "outputs/job-10/passport_2x2in.png")
	assert.Contains(t, objects.objects, "uploads/job-10/source")
}

func TestObjectStoreStages(t *testing.T) {
	objects := &memoryObjects{
		objects: map[string][]byte{"uploads/job-9/source": buildTestPNG(t, 600, 800)},
		types:   map[string]string{},
	}

	processor, err := NewProcessor(
		ObjectStoreFetcher{Storage: objects},
		newTestEngine(t, fixedFace(portraitFace), nil),
		ObjectStoreEmitter{Storage: objects},
	)
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-9",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-9/source",
		Options:    resolve(t, domain.PhotoOptions{}),
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)

	assert.Equal(t, "outputs/job-9/passport_2x2in.png", result.Outputs[0].Path)
	assert.Equal(t, "image/png", objects.types["outputs/job-9/passport_2x2in.png"])
	assert.Equal(t, len(objects.objects["uploads/job-9/source"]), result.SourceBytes)

	_, err = ObjectStoreFetcher{Storage: objects}.Fetch(context.Background(), Request{SourceType: domain.SourceTypeLocalFile})
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "passport_2x2in.png", sanitizeFileName("passport_2x2in.png"))
	assert.Equal(t, "___etc_passwd.png", sanitizeFileName("../etc/passwd.png"))
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, wantW, cfg.Width, path)
	assert.Equal(t, wantH, cfg.Height, path)
}
