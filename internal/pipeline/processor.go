package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/photoid/internal/domain"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Options    domain.ResolvedOptions
}

type Result struct {
	SourceBytes int
	Rendered    Rendered
	Outputs     []domain.Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, artifact Artifact) (domain.Output, error)
}

// Discarder is implemented by emitters that can take back an output they
// already wrote. Process uses it so a failed job leaves no partial outputs.
type Discarder interface {
	Discard(ctx context.Context, output domain.Output) error
}

// Processor wraps an Engine with the stages that load the source and store
// the artifacts.
type Processor struct {
	fetcher Fetcher
	engine  *Engine
	emitter Emitter
}

func NewProcessor(fetcher Fetcher, engine *Engine, emitter Emitter) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	return &Processor{fetcher: fetcher, engine: engine, emitter: emitter}, nil
}

func NewLocalProcessor(engine *Engine, outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, engine, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	rendered, err := p.engine.Render(ctx, sourceBytes, req.Options)
	if err != nil {
		return Result{}, err
	}

	out := Result{
		SourceBytes: len(sourceBytes),
		Rendered:    rendered,
		Outputs:     make([]domain.Output, 0, len(rendered.Artifacts)),
	}
	for _, artifact := range rendered.Artifacts {
		if err := ctx.Err(); err != nil {
			return Result{}, p.discard(ctx, out.Outputs, err)
		}
		written, err := p.emitter.Emit(ctx, req, artifact)
		if err != nil {
			return Result{}, p.discard(ctx, out.Outputs, fmt.Errorf("emit stage kind=%s: %w", artifact.Kind, err))
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func (p *Processor) discard(ctx context.Context, written []domain.Output, cause error) error {
	d, ok := p.emitter.(Discarder)
	if !ok || len(written) == 0 {
		return cause
	}
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for _, output := range written {
		if err := d.Discard(ctx, output); err != nil {
			errs = append(errs, fmt.Errorf("discard %s: %w", output.Path, err))
		}
	}
	return errors.Join(errs...)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

// LocalFileEmitter writes artifacts under OutputDir/<job id>/. With Flat set
// it writes straight into OutputDir.
type LocalFileEmitter struct {
	OutputDir string
	Flat      bool
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, artifact Artifact) (domain.Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return domain.Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(artifact.Name) == "" {
		return domain.Output{}, errors.New("artifact name is required")
	}

	dir := e.OutputDir
	if !e.Flat {
		dir = filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(dir, sanitizeFileName(artifact.Name))
	if err := os.WriteFile(fullPath, artifact.Data, 0o644); err != nil {
		return domain.Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(artifact, fullPath), nil
}

func (LocalFileEmitter) Discard(_ context.Context, output domain.Output) error {
	if err := os.Remove(output.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func outputFor(artifact Artifact, path string) domain.Output {
	return domain.Output{
		Kind:    artifact.Kind,
		Format:  artifact.Format,
		Path:    path,
		Bytes:   len(artifact.Data),
		Width:   artifact.Width,
		Height:  artifact.Height,
		Success: true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// sanitizeFileName keeps the extension dot that sanitizePathToken would
// replace.
func sanitizeFileName(name string) string {
	ext := filepath.Ext(name)
	return sanitizePathToken(strings.TrimSuffix(name, ext)) + "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
}
