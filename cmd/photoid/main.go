// Command photoid turns a portrait into a passport photo on the local
// machine.
//
//	photoid -in face.jpg -out passport.png -preset 2x2in -bg blue -sheet 4x6in -copies 6 -preview guides.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dunamismax/photoid/internal/app"
	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/logging"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type renderer interface {
	Render(ctx context.Context, data []byte, opts domain.ResolvedOptions) (pipeline.Rendered, error)
}

// engineFactory is swapped in tests.
var engineFactory = func(cfg config.Config, logger *logrus.Entry) (renderer, func(), error) {
	return app.NewEngine(cfg, logger)
}

type cliOptions struct {
	in        string
	out       string
	sheetOut  string
	preview   string
	cascades  string
	matting   string
	verbose   bool
	photoOpts domain.PhotoOptions
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "photoid:", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if cli.cascades != "" {
		cfg.Face.CascadeDir = cli.cascades
	}
	if cli.matting != "" {
		cfg.Matting.Backend = cli.matting
	}
	cfg.Log.Level = "warn"
	if cli.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New("photoid", cfg.Log)
	if err != nil {
		return err
	}

	opts, err := cli.photoOpts.Resolve()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cli.in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	engine, cleanup, err := engineFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	rendered, err := engine.Render(ctx, data, opts)
	if err != nil {
		return err
	}

	targets := map[string]string{
		domain.OutputPhoto:   cli.out,
		domain.OutputSheet:   cli.sheetOut,
		domain.OutputPreview: cli.preview,
	}
	for _, artifact := range rendered.Artifacts {
		path := targets[artifact.Kind]
		if path == "" {
			path = artifact.Name
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", artifact.Kind, err)
		}
		fmt.Fprintf(stdout, "%-7s %s (%dx%d)\n", artifact.Kind, path, artifact.Width, artifact.Height)
	}

	logger.WithFields(logrus.Fields{
		"crop":     rendered.Crop.String(),
		"fallback": rendered.Fallback,
	}).Debug("done")
	if rendered.Fallback != "" {
		fmt.Fprintf(stdout, "no face found, used %q crop\n", rendered.Fallback)
	}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var (
		cli    cliOptions
		format string
	)
	fs := flag.NewFlagSet("photoid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cli.in, "in", "", "input photo (jpeg, png or webp)")
	fs.StringVar(&cli.out, "out", "", "output photo path (default passport_<preset>.<ext>)")
	fs.StringVar(&cli.photoOpts.Preset, "preset", domain.DefaultPreset, "photo preset: 2x2in or 35x45mm")
	fs.StringVar(&cli.photoOpts.Background, "bg", string(domain.BackgroundWhite), "background: white, blue or transparent")
	fs.StringVar(&format, "format", "", "output format: png or jpg (default from -out, else png)")
	fs.StringVar(&cli.photoOpts.NoFace, "no-face", domain.DefaultNoFace, "when no face is found: reject, center or smart")
	fs.IntVar(&cli.photoOpts.HeadScalePercent, "head-scale", 0, "head size nudge in percent, -10..10")
	fs.IntVar(&cli.photoOpts.EyeNudge, "eye-nudge", 0, "eye line nudge, -10..10")
	fs.StringVar(&cli.photoOpts.Sheet, "sheet", "", "also tile a print sheet: 4x6in, 5x7in or 10x15cm")
	fs.IntVar(&cli.photoOpts.Copies, "copies", 0, "copies on the sheet (0 fills it)")
	fs.StringVar(&cli.sheetOut, "sheet-out", "", "sheet output path (default sheet_<sheet>.jpg)")
	fs.StringVar(&cli.preview, "preview", "", "write a guide preview PNG to this path")
	fs.StringVar(&cli.cascades, "cascades", "", "directory holding the facefinder and puploc cascades")
	fs.StringVar(&cli.matting, "matting", "", "background removal backend: none, rembg or onnx")
	fs.BoolVar(&cli.verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(cli.in) == "" {
		return cliOptions{}, errors.New("-in is required")
	}

	if format == "" && cli.out != "" {
		switch strings.ToLower(filepath.Ext(cli.out)) {
		case ".jpg", ".jpeg":
			format = "jpg"
		case ".png":
			format = "png"
		}
	}
	cli.photoOpts.Format = format
	cli.photoOpts.Preview = cli.preview != ""
	return cli, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoFaceDetected):
		return 3
	case errors.Is(err, domain.ErrImageTooSmall), errors.Is(err, domain.ErrTooManyCopies):
		return 4
	case domain.IsUserError(err):
		return 2
	default:
		return 1
	}
}
