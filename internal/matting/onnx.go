//go:build onnx && cgo

package matting

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu          sync.Mutex
	envInitialized bool

	u2netOnce    sync.Once
	u2netDefault *U2Net
	u2netErr     error
)

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	envInitialized = true
	return nil
}

// Shutdown releases the ONNX runtime. The default U2Net session must not be
// used afterwards.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envInitialized {
		return nil
	}
	if u2netDefault != nil {
		_ = u2netDefault.session.Destroy()
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}
	envInitialized = false
	return nil
}

// U2Net runs a U2Net saliency model through ONNX Runtime.
type U2Net struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	threshold float64
}

// DefaultU2Net loads the model on first call and shares the session for the
// rest of the process.
func DefaultU2Net(cfg Config) (Remover, error) {
	u2netOnce.Do(func() {
		u2netDefault, u2netErr = newU2Net(cfg)
	})
	if u2netErr != nil {
		return nil, u2netErr
	}
	return u2netDefault, nil
}

func newU2Net(cfg Config) (*U2Net, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx matting requires a model path")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{u2netInput},
		[]string{u2netOutput},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("load u2net model %s: %w", cfg.ModelPath, err)
	}
	return &U2Net{session: session, threshold: cfg.Threshold}, nil
}

func (u *U2Net) RemoveBackground(ctx context.Context, img image.Image) (*image.Alpha, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, u2netSize, u2netSize), u2netTensor(img))
	if err != nil {
		return nil, fmt.Errorf("create u2net input: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, u2netSize, u2netSize))
	if err != nil {
		return nil, fmt.Errorf("create u2net output: %w", err)
	}
	defer output.Destroy()

	u.mu.Lock()
	err = u.session.Run([]ort.Value{input}, []ort.Value{output})
	u.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run u2net: %w", err)
	}

	return u2netMatte(output.GetData(), img.Bounds().Size(), u.threshold), nil
}
