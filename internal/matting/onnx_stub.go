//go:build !onnx || !cgo

package matting

import "fmt"

func DefaultU2Net(Config) (Remover, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnx", ErrBackendUnavailable)
}

func Shutdown() error {
	return nil
}
