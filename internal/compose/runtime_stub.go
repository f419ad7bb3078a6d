//go:build !govips || !cgo

package compose

import "github.com/disintegration/imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newResampler() Resampler {
	return ImagingResampler{Filter: imaging.Lanczos}
}
