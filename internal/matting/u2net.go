package matting

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// U2Net works on a fixed 320x320 RGB input normalised with the ImageNet
// statistics and emits one saliency map of the same size.
const (
	u2netSize   = 320
	u2netInput  = "input.1"
	u2netOutput = "1959"
)

var (
	u2netMean = [3]float32{0.485, 0.456, 0.406}
	u2netStd  = [3]float32{0.229, 0.224, 0.225}
)

// u2netTensor resizes img to the model input and lays it out as planar
// NCHW float32.
func u2netTensor(img image.Image) []float32 {
	resized := imaging.Resize(img, u2netSize, u2netSize, imaging.Lanczos)
	plane := u2netSize * u2netSize
	data := make([]float32, 3*plane)

	var maxV float32
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			maxV = max(maxV, float32(resized.Pix[i*4+c]))
		}
	}
	if maxV == 0 {
		maxV = 1
	}

	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			v := float32(resized.Pix[i*4+c]) / maxV
			data[c*plane+i] = (v - u2netMean[c]) / u2netStd[c]
		}
	}
	return data
}

// u2netMatte min-max normalises the saliency map into a mask and scales it
// to size.
func u2netMatte(pred []float32, size image.Point, threshold float64) *image.Alpha {
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range pred {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	mask := image.NewAlpha(image.Rect(0, 0, u2netSize, u2netSize))
	for i, v := range pred[:u2netSize*u2netSize] {
		n := float64((v - lo) / span)
		if threshold > 0 && n < threshold {
			n = 0
		}
		mask.Pix[i] = uint8(math.Round(n * 255))
	}
	return FitAlpha(mask, size)
}
