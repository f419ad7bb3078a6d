package domain

import "errors"

var (
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrImageTooSmall         = errors.New("image too small for preset")
	ErrTooManyCopies         = errors.New("too many copies for sheet")
	ErrUnsupportedBackground = errors.New("unsupported background choice")
	ErrUnknownPreset         = errors.New("unknown preset")
	ErrUnsupportedFormat     = errors.New("unsupported output format")
	ErrInvalidOptions        = errors.New("invalid photo options")
)

// IsUserError reports whether err is caused by the input photo or the
// requested options. Such errors are deterministic and never worth a retry.
func IsUserError(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) ||
		errors.Is(err, ErrImageTooSmall) ||
		errors.Is(err, ErrTooManyCopies) ||
		errors.Is(err, ErrUnsupportedBackground) ||
		errors.Is(err, ErrUnknownPreset) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidOptions)
}
