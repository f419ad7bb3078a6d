package api

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/imageio"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderCrop     = "X-Photoid-Crop"
	HeaderFallback = "X-Photoid-Fallback"
	HeaderLayout   = "X-Photoid-Layout"
)

var errBadRequest = errors.New("bad request")

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"photos":      domain.PhotoPresets(),
		"sheets":      domain.SheetPresets(),
		"backgrounds": domain.Backgrounds(),
		"formats":     []string{domain.FormatPNG, domain.FormatJPEG},
		"no_face":     []string{domain.NoFaceReject, domain.NoFaceCenter, domain.NoFaceSmart},
	})
}

type cropRequest struct {
	Width    int           `json:"width" validate:"gt=0"`
	Height   int           `json:"height" validate:"gt=0"`
	LeftEye  *domain.Point `json:"left_eye" validate:"required"`
	RightEye *domain.Point `json:"right_eye" validate:"required"`
	Preset   string        `json:"preset,omitempty" validate:"omitempty,oneof=2x2in 35x45mm"`
	domain.Adjustments
}

// handleCrop computes the crop for already-known eye positions without
// touching any pixels.
func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return
	}

	bounds := image.Rect(0, 0, req.Width, req.Height)
	for name, eye := range map[string]domain.Point{"left_eye": *req.LeftEye, "right_eye": *req.RightEye} {
		if !inBounds(eye, bounds) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s (%.1f,%.1f) is outside the %dx%d image", name, eye.X, eye.Y, req.Width, req.Height))
			return
		}
	}

	preset, err := domain.LookupPreset(req.Preset)
	if err != nil {
		s.writeRenderError(w, r, err)
		return
	}
	adjusted := req.Adjustments.Apply(preset)
	landmarks := &domain.FaceLandmarks{LeftEye: *req.LeftEye, RightEye: *req.RightEye}

	crop, err := s.geometry.ComputeCrop(image.Pt(req.Width, req.Height), landmarks, adjusted)
	if err != nil {
		s.writeRenderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preset": preset.Name,
		"crop":   crop,
	})
}

func inBounds(p domain.Point, bounds image.Rectangle) bool {
	return p.X >= float64(bounds.Min.X) && p.X < float64(bounds.Max.X) &&
		p.Y >= float64(bounds.Min.Y) && p.Y < float64(bounds.Max.Y)
}

// renderHandler serves one artifact kind straight from a multipart upload.
func (s *Server) renderHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, opts, err := s.readPhotoRequest(w, r)
		if err != nil {
			s.writeRenderError(w, r, err)
			return
		}

		switch kind {
		case domain.OutputSheet:
			if opts.Sheet == "" {
				opts.Sheet = domain.DefaultSheet
			}
		case domain.OutputPreview:
			opts.Preview = true
		}

		resolved, err := opts.Resolve()
		if err != nil {
			s.writeRenderError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if kind == domain.OutputPhoto {
			resolved.Sheet = nil
		}

		rendered, err := s.renderer.Render(r.Context(), data, resolved)
		if err != nil {
			s.writeRenderError(w, r, err)
			return
		}
		artifact, ok := rendered.Artifact(kind)
		if !ok {
			s.writeRenderError(w, r, fmt.Errorf("render produced no %s", kind))
			return
		}
		s.metrics.rendersTotal.WithLabelValues(kind, rendered.Preset).Inc()
		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(attribute.String(attrPreset, rendered.Preset))
		if rendered.Fallback != "" {
			span.SetAttributes(attribute.String(attrFallback, rendered.Fallback))
		}

		w.Header().Set("Content-Type", imageio.ContentType(artifact.Format))
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", artifact.Name))
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
		w.Header().Set(HeaderCrop, rendered.Crop.String())
		if rendered.Fallback != "" {
			w.Header().Set(HeaderFallback, rendered.Fallback)
		}
		if rendered.Layout != nil {
			w.Header().Set(HeaderLayout, fmt.Sprintf("%dx%d", rendered.Layout.Columns, rendered.Layout.Rows))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(artifact.Data)
	}
}

// readPhotoRequest pulls the "file" part and the option fields from a
// multipart form.
func (s *Server) readPhotoRequest(w http.ResponseWriter, r *http.Request) ([]byte, domain.PhotoOptions, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.PhotoOptions{}, fmt.Errorf("%w: upload over %d bytes", imageio.ErrImageTooLarge, s.maxUpload)
		}
		return nil, domain.PhotoOptions{}, fmt.Errorf("%w: multipart form: %v", errBadRequest, err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, domain.PhotoOptions{}, fmt.Errorf("%w: missing file field: %v", errBadRequest, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		return nil, domain.PhotoOptions{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, domain.PhotoOptions{}, fmt.Errorf("%w: upload over %d bytes", imageio.ErrImageTooLarge, s.maxUpload)
	}

	opts := domain.PhotoOptions{
		Preset:     r.FormValue("preset"),
		Background: r.FormValue("background"),
		Format:     r.FormValue("format"),
		NoFace:     r.FormValue("no_face"),
		Sheet:      r.FormValue("sheet"),
	}
	for field, dst := range map[string]*int{
		"copies":     &opts.Copies,
		"head_scale": &opts.HeadScalePercent,
		"eye_nudge":  &opts.EyeNudge,
	} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, domain.PhotoOptions{}, fmt.Errorf("%w: %s must be an integer", errBadRequest, field)
		}
		*dst = v
	}
	if err := s.validate.Struct(opts); err != nil {
		return nil, domain.PhotoOptions{}, fmt.Errorf("%w: %v", errBadRequest, validationError(err))
	}
	return data, opts, nil
}

func (s *Server) writeRenderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithField("path", r.URL.Path).WithError(err).Error("render failed")
		writeError(w, status, errors.New("internal error"))
		return
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoFaceDetected),
		errors.Is(err, domain.ErrImageTooSmall),
		errors.Is(err, domain.ErrTooManyCopies):
		return http.StatusUnprocessableEntity
	case errors.Is(err, imageio.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsUserError(err),
		errors.Is(err, imageio.ErrInvalidImage),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("validation: %s", strings.Join(msgs, "; "))
}
