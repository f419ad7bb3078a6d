package matting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	rembgRemovePath   = "/api/remove"
	rembgMaxResponse  = 64 << 20
	defaultRembgLimit = 60 * time.Second
)

// RembgClient calls a rembg HTTP server (`rembg s`), which answers an upload
// with an RGBA PNG cutout.
type RembgClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewRembgClient(baseURL string, timeout time.Duration) (*RembgClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("rembg url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid rembg url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultRembgLimit
	}

	return &RembgClient{
		endpoint:   strings.TrimRight(baseURL, "/") + rembgRemovePath,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *RembgClient) RemoveBackground(ctx context.Context, img image.Image) (*image.Alpha, error) {
	body, contentType, err := multipartPNG(img)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build rembg request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/png")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rembg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rembg returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	cutout, err := png.Decode(io.LimitReader(resp.Body, rembgMaxResponse))
	if err != nil {
		return nil, fmt.Errorf("decode rembg response: %w", err)
	}
	return FitAlpha(AlphaOf(cutout), img.Bounds().Size()), nil
}

func multipartPNG(img image.Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		return nil, "", fmt.Errorf("build rembg upload: %w", err)
	}
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("encode rembg upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finish rembg upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
