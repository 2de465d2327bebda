package background

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// RembgClient removes backgrounds through a rembg HTTP server
// (`rembg s`), posting the image to /api/remove.
type RembgClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewRembgClient creates a client for the server at baseURL. model selects
// the rembg session (e.g. "u2net", "u2net_human_seg"); empty uses the
// server default.
func NewRembgClient(baseURL, model string) *RembgClient {
	if baseURL == "" {
		baseURL = "http://localhost:7000"
	}
	return &RembgClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Apply sends img to rembg and composites the cutout over fill
func (c *RembgClient) Apply(ctx context.Context, img image.Image, fill *color.NRGBA) (image.Image, error) {
	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(payload.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/remove", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rembg request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rembg response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rembg returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	cutout, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode rembg output: %w", err)
	}
	if cutout.Bounds().Dx() != img.Bounds().Dx() || cutout.Bounds().Dy() != img.Bounds().Dy() {
		return nil, fmt.Errorf("rembg output is %v, expected %dx%d", cutout.Bounds().Size(), img.Bounds().Dx(), img.Bounds().Dy())
	}

	if fill == nil {
		return cutout, nil
	}
	return Composite(cutout, *fill), nil
}
