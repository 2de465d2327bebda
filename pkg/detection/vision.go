package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/menta2k/portrait-cropper/pkg/client"
	"github.com/menta2k/portrait-cropper/pkg/processing"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt is the default prompt for face localisation
const DefaultPrompt = `You are a face locator for ID-style portrait photographs.

Return JSON only:
{
  "faces": [
    {"confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- List EVERY human face visible in the image, one entry per face.
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box covers the face only: from eyebrows to chin, ear to ear. Exclude hair and neck.
- Do not include faces on posters, screens or reflections.
- Do not guess real identities.
- If no face is visible, return {"faces": [], "description": "no face"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionConfig configures a VisionLocator
type VisionConfig struct {
	Model         string
	Prompt        string
	MaxDim        int
	Quality       int
	MinConfidence float64
}

// DefaultVisionConfig returns the default vision locator settings
func DefaultVisionConfig(model string) VisionConfig {
	return VisionConfig{
		Model:         model,
		Prompt:        DefaultPrompt,
		MaxDim:        1024,
		Quality:       85,
		MinConfidence: 0.3,
	}
}

// VisionLocator finds faces by asking a multimodal model
type VisionLocator struct {
	client    client.VisionClient
	processor *processing.Processor
	config    VisionConfig
	logger    *slog.Logger
}

// NewVisionLocator creates a locator backed by a vision client
func NewVisionLocator(c client.VisionClient, config VisionConfig, logger *slog.Logger) *VisionLocator {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionLocator{
		client:    c,
		processor: processing.NewProcessor(),
		config:    config,
		logger:    logger,
	}
}

// Locate returns the faces the model reports, in pixel coordinates of img
func (v *VisionLocator) Locate(ctx context.Context, img image.Image) ([]types.Rect, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	imgB64, err := v.processor.PrepareImageForModel(img, "jpg", v.config.MaxDim, v.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	result, err := v.client.AnalyzeImage(ctx, v.config.Model, v.config.Prompt, imgB64)
	if err != nil {
		return nil, err
	}

	sentW, sentH := scaledSize(w, h, v.config.MaxDim)
	faces := make([]types.Rect, 0, len(result.Faces))
	for _, f := range result.Faces {
		if f.Confidence < v.config.MinConfidence {
			v.logger.Debug("dropping low-confidence face", "confidence", f.Confidence, "min", v.config.MinConfidence)
			continue
		}
		rect := normalizeBox(f.Box, sentW, sentH).ToRect(w, h)
		if rect.Empty() {
			continue
		}
		faces = append(faces, rect)
	}
	return faces, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (v *VisionLocator) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := v.processor.PrepareImageForModel(img, "jpg", v.config.MaxDim, v.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	return v.client.SimpleQuery(ctx, v.config.Model, SimpleTestPrompt, imgB64)
}

// scaledSize mirrors the resize done before an image is sent to the model
func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, int(math.Max(1, math.Floor(float64(maxDim)*float64(h)/float64(w)+0.5)))
	}
	return int(math.Max(1, math.Floor(float64(maxDim)*float64(w)/float64(h)+0.5))), maxDim
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1]. Boxes with any
// coordinate above 1 are treated as pixels of an imgW x imgH image.
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		return types.Box{
			X: clamp(b.X/float64(imgW), 0, 1),
			Y: clamp(b.Y/float64(imgH), 0, 1),
			W: clamp(b.W/float64(imgW), 0, 1),
			H: clamp(b.H/float64(imgH), 0, 1),
		}
	}

	return types.Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}
