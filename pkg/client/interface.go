package client

import (
	"context"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// VisionClient is a multimodal model backend that can look at an image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.FaceAnalysis, error)
}
