//go:build dlib

package detection

import (
	"context"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/menta2k/portrait-cropper/pkg/processing"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// DlibAvailable reports whether the binary was built with dlib support
const DlibAvailable = true

// DlibLocator finds faces with dlib's HOG detector through go-face. modelDir
// must contain the dlib model files go-face expects.
type DlibLocator struct {
	mu        sync.Mutex
	rec       *face.Recognizer
	processor *processing.Processor
}

// NewDlibLocator loads the dlib models from modelDir
func NewDlibLocator(modelDir string) (*DlibLocator, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelDir, err)
	}
	return &DlibLocator{rec: rec, processor: processing.NewProcessor()}, nil
}

// Locate returns the faces dlib finds in img
func (d *DlibLocator) Locate(ctx context.Context, img image.Image) ([]types.Rect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := d.processor.EncodeJPEG(img, 95)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for dlib: %w", err)
	}

	// The recognizer is not safe for concurrent use.
	d.mu.Lock()
	faces, err := d.rec.Recognize(data)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	rects := make([]types.Rect, 0, len(faces))
	for _, f := range faces {
		r := types.RectFromImage(f.Rectangle)
		if !r.Empty() {
			rects = append(rects, r)
		}
	}
	return rects, nil
}

// Close releases the dlib models
func (d *DlibLocator) Close() error {
	d.rec.Close()
	return nil
}
