package detection

import (
	"context"
	"image"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// FaceLocator finds faces in a decoded image. Returned rectangles are in the
// pixel coordinates of img, with its bounds origin at (0, 0).
type FaceLocator interface {
	Locate(ctx context.Context, img image.Image) ([]types.Rect, error)
}

// LocatorFunc adapts a function to the FaceLocator interface
type LocatorFunc func(ctx context.Context, img image.Image) ([]types.Rect, error)

// Locate calls f
func (f LocatorFunc) Locate(ctx context.Context, img image.Image) ([]types.Rect, error) {
	return f(ctx, img)
}

// LargestFace returns the index of the face with the largest area. The first
// face wins on ties. It returns -1 for an empty slice.
func LargestFace(faces []types.Rect) int {
	best := -1
	for i, f := range faces {
		if best < 0 || f.Area() > faces[best].Area() {
			best = i
		}
	}
	return best
}
