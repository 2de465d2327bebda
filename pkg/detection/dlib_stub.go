//go:build !dlib

package detection

import (
	"context"
	"errors"
	"image"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// DlibAvailable reports whether the binary was built with dlib support
const DlibAvailable = false

// ErrDlibUnavailable is returned when the binary was built without the dlib tag
var ErrDlibUnavailable = errors.New("dlib face locator not available: rebuild with -tags dlib")

// DlibLocator is a placeholder when dlib support is not compiled in
type DlibLocator struct{}

// NewDlibLocator always fails without the dlib build tag
func NewDlibLocator(modelDir string) (*DlibLocator, error) {
	return nil, ErrDlibUnavailable
}

// Locate always fails without the dlib build tag
func (d *DlibLocator) Locate(ctx context.Context, img image.Image) ([]types.Rect, error) {
	return nil, ErrDlibUnavailable
}

// Close is a no-op
func (d *DlibLocator) Close() error {
	return nil
}
