package analyzer

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// ImageAnalyzer inspects and validates input images before processing
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "bmp", "tiff", "webp"},
			MinImageSize:     1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	Format      string
	Orientation types.Orientation
	AspectRatio float64
	Area        int
	CapturedAt  *time.Time
}

// Inspect reads the header of the image at path and returns its dimensions,
// format tag and, when present, the EXIF capture time. Pixel data is not
// decoded.
func (a *ImageAnalyzer) Inspect(path string) (ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	return a.InspectReader(f)
}

// InspectReader is Inspect for an already opened image
func (a *ImageAnalyzer) InspectReader(r io.ReadSeeker) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	if !a.isFormatSupported(format) {
		return ImageInfo{}, fmt.Errorf("unsupported image format: %s", format)
	}

	info := newInfo(cfg.Width, cfg.Height)
	info.Format = strings.ToUpper(format)

	if _, err := r.Seek(0, io.SeekStart); err == nil {
		info.CapturedAt = captureTime(r)
	}
	return info, nil
}

// ValidateInfo checks that inspected dimensions meet the minimum requirements
func (a *ImageAnalyzer) ValidateInfo(info ImageInfo) error {
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", info.Width, info.Height)
	}
	if info.Width < a.config.MinImageSize || info.Height < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			info.Width, info.Height, a.config.MinImageSize)
	}
	return nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

func newInfo(width, height int) ImageInfo {
	info := ImageInfo{
		Width:       width,
		Height:      height,
		Orientation: types.OrientationOf(width, height),
		Area:        width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// captureTime returns the EXIF DateTime tag, or nil when the image carries none
func captureTime(r io.Reader) *time.Time {
	x, err := exif.Decode(r)
	if err != nil {
		return nil
	}
	ts, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &ts
}
