package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/renameio"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// Canonical encoder names
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// FormatFromExt maps a file extension or format tag to an encoder name. It
// returns "" for unknown formats.
func FormatFromExt(ext string) string {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	case "bmp":
		return FormatBMP
	case "tif", "tiff":
		return FormatTIFF
	default:
		return ""
	}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// DecodeImage decodes image bytes with WebP fallback
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, Flatten(img, color.White), &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeJPEG encodes an image as JPEG bytes
func (p *Processor) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Flatten(img, color.White), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CropImageToRect crops an image to the given pixel rectangle, relative to
// the image origin
func (p *Processor) CropImageToRect(img image.Image, rect types.Rect) (image.Image, error) {
	bounds := img.Bounds()
	r := rect.ImageRect().Add(bounds.Min).Intersect(bounds)
	if r.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %+v for %dx%d image", rect, bounds.Dx(), bounds.Dy())
	}
	return imaging.Crop(img, r), nil
}

// SaveImage saves an image to path with the specified format and quality.
// The file is replaced atomically. Formats without alpha are flattened onto
// white.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	enc := FormatFromExt(format)
	if enc == "" {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	pending, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer pending.Cleanup()

	if err := p.Encode(pending, img, enc, quality, lossless); err != nil {
		return fmt.Errorf("failed to encode %s: %w", enc, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Encode writes img to w in the given encoder format
func (p *Processor) Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch FormatFromExt(format) {
	case FormatWebP:
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(w, img, opts)
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatBMP:
		return imaging.Encode(w, Flatten(img, color.White), imaging.BMP)
	case FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatJPEG:
		return imaging.Encode(w, Flatten(img, color.White), imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// Flatten composites img over an opaque background. Opaque images are
// returned unchanged.
func Flatten(img image.Image, bg color.Color) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// CreateDebugOverlay creates an overlay image showing detected faces and the
// computed crop. crop may be nil when no crop was possible.
func (p *Processor) CreateDebugOverlay(img image.Image, faces []types.Rect, crop *types.Rect) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // faces
	gold := color.NRGBA{255, 204, 0, 255} // crop box
	blue := color.NRGBA{0, 170, 255, 255} // image center
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	for _, f := range faces {
		drawRect(nrgba, f, green, stroke)
	}
	if crop != nil && !crop.Empty() {
		drawRect(nrgba, *crop, gold, stroke)
	}

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

func drawRect(img *image.NRGBA, r types.Rect, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := r.X, r.Y, r.Right(), r.Bottom()
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0, x1 = max(x0, 0), min(x1, img.Bounds().Dx())
	if x0 >= x1 {
		return
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0, y1 = max(y0, 0), min(y1, img.Bounds().Dy())
	if y0 >= y1 {
		return
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
