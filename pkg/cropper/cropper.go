package cropper

import (
	"fmt"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// DecisionStatus is the outcome of a crop decision
type DecisionStatus string

const (
	StatusOK           DecisionStatus = "OK"
	StatusManualReview DecisionStatus = "MANUAL_REVIEW"
)

// Manual review reasons
const (
	ReasonFaceOutsideCrop = "face does not fit fully inside computed crop"
	ReasonCropOutOfBounds = "crop exceeds image bounds"
)

// AspectRatio represents a width:height ratio
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Value returns the ratio as width/height
func (a AspectRatio) Value() float64 {
	return float64(a.Width) / float64(a.Height)
}

// Portrait is the standardized 3:4 portrait ratio
var Portrait = AspectRatio{3, 4, "portrait"}

// Config holds the geometry parameters of the decision engine
type Config struct {
	// HairMarginRatio is the fraction of the face height reserved above the face for hair
	HairMarginRatio float64
	// WidthFactor scales the face width into the ideal crop width
	WidthFactor float64
	// TopPadding is the extra space in pixels above the estimated hair line
	TopPadding float64
	Ratio      AspectRatio
}

// DefaultConfig returns the standard portrait geometry
func DefaultConfig() Config {
	return Config{
		HairMarginRatio: 0.8,
		WidthFactor:     2.5,
		TopPadding:      20,
		Ratio:           Portrait,
	}
}

// Engine computes crop decisions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	config Config
}

// New creates an Engine with the default configuration
func New() *Engine {
	return &Engine{config: DefaultConfig()}
}

// NewWithConfig creates an Engine with a custom configuration
func NewWithConfig(config Config) *Engine {
	return &Engine{config: config}
}

// CropBox is a crop region as [x0, y0, x1, y1] with exclusive x1/y1
type CropBox [4]int

// Width returns the crop width
func (b CropBox) Width() int { return b[2] - b[0] }

// Height returns the crop height
func (b CropBox) Height() int { return b[3] - b[1] }

// Rect converts the box into a Rect
func (b CropBox) Rect() types.Rect {
	return types.Rect{X: b[0], Y: b[1], W: b.Width(), H: b.Height()}
}

// Decision is the result of Decide. Crop is set iff Status is OK and Reason
// is set iff Status is MANUAL_REVIEW.
type Decision struct {
	Status DecisionStatus `json:"status"`
	Crop   *CropBox       `json:"crop_box,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// OK reports whether the decision allows cropping
func (d Decision) OK() bool {
	return d.Status == StatusOK
}

func (d Decision) String() string {
	if d.OK() {
		return fmt.Sprintf("%s %v", d.Status, *d.Crop)
	}
	return fmt.Sprintf("%s (%s)", d.Status, d.Reason)
}

// Decide computes the crop decision with the default configuration
func Decide(imageWidth, imageHeight int, face types.Rect) Decision {
	return New().Decide(imageWidth, imageHeight, face)
}

// Decide computes whether a face permits a standardized crop of an image
// of the given size. The face box must have a positive area.
func (e *Engine) Decide(imageWidth, imageHeight int, face types.Rect) Decision {
	imgW, imgH := float64(imageWidth), float64(imageHeight)
	x, y, w, h := float64(face.X), float64(face.Y), float64(face.W), float64(face.H)
	aspect := e.config.Ratio.Value()

	faceCenterX := x + w/2
	hairTop := y - h*e.config.HairMarginRatio

	cropW := w * e.config.WidthFactor
	cropH := cropW / aspect

	// Placement uses the ideal width, before any shrinking below.
	cropX := faceCenterX - cropW/2
	cropY := hairTop - e.config.TopPadding

	if cropW > imgW {
		cropW = imgW
		cropH = cropW / aspect
	}
	if cropH > imgH {
		cropH = imgH
		cropW = cropH * aspect
	}

	if cropX < 0 {
		cropX = 0
	}
	if cropX+cropW > imgW {
		cropX = imgW - cropW
	}
	if cropY < 0 {
		cropY = 0
	}
	if cropY+cropH > imgH {
		cropY = imgH - cropH
	}

	if x < cropX || x+w > cropX+cropW || y < cropY || y+h > cropY+cropH {
		return Decision{Status: StatusManualReview, Reason: ReasonFaceOutsideCrop}
	}

	if cropX < 0 || cropY < 0 || cropX+cropW > imgW || cropY+cropH > imgH {
		return Decision{Status: StatusManualReview, Reason: ReasonCropOutOfBounds}
	}

	box := CropBox{
		int(cropX),
		int(cropY),
		int(cropX + cropW),
		int(cropY + cropH),
	}
	return Decision{Status: StatusOK, Crop: &box}
}
