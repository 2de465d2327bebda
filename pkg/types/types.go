package types

import (
	"image"
	"strings"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToRect converts a normalized box into pixel coordinates for an image of the given size
func (b Box) ToRect(imgW, imgH int) Rect {
	x0 := int(clamp01(b.X)*float64(imgW) + 0.5)
	y0 := int(clamp01(b.Y)*float64(imgH) + 0.5)
	x1 := int(clamp01(b.X+b.W)*float64(imgW) + 0.5)
	y1 := int(clamp01(b.Y+b.H)*float64(imgH) + 0.5)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Rect is an axis-aligned rectangle in pixel coordinates. X and Y are the
// top-left corner.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns the area of the rectangle
func (r Rect) Area() int {
	return r.W * r.H
}

// Right returns the exclusive right edge
func (r Rect) Right() int {
	return r.X + r.W
}

// Bottom returns the exclusive bottom edge
func (r Rect) Bottom() int {
	return r.Y + r.H
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Contains reports whether o lies entirely inside r
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// ImageRect converts the rectangle into an image.Rectangle
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.Right(), r.Bottom())
}

// RectFromImage converts an image.Rectangle (as returned by detectors) into a Rect
func RectFromImage(r image.Rectangle) Rect {
	r = r.Canon()
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Orientation classifies an image's aspect ratio
type Orientation string

const (
	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"
	Square    Orientation = "square"
)

// OrientationOf derives the orientation from pixel dimensions. Ratios above
// 1.1 are landscape, below 0.9 portrait, anything in between square. Unknown
// dimensions yield an empty orientation.
func OrientationOf(width, height int) Orientation {
	if width <= 0 || height <= 0 {
		return ""
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio > 1.1:
		return Landscape
	case ratio < 0.9:
		return Portrait
	default:
		return Square
	}
}

// Status is the lifecycle state of an image record
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessed    Status = "processed"
	StatusManualReview Status = "manual_review"
	StatusError        Status = "error"
)

// Terminal reports whether no further status transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusManualReview || s == StatusError
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// FaceAnalysis is the face listing returned by a vision model
type FaceAnalysis struct {
	Faces       []DetectedFace `json:"faces"`
	Description string         `json:"description"`
}

// DetectedFace is a single face reported by a vision model
type DetectedFace struct {
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
