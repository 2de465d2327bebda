// Package background replaces the background of cropped portraits with a
// solid fill colour, using a rembg server for the cutout.
package background

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Replacer removes the background of an image. When fill is nil the result
// keeps a transparent background; otherwise it is composited over fill.
type Replacer interface {
	Apply(ctx context.Context, img image.Image, fill *color.NRGBA) (image.Image, error)
}

// Named fill colours
var namedColors = map[string]*color.NRGBA{
	"transparent":   nil,
	"white":         {255, 255, 255, 255},
	"gray":          {240, 240, 240, 255},
	"light_gray":    {245, 245, 245, 255},
	"institutional": {235, 235, 235, 255},
}

// ParseColor resolves a fill colour name, "#rrggbb", "rgb(r,g,b)" or "r,g,b". The
// transparent colour yields nil.
func ParseColor(s string) (*color.NRGBA, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[key]; ok {
		if c == nil {
			return nil, nil
		}
		cp := *c
		return &cp, nil
	}

	if strings.HasPrefix(key, "#") && len(key) == 7 {
		v, err := strconv.ParseUint(key[1:], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid hex colour %q: %w", s, err)
		}
		return &color.NRGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(key, "rgb"), "()"), ",")
	if len(parts) == 3 {
		var rgb [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid colour component %q in %q", p, s)
			}
			rgb[i] = uint8(v)
		}
		return &color.NRGBA{rgb[0], rgb[1], rgb[2], 255}, nil
	}

	return nil, fmt.Errorf("unknown colour %q", s)
}

// ColorName returns the canonical name of c, or its rgb() form
func ColorName(c *color.NRGBA) string {
	if c == nil {
		return "transparent"
	}
	for _, name := range []string{"white", "gray", "light_gray", "institutional"} {
		if *namedColors[name] == *c {
			return name
		}
	}
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Composite places a cutout with alpha over a solid fill
func Composite(cutout image.Image, fill color.NRGBA) *image.NRGBA {
	b := cutout.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), fill)
	return imaging.Overlay(canvas, cutout, image.Pt(0, 0), 1.0)
}
