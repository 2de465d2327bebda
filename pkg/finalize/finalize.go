// Package finalize turns an accepted crop decision into output files. The
// pipeline holds one Finalizer chosen at construction time.
package finalize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/menta2k/portrait-cropper/pkg/background"
	"github.com/menta2k/portrait-cropper/pkg/processing"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// DefaultQuality is the JPEG/WebP quality used for outputs
const DefaultQuality = 95

// Request describes one accepted crop
type Request struct {
	Filename string
	Image    image.Image
	Crop     types.Rect
}

// Result describes the files written for a request
type Result struct {
	OutputPath        string
	PreparedPath      string
	WorkingPath       string
	BackgroundRemoved bool
	BackgroundColor   string
	BackgroundError   string
}

// Finalizer writes the final output of an accepted crop
type Finalizer interface {
	Finalize(ctx context.Context, req Request) (*Result, error)
}

// Plain crops the image and writes it to the output directory under its
// original name and format
type Plain struct {
	outputDir string
	quality   int
	processor *processing.Processor
}

// NewPlain creates a Plain finalizer writing into outputDir
func NewPlain(outputDir string, quality int) *Plain {
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &Plain{outputDir: outputDir, quality: quality, processor: processing.NewProcessor()}
}

// Finalize crops and writes <output>/<filename>
func (p *Plain) Finalize(ctx context.Context, req Request) (*Result, error) {
	cropped, err := p.processor.CropImageToRect(req.Image, req.Crop)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(p.outputDir, req.Filename)
	if err := p.processor.SaveImage(cropped, out, filepath.Ext(req.Filename), p.quality, false); err != nil {
		return nil, err
	}
	return &Result{OutputPath: out}, nil
}

// BackgroundConfig configures a WithBackground finalizer
type BackgroundConfig struct {
	OutputDir   string
	WorkingDir  string
	PreparedDir string
	Quality     int
	// Fill is the replacement background; nil keeps it transparent
	Fill *color.NRGBA
}

// WithBackground crops, replaces the background and converts the result
// back to the source format. A failing replacer is not fatal: the plain
// crop is written instead and the failure reported in Result.
type WithBackground struct {
	config    BackgroundConfig
	replacer  background.Replacer
	processor *processing.Processor
	logger    *slog.Logger
}

// NewWithBackground creates a background-replacing finalizer
func NewWithBackground(config BackgroundConfig, replacer background.Replacer, logger *slog.Logger) *WithBackground {
	if config.Quality <= 0 {
		config.Quality = DefaultQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WithBackground{
		config:    config,
		replacer:  replacer,
		processor: processing.NewProcessor(),
		logger:    logger,
	}
}

// Finalize runs crop -> working copy -> background replacement -> prepared
// copy -> output in the original format
func (w *WithBackground) Finalize(ctx context.Context, req Request) (*Result, error) {
	cropped, err := w.processor.CropImageToRect(req.Image, req.Crop)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	stem := strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	res := &Result{}

	res.WorkingPath = filepath.Join(w.config.WorkingDir, "faces_cropped", req.Filename)
	if err := w.processor.SaveImage(cropped, res.WorkingPath, ext, w.config.Quality, false); err != nil {
		return nil, fmt.Errorf("failed to write working copy: %w", err)
	}

	final := image.Image(cropped)
	replaced, err := w.replacer.Apply(ctx, cropped, w.config.Fill)
	if err != nil {
		w.logger.Warn("background replacement failed, using plain crop", "filename", req.Filename, "error", err)
		res.BackgroundError = err.Error()
	} else {
		preparedExt := ".jpg"
		if w.config.Fill == nil {
			preparedExt = ".png"
		}
		res.PreparedPath = filepath.Join(w.config.PreparedDir, stem+preparedExt)
		if err := w.processor.SaveImage(replaced, res.PreparedPath, preparedExt, w.config.Quality, false); err != nil {
			return nil, fmt.Errorf("failed to write prepared image: %w", err)
		}
		final = replaced
		res.BackgroundRemoved = true
		res.BackgroundColor = background.ColorName(w.config.Fill)
	}

	res.OutputPath = filepath.Join(w.config.OutputDir, stem+ext)
	if err := w.processor.SaveImage(final, res.OutputPath, ext, w.config.Quality, false); err != nil {
		return nil, err
	}
	return res, nil
}
