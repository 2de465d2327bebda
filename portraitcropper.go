// Package portraitcropper turns batches of portrait photographs into
// standardized 3:4 crops.
//
// Each image is taken to exactly one terminal outcome: processed (cropped
// into the output directory), manual_review (copied for a human to decide)
// or error. A durable ledger of handled filenames makes runs idempotent:
// running the same input twice processes nothing the second time.
//
// Basic usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	pc, err := portraitcropper.Build(cfg, portraitcropper.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pc.Close()
//
//	res, err := pc.Run(ctx, pipeline.RunOptions{BatchID: "admission_2025"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("processed %d, manual review %d, errors %d\n",
//		res.Stats.Processed, res.Stats.ManualReview, res.Stats.Errors)
//
// The package consists of these main components:
//
//  1. Cropper (pkg/cropper): the pure crop decision for one face
//  2. Ledger (pkg/ledger): the idempotency ledger of handled filenames
//  3. Metadata (pkg/metadata): per-image records and batch summaries
//  4. Pipeline (pkg/pipeline): the per-file state machine
//
// Faces are located by a vision model served by Ollama or llama.cpp, or by
// dlib when built with the dlib tag. Accepted crops can optionally get their
// background replaced through a rembg server.
package portraitcropper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/menta2k/portrait-cropper/internal/config"
	"github.com/menta2k/portrait-cropper/pkg/analyzer"
	"github.com/menta2k/portrait-cropper/pkg/background"
	"github.com/menta2k/portrait-cropper/pkg/cropper"
	"github.com/menta2k/portrait-cropper/pkg/detection"
	"github.com/menta2k/portrait-cropper/pkg/finalize"
	"github.com/menta2k/portrait-cropper/pkg/ledger"
	"github.com/menta2k/portrait-cropper/pkg/llamacpp"
	"github.com/menta2k/portrait-cropper/pkg/metadata"
	"github.com/menta2k/portrait-cropper/pkg/ollama"
	"github.com/menta2k/portrait-cropper/pkg/pipeline"
)

// Version of the portrait cropper
const Version = "1.0.0"

// Options customizes Build
type Options struct {
	Logger   *slog.Logger
	Progress pipeline.ProgressFunc

	// Locator replaces the locator selected by the detection backend
	Locator detection.FaceLocator
}

// PortraitCropper bundles a pipeline with the state it owns
type PortraitCropper struct {
	config   *config.Config
	ledger   *ledger.Ledger
	records  *metadata.Manager
	pipeline *pipeline.Pipeline
	closers  []func() error
}

// Build wires the collaborators described by cfg into a pipeline
func Build(cfg *config.Config, opts Options) (*PortraitCropper, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc := &PortraitCropper{config: cfg}

	locator := opts.Locator
	if locator == nil {
		l, closeFn, err := NewLocator(cfg.Detection, logger)
		if err != nil {
			return nil, err
		}
		locator = l
		pc.closers = append(pc.closers, closeFn)
	}

	finalizer, err := NewFinalizer(cfg, logger)
	if err != nil {
		pc.Close()
		return nil, err
	}

	pc.ledger = ledger.Open(cfg.Paths.ProcessedIndex, logger)
	pc.records = metadata.NewManager(cfg.Paths.Metadata, logger)

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithEngine(NewEngine(cfg.Cropper)),
		pipeline.WithAnalyzer(analyzer.NewWithConfig(analyzer.Config{
			SupportedFormats: cfg.Analyzer.SupportedFormats,
			MinImageSize:     cfg.Analyzer.MinImageSize,
		})),
	}
	if opts.Progress != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithProgress(opts.Progress))
	}

	pc.pipeline = pipeline.New(pipeline.Config{
		Dirs: pipeline.Dirs{
			Input:        cfg.Paths.InputRaw,
			Output:       cfg.Paths.Output,
			ManualReview: cfg.Paths.ManualReview,
			Errors:       cfg.Paths.Errors,
			Debug:        cfg.Paths.Debug,
		},
		MinFileSize: cfg.Analyzer.MinFileSize,
	}, locator, finalizer, pc.ledger, pc.records, pipelineOpts...)

	return pc, nil
}

// Run processes the input directory once
func (pc *PortraitCropper) Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Result, error) {
	return pc.pipeline.Run(ctx, opts)
}

// Ledger returns the processed-files ledger
func (pc *PortraitCropper) Ledger() *ledger.Ledger {
	return pc.ledger
}

// Records returns the metadata manager
func (pc *PortraitCropper) Records() *metadata.Manager {
	return pc.records
}

// Close releases the locator resources
func (pc *PortraitCropper) Close() error {
	var errs []error
	for _, fn := range pc.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEngine creates a crop decision engine from the configured geometry
func NewEngine(cfg config.CropperConfig) *cropper.Engine {
	return cropper.NewWithConfig(cropper.Config{
		HairMarginRatio: cfg.HairMarginRatio,
		WidthFactor:     cfg.WidthFactor,
		TopPadding:      cfg.TopPadding,
		Ratio:           cropper.Portrait,
	})
}

// NewVisionLocator creates the model-backed locator of the configured
// backend. It fails for the dlib backend.
func NewVisionLocator(cfg config.DetectionConfig, logger *slog.Logger) (*detection.VisionLocator, error) {
	visionConfig := func(model string) detection.VisionConfig {
		vc := detection.DefaultVisionConfig(model)
		if cfg.MaxDim > 0 {
			vc.MaxDim = cfg.MaxDim
		}
		if cfg.Quality > 0 {
			vc.Quality = cfg.Quality
		}
		vc.MinConfidence = cfg.MinConfidence
		if cfg.Prompt != "" {
			vc.Prompt = cfg.Prompt
		}
		return vc
	}

	switch cfg.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.OllamaURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return detection.NewVisionLocator(c, visionConfig(cfg.OllamaModel), logger), nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.LlamaCppURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return detection.NewVisionLocator(c, visionConfig(cfg.LlamaCppModel), logger), nil
	default:
		return nil, fmt.Errorf("backend %q is not a vision model backend", cfg.Backend)
	}
}

// NewLocator creates the face locator selected by cfg.Backend. The returned
// function releases its resources.
func NewLocator(cfg config.DetectionConfig, logger *slog.Logger) (detection.FaceLocator, func() error, error) {
	if cfg.Backend == config.BackendDlib {
		d, err := detection.NewDlibLocator(cfg.DlibModelDir)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}

	v, err := NewVisionLocator(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return v, func() error { return nil }, nil
}

// NewFinalizer creates the plain finalizer, or the background-replacing one
// when background replacement is enabled
func NewFinalizer(cfg *config.Config, logger *slog.Logger) (finalize.Finalizer, error) {
	if !cfg.Background.Enabled {
		return finalize.NewPlain(cfg.Paths.Output, cfg.Output.Quality), nil
	}

	fill, err := background.ParseColor(cfg.Background.Color)
	if err != nil {
		return nil, fmt.Errorf("invalid background colour: %w", err)
	}
	replacer := background.NewRembgClient(cfg.Background.RembgURL, cfg.Background.Model)

	return finalize.NewWithBackground(finalize.BackgroundConfig{
		OutputDir:   cfg.Paths.Output,
		WorkingDir:  cfg.Paths.Working,
		PreparedDir: cfg.Paths.Prepared,
		Quality:     cfg.Output.Quality,
		Fill:        fill,
	}, replacer, logger), nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
