// Package pipeline drives each input image from pending to a terminal
// outcome: processed, manual_review or error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/menta2k/portrait-cropper/internal/utils"
	"github.com/menta2k/portrait-cropper/pkg/analyzer"
	"github.com/menta2k/portrait-cropper/pkg/cropper"
	"github.com/menta2k/portrait-cropper/pkg/detection"
	"github.com/menta2k/portrait-cropper/pkg/finalize"
	"github.com/menta2k/portrait-cropper/pkg/ledger"
	"github.com/menta2k/portrait-cropper/pkg/metadata"
	"github.com/menta2k/portrait-cropper/pkg/processing"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// Manual review reasons
const (
	ReasonNoFace = "no face detected"
)

// Dirs are the stage directories used by a run
type Dirs struct {
	Input        string
	Output       string
	ManualReview string
	Errors       string
	// Debug receives crop overlays when set
	Debug string
}

// Config holds pipeline configuration
type Config struct {
	Dirs        Dirs
	MinFileSize int64
}

// Stats are the aggregate counters of a run
type Stats struct {
	Total        int `json:"total"`
	Skipped      int `json:"skipped"`
	Processed    int `json:"processed"`
	ManualReview int `json:"manual_review"`
	Errors       int `json:"errors"`
}

func (s *Stats) count(status types.Status) {
	switch status {
	case types.StatusProcessed:
		s.Processed++
	case types.StatusManualReview:
		s.ManualReview++
	case types.StatusError:
		s.Errors++
	}
}

// RunOptions configures a single run
type RunOptions struct {
	// BatchID defaults to batch_YYYYMMDD_HHMMSS
	BatchID string
	// AutoClean deletes the sources of files processed in this run
	AutoClean bool
	RunID     string
}

// Result is the outcome of a run
type Result struct {
	BatchID     string
	RunID       string
	Stats       Stats
	Summary     *metadata.BatchSummary
	SummaryPath string
}

// Progress is reported after each file reaches a terminal state
type Progress struct {
	Done     int
	Total    int
	Filename string
	Status   types.Status
}

// ProgressFunc receives progress updates
type ProgressFunc func(Progress)

// Pipeline is the per-run orchestrator
type Pipeline struct {
	config    Config
	locator   detection.FaceLocator
	finalizer finalize.Finalizer
	ledger    *ledger.Ledger
	records   *metadata.Manager
	engine    *cropper.Engine
	analyzer  *analyzer.ImageAnalyzer
	processor *processing.Processor
	logger    *slog.Logger
	progress  ProgressFunc
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger used for the run
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithEngine replaces the default crop decision engine
func WithEngine(engine *cropper.Engine) Option {
	return func(p *Pipeline) { p.engine = engine }
}

// WithAnalyzer replaces the default image analyzer
func WithAnalyzer(a *analyzer.ImageAnalyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// New creates a pipeline. The ledger and record manager are owned by the
// caller; the pipeline persists the ledger after every terminal outcome.
func New(config Config, locator detection.FaceLocator, finalizer finalize.Finalizer,
	index *ledger.Ledger, records *metadata.Manager, opts ...Option) *Pipeline {
	if config.MinFileSize <= 0 {
		config.MinFileSize = DefaultMinFileSize
	}
	p := &Pipeline{
		config:    config,
		locator:   locator,
		finalizer: finalizer,
		ledger:    index,
		records:   records,
		engine:    cropper.New(),
		analyzer:  analyzer.New(),
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run scans the input directory, processes every file not yet in the ledger
// and writes the batch summary. Per-file failures become error records and
// never abort the run. A cancelled context stops the run between files.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	started := p.records.Now()
	res := &Result{BatchID: opts.BatchID, RunID: opts.RunID}
	if res.BatchID == "" {
		res.BatchID = utils.DefaultBatchID(started)
	}
	if err := utils.ValidateBatchID(res.BatchID); err != nil {
		return nil, err
	}
	logger := p.logger.With("batch_id", res.BatchID)
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}

	for _, dir := range []string{p.config.Dirs.Input, p.config.Dirs.Output, p.config.Dirs.ManualReview, p.config.Dirs.Errors} {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	scan, err := Scan(p.config.Dirs.Input, p.config.MinFileSize)
	if err != nil {
		return nil, err
	}
	for _, path := range scan.TooSmall {
		size := "unknown size"
		if info, err := os.Stat(path); err == nil {
			size = utils.FormatFileSize(info.Size())
		}
		logger.Warn("file too small, ignoring", "filename", filepath.Base(path), "size", size,
			"minimum", utils.FormatFileSize(p.config.MinFileSize))
	}

	var pending []string
	for _, path := range scan.Files {
		res.Stats.Total++
		if p.ledger.IsProcessed(filepath.Base(path)) {
			logger.Debug("already processed, skipping", "filename", filepath.Base(path))
			res.Stats.Skipped++
			continue
		}
		pending = append(pending, path)
	}
	logger.Info("input scanned", "found", res.Stats.Total, "skipped", res.Stats.Skipped, "new", len(pending))

	var (
		produced []*metadata.ImageRecord
		cleanup  []string
		runErr   error
	)
	for i, path := range pending {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		rec, err := p.processFile(ctx, path, res.BatchID, logger)
		if err != nil {
			runErr = err
			break
		}

		p.commit(rec, res.BatchID, logger)
		res.Stats.count(rec.Status)
		produced = append(produced, rec)
		if rec.Status == types.StatusProcessed {
			cleanup = append(cleanup, path)
		}

		if p.progress != nil {
			p.progress(Progress{Done: i + 1, Total: len(pending), Filename: rec.Filename, Status: rec.Status})
		}
	}

	if opts.AutoClean {
		for _, path := range cleanup {
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove processed source", "path", path, "error", err)
				continue
			}
			logger.Debug("removed processed source", "path", path)
		}
	}

	if len(produced) > 0 {
		res.Summary = p.records.Summarize(res.BatchID, produced, p.records.BatchDir(res.BatchID), started)
		res.Summary.RunID = opts.RunID
		res.SummaryPath, err = p.records.SaveSummary(res.Summary)
		if err != nil {
			logger.Error("failed to save batch summary", "error", err)
		}
	}

	logger.Info("run finished",
		"total", res.Stats.Total,
		"skipped", res.Stats.Skipped,
		"processed", res.Stats.Processed,
		"manual_review", res.Stats.ManualReview,
		"errors", res.Stats.Errors,
	)

	if runErr != nil {
		return res, fmt.Errorf("run interrupted: %w", runErr)
	}
	return res, nil
}

// processFile takes one file to a terminal record. It returns an error only
// when the context was cancelled mid-file; the file is then left unrecorded.
func (p *Pipeline) processFile(ctx context.Context, path, batchID string, logger *slog.Logger) (*metadata.ImageRecord, error) {
	name := filepath.Base(path)
	logger = logger.With("filename", name)
	logger.Info("processing")

	rec := p.records.Create(metadata.CreateParams{Filename: name, InputPath: path, BatchID: batchID})

	info, err := p.analyzer.Inspect(path)
	if err == nil {
		err = p.analyzer.ValidateInfo(info)
	}
	if err != nil {
		return p.fail(rec, path, batchID, newValidationError(name, err), logger), nil
	}

	if err := p.records.Update(rec, metadata.Update{
		Format:     &info.Format,
		Width:      &info.Width,
		Height:     &info.Height,
		CapturedAt: info.CapturedAt,
	}); err != nil {
		return p.fail(rec, path, batchID, newUnexpectedError(name, err), logger), nil
	}
	if _, err := p.records.Save(rec, batchID); err != nil {
		logger.Warn("failed to save initial record", "error", err)
	}

	img, err := p.processor.LoadImage(path)
	if err != nil {
		return p.fail(rec, path, batchID, newValidationError(name, err), logger), nil
	}

	if err := p.route(ctx, rec, path, batchID, img, logger); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return p.fail(rec, path, batchID, err, logger), nil
	}
	return rec, nil
}

// route runs detection and the crop decision, leaving rec terminal on
// success. Panics are recovered as unexpected errors.
func (p *Pipeline) route(ctx context.Context, rec *metadata.ImageRecord, path, batchID string, img image.Image, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic", "panic", r)
			err = newUnexpectedError(rec.Filename, fmt.Errorf("panic: %v", r))
		}
	}()

	faces, err := p.locator.Locate(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("face detection interrupted: %w", ctxErr)
		}
		return newDetectionError(rec.Filename, err)
	}
	faces = nonEmpty(faces)
	logger.Info("faces located", "count", len(faces))

	switch len(faces) {
	case 0:
		if err := p.records.Update(rec, metadata.Update{
			FaceDetected: metadata.Ptr(false),
			NumFaces:     metadata.Ptr(0),
		}); err != nil {
			return newUnexpectedError(rec.Filename, err)
		}
		return p.manualReview(rec, path, batchID, ReasonNoFace, img, nil, nil, logger)

	case 1:
		face := faces[0]
		if err := p.records.Update(rec, metadata.Update{
			FaceDetected: metadata.Ptr(true),
			NumFaces:     metadata.Ptr(1),
			FaceBox:      &face,
		}); err != nil {
			return newUnexpectedError(rec.Filename, err)
		}

		decision := p.engine.Decide(rec.Width, rec.Height, face)
		logger.Info("crop decision", "decision", decision.String())
		if !decision.OK() {
			return p.manualReview(rec, path, batchID, decision.Reason, img, faces, nil, logger)
		}
		return p.accept(ctx, rec, img, faces, decision.Crop.Rect(), logger)

	default:
		largest := faces[detection.LargestFace(faces)]
		if err := p.records.Update(rec, metadata.Update{
			FaceDetected: metadata.Ptr(true),
			NumFaces:     metadata.Ptr(len(faces)),
			FaceBox:      &largest,
		}); err != nil {
			return newUnexpectedError(rec.Filename, err)
		}
		reason := fmt.Sprintf("multiple faces detected (%d)", len(faces))
		return p.manualReview(rec, path, batchID, reason, img, faces, nil, logger)
	}
}

// accept finalizes the crop and marks the record processed
func (p *Pipeline) accept(ctx context.Context, rec *metadata.ImageRecord, img image.Image, faces []types.Rect, crop types.Rect, logger *slog.Logger) error {
	out, err := p.finalizer.Finalize(ctx, finalize.Request{Filename: rec.Filename, Image: img, Crop: crop})
	if err != nil {
		return newFinalizeError(rec.Filename, err)
	}
	p.writeOverlay(img, rec.Filename, faces, &crop, logger)

	u := metadata.Update{
		Status:      metadata.Ptr(types.StatusProcessed),
		CurrentPath: &out.OutputPath,
		OutputPath:  &out.OutputPath,
		Action:      metadata.ActionCropped,
		Details:     fmt.Sprintf("crop applied [%d,%d,%d,%d]", crop.X, crop.Y, crop.Right(), crop.Bottom()),
	}
	if out.PreparedPath != "" {
		u.PreparedPath = &out.PreparedPath
	}
	if out.BackgroundRemoved {
		u.BackgroundRemoved = metadata.Ptr(true)
		u.BackgroundColor = &out.BackgroundColor
	}
	if out.BackgroundError != "" {
		u.BackgroundRemoved = metadata.Ptr(false)
		u.BackgroundError = &out.BackgroundError
	}
	if err := p.records.Update(rec, u); err != nil {
		return newUnexpectedError(rec.Filename, err)
	}
	logger.Info("image processed", "output", out.OutputPath)
	return nil
}

// manualReview copies the original into the manual review stage. A failed
// copy is noted on the record but does not change the outcome.
func (p *Pipeline) manualReview(rec *metadata.ImageRecord, path, batchID, reason string, img image.Image, faces []types.Rect, crop *types.Rect, logger *slog.Logger) error {
	u := metadata.Update{
		Status:  metadata.Ptr(types.StatusManualReview),
		Notes:   &reason,
		Action:  metadata.ActionManualReview,
		Details: reason,
	}

	dest := p.stagePath(p.config.Dirs.ManualReview, batchID, rec.Filename)
	if err := utils.CopyFile(path, dest); err != nil {
		ioErr := newIOError(rec.Filename, "failed to copy to manual review", err)
		logger.Error("staging copy failed", "error", ioErr)
		u.Notes = metadata.Ptr(reason + "; " + ioErr.Reason())
	} else {
		u.CurrentPath = &dest
	}
	p.writeOverlay(img, rec.Filename, faces, crop, logger)

	if err := p.records.Update(rec, u); err != nil {
		return newUnexpectedError(rec.Filename, err)
	}
	logger.Warn("sent to manual review", "reason", reason, "path", rec.CurrentPath)
	return nil
}

// fail turns rec into an error record and stages a copy of the original
func (p *Pipeline) fail(rec *metadata.ImageRecord, path, batchID string, cause error, logger *slog.Logger) *metadata.ImageRecord {
	var pe *ProcessingError
	if !errors.As(cause, &pe) {
		pe = newUnexpectedError(rec.Filename, cause)
	}
	logger.Error("processing failed", "code", pe.Code, "error", pe)

	if rec.Terminal() {
		return rec
	}

	reason := pe.Reason()
	u := metadata.Update{
		Status:       metadata.Ptr(types.StatusError),
		ErrorMessage: &reason,
		Action:       metadata.ActionError,
		Details:      string(pe.Code),
	}

	dest := p.stagePath(p.config.Dirs.Errors, batchID, rec.Filename)
	if err := utils.CopyFile(path, dest); err != nil {
		ioErr := newIOError(rec.Filename, "failed to copy to errors", err)
		logger.Error("staging copy failed", "error", ioErr)
		u.Notes = metadata.Ptr(ioErr.Reason())
	} else {
		u.CurrentPath = &dest
	}

	if err := p.records.Update(rec, u); err != nil {
		// face fields set earlier can only be inconsistent through a bug;
		// force the terminal state so the ledger stays coherent
		logger.Error("failed to update error record", "error", err)
		rec.Status = types.StatusError
		rec.ErrorMessage = &reason
	}
	return rec
}

// commit persists a terminal record and records it in the ledger
func (p *Pipeline) commit(rec *metadata.ImageRecord, batchID string, logger *slog.Logger) {
	if _, err := p.records.Save(rec, batchID); err != nil {
		logger.Error("failed to save record", "filename", rec.Filename, "error", err)
	}
	p.ledger.Record(rec.Filename, rec.Status)
	if err := p.ledger.Persist(); err != nil {
		logger.Error("failed to persist ledger", "error", err)
	}
}

// stagePath returns <root>/<year>/<batch>/<filename>
func (p *Pipeline) stagePath(root, batchID, filename string) string {
	return filepath.Join(root, strconv.Itoa(p.records.Now().Year()), batchID, filename)
}

func (p *Pipeline) writeOverlay(img image.Image, filename string, faces []types.Rect, crop *types.Rect, logger *slog.Logger) {
	if p.config.Dirs.Debug == "" {
		return
	}
	overlay := p.processor.CreateDebugOverlay(img, faces, crop)
	path := filepath.Join(p.config.Dirs.Debug, utils.FileStem(filename)+"_debug.jpg")
	if err := p.processor.SaveImage(overlay, path, processing.FormatJPEG, 85, false); err != nil {
		logger.Warn("failed to write debug overlay", "error", err)
	}
}

func nonEmpty(faces []types.Rect) []types.Rect {
	out := faces[:0:0]
	for _, f := range faces {
		if !f.Empty() {
			out = append(out, f)
		}
	}
	return out
}

// Elapsed is a helper for callers reporting run duration
func (r *Result) Elapsed() time.Duration {
	if r.Summary == nil {
		return 0
	}
	return r.Summary.CompletionDate.Sub(r.Summary.ProcessingDate)
}
