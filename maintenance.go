package portraitcropper

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/menta2k/portrait-cropper/internal/config"
	"github.com/menta2k/portrait-cropper/internal/logging"
	"github.com/menta2k/portrait-cropper/internal/utils"
	"github.com/menta2k/portrait-cropper/pkg/ledger"
	"github.com/menta2k/portrait-cropper/pkg/metadata"
	"github.com/menta2k/portrait-cropper/pkg/report"
)

// StageCount is the number of images found in one stage directory
type StageCount struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Images int    `json:"images"`
}

// Status is a snapshot of the stage directories and the ledger
type Status struct {
	Stages      []StageCount      `json:"stages"`
	LedgerPath  string            `json:"ledger_path"`
	LedgerFiles int               `json:"ledger_files"`
	Ledger      ledger.Statistics `json:"ledger_statistics"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
}

func stages(cfg *config.Config) []StageCount {
	return []StageCount{
		{Name: "input_raw", Path: cfg.Paths.InputRaw},
		{Name: "working", Path: cfg.Paths.Working},
		{Name: "prepared", Path: cfg.Paths.Prepared},
		{Name: "output", Path: cfg.Paths.Output},
		{Name: "manual_review", Path: cfg.Paths.ManualReview},
		{Name: "errors", Path: cfg.Paths.Errors},
	}
}

// ReadStatus counts the images of every stage directory and reads the ledger
func ReadStatus(cfg *config.Config, logger *slog.Logger) (*Status, error) {
	st := &Status{Stages: stages(cfg), LedgerPath: cfg.Paths.ProcessedIndex}

	for i := range st.Stages {
		files, err := utils.ListImageFiles(st.Stages[i].Path)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", st.Stages[i].Name, err)
		}
		st.Stages[i].Images = len(files)
	}

	l := ledger.Open(cfg.Paths.ProcessedIndex, logger)
	st.LedgerFiles = l.Len()
	st.Ledger = l.Stats()
	if ts, ok := l.LastUpdated(); ok {
		st.LastUpdated = &ts
	}
	return st, nil
}

// ResetResult reports what Reset removed
type ResetResult struct {
	FilesRemoved   int  `json:"files_removed"`
	RecordsRemoved int  `json:"records_removed"`
	LedgerCleared  int  `json:"ledger_cleared"`
	LogsTruncated  bool `json:"logs_truncated"`
}

// Reset returns the system to its initial state. Every stage directory except
// input_raw is emptied, metadata records are deleted, the ledger is cleared
// and the pipeline log is truncated. Source images are never touched.
func Reset(cfg *config.Config, logger *slog.Logger) (*ResetResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &ResetResult{}

	dirs := []string{
		cfg.Paths.Working,
		cfg.Paths.Prepared,
		cfg.Paths.Output,
		cfg.Paths.ManualReview,
		cfg.Paths.Errors,
		cfg.Paths.Debug,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		n, err := emptyDir(dir)
		if err != nil {
			return res, fmt.Errorf("failed to empty %s: %w", dir, err)
		}
		res.FilesRemoved += n
		logger.Info("emptied directory", "path", dir, "files", n)
	}

	n, err := removeRecords(cfg.Paths.Metadata, cfg.Paths.ProcessedIndex)
	if err != nil {
		return res, fmt.Errorf("failed to remove metadata: %w", err)
	}
	res.RecordsRemoved = n

	l := ledger.Open(cfg.Paths.ProcessedIndex, logger)
	res.LedgerCleared = l.Len()
	if err := l.Reset(); err != nil {
		return res, err
	}

	logFile := filepath.Join(cfg.Paths.Logs, logging.LogFilename)
	if utils.FileExists(logFile) {
		if err := os.Truncate(logFile, 0); err != nil {
			return res, fmt.Errorf("failed to truncate log: %w", err)
		}
		res.LogsTruncated = true
	}

	logger.Info("system reset",
		"files_removed", res.FilesRemoved,
		"records_removed", res.RecordsRemoved,
		"ledger_cleared", res.LedgerCleared)
	return res, nil
}

// emptyDir removes the contents of dir, keeping dir itself. It returns the
// number of regular files removed.
func emptyDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
			if err == nil && d.Type().IsRegular() {
				count++
			}
			return nil
		})
		if err := os.RemoveAll(path); err != nil {
			return count, err
		}
	}
	return count, nil
}

// removeRecords deletes every .json file under dir except keep, then prunes
// the directories left empty
func removeRecords(dir, keep string) (int, error) {
	keepAbs, _ := filepath.Abs(keep)
	count := 0
	var dirs []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == keepAbs {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	// Deepest first so parents become empty before they are visited.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		if entries, err := os.ReadDir(d); err == nil && len(entries) == 0 {
			_ = os.Remove(d)
		}
	}
	return count, nil
}

// ExportBatch renders the records and summary of batchID as an XLSX workbook
func ExportBatch(cfg *config.Config, batchID string, logger *slog.Logger) ([]byte, error) {
	if err := utils.ValidateBatchID(batchID); err != nil {
		return nil, err
	}
	records := metadata.NewManager(cfg.Paths.Metadata, logger)

	recs, err := records.ListRecords(batchID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no records found for batch %q", batchID)
	}

	summary, err := records.LoadSummary(batchID)
	if err != nil {
		return nil, err
	}
	return report.NewExporter(logger).BatchXLSX(summary, recs)
}
