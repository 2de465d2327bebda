// Package ledger keeps the durable index of filenames that already reached a
// terminal outcome. It is loaded once per run, mutated in memory and persisted
// after every outcome with an atomic replace, so a crash mid-write leaves
// either the previous or the new ledger on disk.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// Version is the schema version written into the ledger file
const Version = "1.0"

// Statistics holds the aggregate counters of the ledger
type Statistics struct {
	TotalProcessed int `json:"total_processed"`
	Successful     int `json:"successful"`
	ManualReview   int `json:"manual_review"`
	Errors         int `json:"errors"`
}

// file is the on-disk layout. Field names are part of the external contract.
type file struct {
	ProcessedFiles  []string   `json:"processed_files"`
	LastUpdated     *time.Time `json:"last_updated"`
	TotalProcessed  int        `json:"total_processed"`
	MetadataVersion string     `json:"metadata_version"`
	Statistics      Statistics `json:"statistics"`
}

// Ledger is the processed-file index. Methods are safe for concurrent use
// within one process; a single writer process is assumed per ledger file.
type Ledger struct {
	mu     sync.Mutex
	path   string
	data   file
	index  map[string]struct{}
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the clock used for last_updated
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger stored at path. A missing file yields an empty
// ledger. A corrupt or unreadable file is logged and also yields an empty
// ledger: losing it only risks reprocessing, which overwrites outputs by name.
func Open(path string, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.load()
	return l
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) load() {
	l.reset()

	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		l.logger.Warn("ledger unreadable, starting empty", "path", l.path, "error", err)
		return
	}

	var data file
	if err := json.Unmarshal(raw, &data); err != nil {
		l.logger.Warn("ledger corrupt, starting empty", "path", l.path, "error", err)
		return
	}

	l.data.LastUpdated = data.LastUpdated
	l.data.Statistics = data.Statistics
	if data.MetadataVersion != "" {
		l.data.MetadataVersion = data.MetadataVersion
	}
	for _, name := range data.ProcessedFiles {
		if _, dup := l.index[name]; dup {
			continue
		}
		l.index[name] = struct{}{}
		l.data.ProcessedFiles = append(l.data.ProcessedFiles, name)
	}

	// The set is authoritative for the total; duplicates in a hand-edited
	// file must not inflate it.
	l.data.TotalProcessed = len(l.data.ProcessedFiles)
	l.data.Statistics.TotalProcessed = l.data.TotalProcessed
	if dropped := len(data.ProcessedFiles) - len(l.data.ProcessedFiles); dropped > 0 {
		l.logger.Warn("ledger contained duplicate filenames", "path", l.path, "dropped", dropped)
	}
}

func (l *Ledger) reset() {
	l.data = file{
		ProcessedFiles:  []string{},
		MetadataVersion: Version,
	}
	l.index = make(map[string]struct{})
}

// IsProcessed reports whether filename already reached a terminal outcome
func (l *Ledger) IsProcessed(filename string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[filename]
	return ok
}

// Record adds filename with its terminal outcome. It returns false and
// changes nothing when the filename is already present or the outcome is
// not terminal.
func (l *Ledger) Record(filename string, outcome types.Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !outcome.Terminal() {
		l.logger.Warn("refusing to record non-terminal outcome", "filename", filename, "outcome", outcome)
		return false
	}
	if _, ok := l.index[filename]; ok {
		return false
	}
	l.index[filename] = struct{}{}
	l.data.ProcessedFiles = append(l.data.ProcessedFiles, filename)
	l.data.TotalProcessed++
	l.data.Statistics.TotalProcessed++

	switch outcome {
	case types.StatusProcessed:
		l.data.Statistics.Successful++
	case types.StatusManualReview:
		l.data.Statistics.ManualReview++
	case types.StatusError:
		l.data.Statistics.Errors++
	}
	return true
}

// Persist writes the full ledger to disk, updating last_updated. The file is
// written to a temporary sibling and atomically renamed over the old one.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	l.data.LastUpdated = &ts

	data, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := renameio.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

// Reset clears every entry and counter and persists the empty ledger
func (l *Ledger) Reset() error {
	l.mu.Lock()
	l.reset()
	l.mu.Unlock()
	return l.Persist()
}

// Stats returns a copy of the aggregate counters
func (l *Ledger) Stats() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Statistics
}

// Len returns the number of recorded filenames
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data.ProcessedFiles)
}

// Files returns the recorded filenames in insertion order
func (l *Ledger) Files() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.data.ProcessedFiles))
	copy(out, l.data.ProcessedFiles)
	return out
}

// LastUpdated returns the time of the last persist, if any
func (l *Ledger) LastUpdated() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data.LastUpdated == nil {
		return time.Time{}, false
	}
	return *l.data.LastUpdated, true
}
