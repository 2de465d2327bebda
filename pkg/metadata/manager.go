package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// summarySuffix names the batch summary, kept beside the batch directory
// so that no image stem can collide with it
const summarySuffix = "_summary.json"

// CreateParams holds the values known when a record is first created
type CreateParams struct {
	Filename  string
	InputPath string
	BatchID   string
	Width     int
	Height    int
	Format    string
}

// Manager creates, updates and persists image records under
// <base>/<year>/<batch_id>/
type Manager struct {
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the clock used for timestamps and the year directory
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager rooted at baseDir
func NewManager(baseDir string, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager clock in UTC
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// BaseDir returns the metadata root directory
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// BatchDir returns the directory holding the records of batchID for the current year
func (m *Manager) BatchDir(batchID string) string {
	return filepath.Join(m.baseDir, strconv.Itoa(m.Now().Year()), batchID)
}

// SummaryPath returns <base>/<year>/<batchID>_summary.json
func (m *Manager) SummaryPath(batchID string) string {
	return filepath.Join(m.baseDir, strconv.Itoa(m.Now().Year()), batchID+summarySuffix)
}

// Create seeds a pending record with an initial_scan history entry
func (m *Manager) Create(p CreateParams) *ImageRecord {
	now := m.Now()
	return &ImageRecord{
		Filename:        p.Filename,
		InputPath:       p.InputPath,
		CurrentPath:     p.InputPath,
		Format:          p.Format,
		Width:           p.Width,
		Height:          p.Height,
		Orientation:     types.OrientationOf(p.Width, p.Height),
		Status:          types.StatusPending,
		BatchID:         p.BatchID,
		MetadataVersion: Version,
		ProcessingTime:  now,
		LastUpdated:     now,
		ProcessingHistory: []HistoryEntry{{
			Timestamp: now,
			Action:    ActionInitialScan,
			Status:    types.StatusPending,
		}},
	}
}

// Update applies u to rec, appending a history entry when the status changes.
// Terminal records accept path bookkeeping only.
func (m *Manager) Update(rec *ImageRecord, u Update) error {
	if rec == nil {
		return fmt.Errorf("cannot update nil record")
	}
	return apply(rec, u, m.Now())
}

// Save writes rec to <base>/<year>/<batchID>/<stem>.json, replacing any
// previous version atomically.
func (m *Manager) Save(rec *ImageRecord, batchID string) (string, error) {
	dir := m.BatchDir(batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	path := filepath.Join(dir, recordFilename(rec.Filename))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write record %s: %w", rec.Filename, err)
	}

	m.logger.Debug("record saved", "filename", rec.Filename, "status", rec.Status, "path", path)
	return path, nil
}

// Load reads the record of filename in batchID. It returns nil, nil when no
// record exists.
func (m *Manager) Load(filename, batchID string) (*ImageRecord, error) {
	path := filepath.Join(m.BatchDir(batchID), recordFilename(filename))
	rec, err := readRecord(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rec, err
}

// ListRecords loads every record of batchID, ordered by file name. Unreadable
// record files are logged and skipped.
func (m *Manager) ListRecords(batchID string) ([]*ImageRecord, error) {
	dir := m.BatchDir(batchID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch directory: %w", err)
	}

	var records []*ImageRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			m.logger.Warn("skipping unreadable record", "path", filepath.Join(dir, name), "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

// ListBatches returns the batch ids with a directory under the current year
func (m *Manager) ListBatches() ([]string, error) {
	dir := filepath.Join(m.baseDir, strconv.Itoa(m.Now().Year()))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	var batches []string
	for _, e := range entries {
		if e.IsDir() {
			batches = append(batches, e.Name())
		}
	}
	sort.Strings(batches)
	return batches, nil
}

// Summarize builds the batch summary using the manager clock as completion time
func (m *Manager) Summarize(batchID string, records []*ImageRecord, batchPath string, started time.Time) *BatchSummary {
	return BuildSummary(batchID, records, batchPath, started, m.Now())
}

// SaveSummary writes the summary to SummaryPath
func (m *Manager) SaveSummary(summary *BatchSummary) (string, error) {
	path := m.SummaryPath(summary.BatchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch summary: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write batch summary: %w", err)
	}
	return path, nil
}

// LoadSummary reads the summary of batchID. It returns nil, nil when absent.
func (m *Manager) LoadSummary(batchID string) (*BatchSummary, error) {
	data, err := os.ReadFile(m.SummaryPath(batchID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch summary: %w", err)
	}

	var summary BatchSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse batch summary: %w", err)
	}
	return &summary, nil
}

func readRecord(path string) (*ImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", path, err)
	}
	return &rec, nil
}

func recordFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}
