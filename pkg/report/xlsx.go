// Package report exports batch results as spreadsheets.
package report

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/menta2k/portrait-cropper/pkg/metadata"
)

const (
	batchSheet  = "Batch"
	imagesSheet = "Images"
)

// Exporter produces XLSX workbooks for a batch
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates an Exporter
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// BatchXLSX returns a workbook with a "Batch" sheet holding the summary
// counters and an "Images" sheet with one row per record. summary may be nil
// when the batch has no summary file yet.
func (e *Exporter) BatchXLSX(summary *metadata.BatchSummary, records []*metadata.ImageRecord) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", batchSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(imagesSheet); err != nil {
		return nil, err
	}

	writeSummary(f, summary, records)

	headers := []string{
		"Filename",
		"Status",
		"Width",
		"Height",
		"Orientation",
		"Faces",
		"Face Box",
		"Notes",
		"Error",
		"Current Path",
		"Last Updated",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(imagesSheet, cell, h)
	}

	for i, rec := range records {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(imagesSheet, cell, v)
		}

		write(1, rec.Filename)
		write(2, string(rec.Status))
		write(3, rec.Width)
		write(4, rec.Height)
		write(5, string(rec.Orientation))
		write(6, rec.NumFaces)
		if rec.FaceBox != nil {
			b := rec.FaceBox
			write(7, fmt.Sprintf("%d,%d,%d,%d", b.X, b.Y, b.W, b.H))
		}
		write(8, deref(rec.Notes))
		write(9, deref(rec.ErrorMessage))
		write(10, rec.CurrentPath)
		write(11, rec.LastUpdated.Format(time.RFC3339))
	}

	_ = f.SetColWidth(imagesSheet, "A", "A", 28) // filename
	_ = f.SetColWidth(imagesSheet, "B", "B", 16) // status
	_ = f.SetColWidth(imagesSheet, "G", "G", 20) // face box
	_ = f.SetColWidth(imagesSheet, "H", "I", 48) // notes, error
	_ = f.SetColWidth(imagesSheet, "J", "J", 60) // path
	_ = f.SetColWidth(imagesSheet, "K", "K", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("batch export written",
		"rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, s *metadata.BatchSummary, records []*metadata.ImageRecord) {
	if s == nil {
		var batchID, batchPath string
		if len(records) > 0 {
			batchID = records[0].BatchID
		}
		now := time.Now().UTC()
		s = metadata.BuildSummary(batchID, records, batchPath, now, now)
	}

	rows := [][2]any{
		{"Batch ID", s.BatchID},
		{"Batch Path", s.BatchPath},
		{"Processing Date", s.ProcessingDate.Format(time.RFC3339)},
		{"Completion Date", s.CompletionDate.Format(time.RFC3339)},
		{"Total Images", s.TotalImages},
		{"Processed", s.Statistics.Processed},
		{"Manual Review", s.Statistics.ManualReview},
		{"Errors", s.Statistics.Errors},
		{"Pending", s.Statistics.Pending},
		{"Single Face", s.Breakdown.FaceDetectedSingle},
		{"Multiple Faces", s.Breakdown.FaceDetectedMultiple},
		{"No Face", s.Breakdown.NoFaceDetected},
		{"Corrupted Files", s.Breakdown.CorruptedFiles},
		{"Success Rate", s.SuccessRate},
		{"Requires Manual Attention", s.RequiresManualAttention},
		{"Pipeline Version", s.PipelineVersion},
	}
	for i, r := range rows {
		_ = f.SetCellValue(batchSheet, fmt.Sprintf("A%d", i+1), r[0])
		_ = f.SetCellValue(batchSheet, fmt.Sprintf("B%d", i+1), r[1])
	}
	_ = f.SetColWidth(batchSheet, "A", "A", 28)
	_ = f.SetColWidth(batchSheet, "B", "B", 40)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
