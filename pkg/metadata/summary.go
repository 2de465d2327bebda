package metadata

import (
	"math"
	"time"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// PipelineVersion is stamped on every batch summary
const PipelineVersion = "1.0.0"

// StatusCounts groups records by status
type StatusCounts struct {
	Processed    int `json:"processed"`
	ManualReview int `json:"manual_review"`
	Errors       int `json:"errors"`
	Pending      int `json:"pending"`
}

// Total returns the sum of all counters
func (s StatusCounts) Total() int {
	return s.Processed + s.ManualReview + s.Errors + s.Pending
}

// Breakdown splits records by face count and corruption
type Breakdown struct {
	FaceDetectedSingle   int `json:"face_detected_single"`
	FaceDetectedMultiple int `json:"face_detected_multiple"`
	NoFaceDetected       int `json:"no_face_detected"`
	CorruptedFiles       int `json:"corrupted_files"`
}

// ImageSummary is the per-image line of a batch summary
type ImageSummary struct {
	Filename     string       `json:"filename"`
	Status       types.Status `json:"status"`
	FaceDetected bool         `json:"face_detected"`
	NumFaces     int          `json:"num_faces,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// BatchSummary aggregates the records produced for one batch
type BatchSummary struct {
	BatchID                 string         `json:"batch_id"`
	BatchPath               string         `json:"batch_path"`
	ProcessingDate          time.Time      `json:"processing_date"`
	CompletionDate          time.Time      `json:"completion_date"`
	TotalImages             int            `json:"total_images"`
	Statistics              StatusCounts   `json:"statistics"`
	Breakdown               Breakdown      `json:"breakdown"`
	SuccessRate             float64        `json:"success_rate"`
	RequiresManualAttention int            `json:"requires_manual_attention"`
	Images                  []ImageSummary `json:"images"`
	MetadataVersion         string         `json:"metadata_version"`
	PipelineVersion         string         `json:"pipeline_version"`
	RunID                   string         `json:"run_id,omitempty"`
}

// BuildSummary reduces records into a BatchSummary. It is pure: the same
// inputs always yield the same summary.
func BuildSummary(batchID string, records []*ImageRecord, batchPath string, started, completed time.Time) *BatchSummary {
	s := &BatchSummary{
		BatchID:         batchID,
		BatchPath:       batchPath,
		ProcessingDate:  started.UTC(),
		CompletionDate:  completed.UTC(),
		TotalImages:     len(records),
		Images:          make([]ImageSummary, 0, len(records)),
		MetadataVersion: Version,
		PipelineVersion: PipelineVersion,
	}

	for _, rec := range records {
		switch rec.Status {
		case types.StatusProcessed:
			s.Statistics.Processed++
		case types.StatusManualReview:
			s.Statistics.ManualReview++
		case types.StatusError:
			s.Statistics.Errors++
		default:
			s.Statistics.Pending++
		}

		switch {
		case rec.Status == types.StatusError:
			s.Breakdown.CorruptedFiles++
		case rec.NumFaces == 1:
			s.Breakdown.FaceDetectedSingle++
		case rec.NumFaces > 1:
			s.Breakdown.FaceDetectedMultiple++
		case rec.NumFaces == 0 && rec.Status == types.StatusManualReview:
			s.Breakdown.NoFaceDetected++
		}

		line := ImageSummary{
			Filename:     rec.Filename,
			Status:       rec.Status,
			FaceDetected: rec.FaceDetected,
		}
		if rec.NumFaces > 1 {
			line.NumFaces = rec.NumFaces
		}
		if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
			line.Error = "corrupted file"
		}
		s.Images = append(s.Images, line)
	}

	if s.TotalImages > 0 {
		rate := float64(s.Statistics.Processed) / float64(s.TotalImages)
		s.SuccessRate = math.Round(rate*100) / 100
	}
	s.RequiresManualAttention = s.Statistics.ManualReview + s.Statistics.Errors
	return s
}
