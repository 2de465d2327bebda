// Package metadata manages the per-image record lifecycle and the per-batch
// summary derived from those records.
package metadata

import (
	"errors"
	"fmt"
	"time"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// Version is the schema version stamped on every record and summary
const Version = "1.0"

// History actions written by the pipeline
const (
	ActionInitialScan  = "initial_scan"
	ActionUpdate       = "update"
	ActionCropped      = "face_detected_and_cropped"
	ActionManualReview = "sent_to_manual_review"
	ActionError        = "error_detected"
)

var (
	// ErrRecordTerminal is returned when a non-bookkeeping update targets a terminal record
	ErrRecordTerminal = errors.New("record is terminal")
	// ErrInvalidTransition is returned for unknown statuses or backward transitions
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrFaceInvariant is returned when face_detected would be true without a face box
	ErrFaceInvariant = errors.New("face_detected requires num_faces >= 1 and a face box")
)

// HistoryEntry is one append-only step of a record's processing history
type HistoryEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Action    string       `json:"action"`
	Status    types.Status `json:"status"`
	Details   string       `json:"details,omitempty"`
}

// ImageRecord is the persisted state of one input image
type ImageRecord struct {
	Filename          string            `json:"filename"`
	InputPath         string            `json:"input_path"`
	CurrentPath       string            `json:"current_path"`
	OutputPath        *string           `json:"output_path"`
	Format            string            `json:"format"`
	Width             int               `json:"width"`
	Height            int               `json:"height"`
	Orientation       types.Orientation `json:"orientation"`
	FaceDetected      bool              `json:"face_detected"`
	NumFaces          int               `json:"num_faces"`
	FaceBox           *types.Rect       `json:"face_box"`
	Status            types.Status      `json:"status"`
	ErrorMessage      *string           `json:"error_message"`
	Notes             *string           `json:"notes"`
	BatchID           string            `json:"batch_id"`
	MetadataVersion   string            `json:"metadata_version"`
	ProcessingTime    time.Time         `json:"processing_time"`
	LastUpdated       time.Time         `json:"last_updated"`
	CapturedAt        *time.Time        `json:"captured_at,omitempty"`
	PreparedPath      *string           `json:"prepared_path,omitempty"`
	BackgroundRemoved bool              `json:"background_removed,omitempty"`
	BackgroundColor   string            `json:"background_color,omitempty"`
	BackgroundError   *string           `json:"background_error,omitempty"`
	ProcessingHistory []HistoryEntry    `json:"processing_history"`
}

// Terminal reports whether the record reached a final status
func (r *ImageRecord) Terminal() bool {
	return r.Status.Terminal()
}

// Update enumerates every mutable field of an ImageRecord. Nil fields are
// left untouched. When Status is set a history entry is appended with Action
// (default "update") and Details.
type Update struct {
	Status *types.Status

	CurrentPath  *string
	OutputPath   *string
	PreparedPath *string

	Format     *string
	Width      *int
	Height     *int
	CapturedAt *time.Time

	FaceDetected *bool
	NumFaces     *int
	FaceBox      *types.Rect

	ErrorMessage *string
	Notes        *string

	BackgroundRemoved *bool
	BackgroundColor   *string
	BackgroundError   *string

	Action  string
	Details string
}

// bookkeepingOnly reports whether u touches nothing but path fields
func (u Update) bookkeepingOnly() bool {
	return u.Status == nil &&
		u.Format == nil && u.Width == nil && u.Height == nil && u.CapturedAt == nil &&
		u.FaceDetected == nil && u.NumFaces == nil && u.FaceBox == nil &&
		u.ErrorMessage == nil && u.Notes == nil &&
		u.BackgroundRemoved == nil && u.BackgroundColor == nil && u.BackgroundError == nil
}

// Ptr returns a pointer to v, for building Update values
func Ptr[T any](v T) *T {
	return &v
}

// apply validates u against rec and applies it. rec is left unchanged on error.
func apply(rec *ImageRecord, u Update, now time.Time) error {
	if rec.Terminal() && !u.bookkeepingOnly() {
		return fmt.Errorf("%w: %s is %s", ErrRecordTerminal, rec.Filename, rec.Status)
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *u.Status)
		}
		if rec.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, *u.Status)
		}
	}

	next := *rec

	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.CurrentPath != nil {
		next.CurrentPath = *u.CurrentPath
	}
	if u.OutputPath != nil {
		next.OutputPath = Ptr(*u.OutputPath)
	}
	if u.PreparedPath != nil {
		next.PreparedPath = Ptr(*u.PreparedPath)
	}
	if u.Format != nil {
		next.Format = *u.Format
	}
	if u.Width != nil {
		next.Width = *u.Width
	}
	if u.Height != nil {
		next.Height = *u.Height
	}
	if u.Width != nil || u.Height != nil {
		next.Orientation = types.OrientationOf(next.Width, next.Height)
	}
	if u.CapturedAt != nil {
		next.CapturedAt = Ptr(*u.CapturedAt)
	}
	if u.FaceDetected != nil {
		next.FaceDetected = *u.FaceDetected
	}
	if u.NumFaces != nil {
		next.NumFaces = *u.NumFaces
	}
	if u.FaceBox != nil {
		next.FaceBox = Ptr(*u.FaceBox)
	}
	if u.ErrorMessage != nil {
		next.ErrorMessage = Ptr(*u.ErrorMessage)
	}
	if u.Notes != nil {
		next.Notes = Ptr(*u.Notes)
	}
	if u.BackgroundRemoved != nil {
		next.BackgroundRemoved = *u.BackgroundRemoved
	}
	if u.BackgroundColor != nil {
		next.BackgroundColor = *u.BackgroundColor
	}
	if u.BackgroundError != nil {
		next.BackgroundError = Ptr(*u.BackgroundError)
	}

	if next.FaceDetected && (next.NumFaces < 1 || next.FaceBox == nil) {
		return fmt.Errorf("%w (%s)", ErrFaceInvariant, rec.Filename)
	}

	next.LastUpdated = now
	if u.Status != nil {
		action := u.Action
		if action == "" {
			action = ActionUpdate
		}
		history := make([]HistoryEntry, len(rec.ProcessingHistory), len(rec.ProcessingHistory)+1)
		copy(history, rec.ProcessingHistory)
		next.ProcessingHistory = append(history, HistoryEntry{
			Timestamp: now,
			Action:    action,
			Status:    *u.Status,
			Details:   u.Details,
		})
	}

	*rec = next
	return nil
}
