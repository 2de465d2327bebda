package pipeline

import (
	"errors"
	"fmt"
)

// ErrorCode classifies per-file failures
type ErrorCode string

const (
	// ErrorValidation means the image is unreadable, corrupt or has invalid dimensions
	ErrorValidation ErrorCode = "VALIDATION_FAILED"
	// ErrorDetection means the face locator failed
	ErrorDetection ErrorCode = "DETECTION_FAILED"
	// ErrorIO means a staging or output write failed
	ErrorIO ErrorCode = "IO_FAILED"
	// ErrorFinalize means the accepted crop could not be written
	ErrorFinalize ErrorCode = "FINALIZE_FAILED"
	// ErrorUnexpected covers recovered panics and anything unclassified
	ErrorUnexpected ErrorCode = "UNEXPECTED"
)

// ProcessingError is a per-file failure. It never aborts a run; the pipeline
// turns it into an error record.
type ProcessingError struct {
	Code     ErrorCode
	Filename string
	Message  string
	Cause    error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Reason is the message stored on the image record
func (e *ProcessingError) Reason() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func newValidationError(filename string, cause error) *ProcessingError {
	return &ProcessingError{Code: ErrorValidation, Filename: filename, Message: "image validation failed", Cause: cause}
}

func newDetectionError(filename string, cause error) *ProcessingError {
	return &ProcessingError{Code: ErrorDetection, Filename: filename, Message: "face detection failed", Cause: cause}
}

func newIOError(filename, message string, cause error) *ProcessingError {
	return &ProcessingError{Code: ErrorIO, Filename: filename, Message: message, Cause: cause}
}

func newFinalizeError(filename string, cause error) *ProcessingError {
	return &ProcessingError{Code: ErrorFinalize, Filename: filename, Message: "failed to write cropped output", Cause: cause}
}

func newUnexpectedError(filename string, cause error) *ProcessingError {
	return &ProcessingError{Code: ErrorUnexpected, Filename: filename, Message: "unexpected error", Cause: cause}
}

// CodeOf returns the ErrorCode of err, or "" when err is not a ProcessingError
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
