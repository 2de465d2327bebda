package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

// ErrNoJSON is returned when a model response carries no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseFaceAnalysis parses a model response into a face listing. Unlike a
// subject guess there is no safe fallback for faces, so unparseable output is
// an error.
func ParseFaceAnalysis(raw string) (*types.FaceAnalysis, error) {
	cleaned := SanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("%w: %q", ErrNoJSON, truncate(raw, 120))
	}

	var result types.FaceAnalysis
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if result.Faces == nil {
		result.Faces = []types.DetectedFace{}
	}
	return &result, nil
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
