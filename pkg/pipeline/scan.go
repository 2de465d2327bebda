package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/portrait-cropper/internal/utils"
)

// DefaultMinFileSize is the smallest file, in bytes, considered an image
const DefaultMinFileSize = 1024

// ScanResult lists the candidates of an input directory in directory order
type ScanResult struct {
	Files    []string
	TooSmall []string
}

// Scan lists visible regular files directly inside dir whose extension is
// an input extension. Files below minSize are reported in TooSmall.
func Scan(dir string, minSize int64) (ScanResult, error) {
	var res ScanResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("failed to read input directory: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || utils.IsHidden(name) || !utils.IsInputImage(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		path := filepath.Join(dir, name)
		if info.Size() < minSize {
			res.TooSmall = append(res.TooSmall, path)
			continue
		}
		res.Files = append(res.Files, path)
	}
	return res, nil
}
