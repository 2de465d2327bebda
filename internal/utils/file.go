package utils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
)

// InputExtensions are the extensions picked up by an input scan
var InputExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// FileStem returns the base name of path without its extension
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsInputImage checks if a file has one of the input extensions
func IsInputImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, imgExt := range InputExtensions {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// IsHidden reports whether a file name starts with a dot
func IsHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

// CopyFile copies src to dst, creating dst's directory. dst is replaced
// atomically and keeps src's modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	pending, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	ext := GetFileExtension(filename)
	imageExts := []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "webp"}

	for _, imgExt := range imageExts {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// ListImageFiles recursively lists all visible image files in a directory.
// A missing directory yields no files.
func ListImageFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}

		if !d.IsDir() && !IsHidden(d.Name()) && IsImageFile(path) {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	// Replace invalid characters with underscores
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	// Remove leading/trailing spaces and dots
	result = strings.Trim(result, " .")

	return result
}

// ValidateBatchID checks that id can be used as a single directory name
// under the stage roots
func ValidateBatchID(id string) error {
	if id == "" {
		return errors.New("batch id is empty")
	}
	if id == "." || strings.Contains(id, "..") || strings.ContainsRune(id, os.PathSeparator) || SanitizeFilename(id) != id {
		return fmt.Errorf("invalid batch id %q: must be a plain directory name", id)
	}
	return nil
}

// DefaultBatchID returns batch_YYYYMMDD_HHMMSS for t
func DefaultBatchID(t time.Time) string {
	return "batch_" + t.Format("20060102_150405")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
