package util

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from a "frame-N" name, or -1.
	Frame int
}

// imageExtensions lists the extensions the image decoder accepts.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ListDirectoryImageFiles lists the image files of a directory.
//
// Files named "frame-N" sort by N ahead of every other file; the rest sort by
// name. Bytes are not read; use FileLoader for that.
//
// Arguments:
// - dir: Directory path containing image files.
// - max: Upper bound on the number of files returned, or <= 0 for all.
//
// Returns:
// - []ImageFile: The image files in order.
// - error: Error if the directory cannot be read.
func ListDirectoryImageFiles(dir string, max int) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !imageExtensions[ext] {
			continue
		}
		files = append(files, ImageFile{
			Path:  filepath.Join(dir, entry.Name()),
			Frame: frameNumber(entry.Name(), ext),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.Frame >= 0) != (b.Frame >= 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})

	if max > 0 && len(files) > max {
		files = files[:max]
	}
	return files, nil
}

func frameNumber(name, ext string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Paths returns the paths of files in order.
func Paths(files []ImageFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

// FileLoader reads item references as file paths.
type FileLoader struct{}

// Load returns the bytes of the file at ref.
func (FileLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", ref)
	}
	return data, nil
}
