package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// localStorage reads sheets from the filesystem. A non-empty root confines
// reads to that directory.
type localStorage struct {
	root string
}

// NewLocalStorage creates a fetcher for file:// URLs and plain paths
func NewLocalStorage(root string) SheetFetcher {
	return &localStorage{root: root}
}

func (s *localStorage) resolve(source string) (string, error) {
	path := source
	if strings.HasPrefix(source, "file:") {
		parsedURL, err := url.Parse(source)
		if err != nil {
			return "", fmt.Errorf("invalid file URL: %w", err)
		}
		path = parsedURL.Path
		if path == "" {
			path = parsedURL.Opaque
		}
	}
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	if s.root == "" {
		return filepath.Clean(path), nil
	}

	full := filepath.Join(s.root, filepath.Clean("/"+path))
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	}
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", path, s.root)
	}
	return full, nil
}

func (s *localStorage) FetchSheet(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(source)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()

	return readLimited(f)
}
