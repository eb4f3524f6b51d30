// Package local implements an image host on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/manga-crawler/internal/storage"
)

// Config captures the parameters for the local filesystem image host.
type Config struct {
	// BaseDir is the root directory where images will be stored.
	BaseDir string
	// PublicBaseURL, when set, is the URL prefix under which BaseDir is
	// served; otherwise file:// URIs are returned.
	PublicBaseURL string
}

// ImageHost writes images to the local filesystem.
type ImageHost struct {
	baseDir       string
	publicBaseURL string
}

// New creates a new local filesystem-backed image host.
func New(cfg Config) (*ImageHost, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ImageHost{
		baseDir:       cfg.BaseDir,
		publicBaseURL: cfg.PublicBaseURL,
	}, nil
}

// Upload writes data to folder/fileName under the base directory,
// replacing any existing file.
func (h *ImageHost) Upload(_ context.Context, data []byte, folder, fileName string) (string, error) {
	key, err := storage.ObjectPath(folder, fileName)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(h.baseDir, filepath.FromSlash(key))

	cleanBaseDir := filepath.Clean(h.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	// Write to a sibling temp file and rename so readers never see a
	// half-written image.
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	if h.publicBaseURL != "" {
		return storage.PublicURL(h.publicBaseURL, key), nil
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
