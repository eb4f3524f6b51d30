// Package memory keeps crawler state in process memory for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/manga-crawler/internal/storage"
)

// ImageHost stores uploaded images in-memory and returns pseudo URIs.
type ImageHost struct {
	mu      sync.RWMutex
	data    map[string][]byte
	uploads int
}

// NewImageHost creates a new in-memory image host.
func NewImageHost() *ImageHost {
	return &ImageHost{data: make(map[string][]byte)}
}

// Upload stores a copy of data under folder/fileName, replacing any previous
// content, and returns a memory:// URI.
func (h *ImageHost) Upload(_ context.Context, data []byte, folder, fileName string) (string, error) {
	key, err := storage.ObjectPath(folder, fileName)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[key] = append([]byte(nil), data...)
	h.uploads++
	return fmt.Sprintf("memory://%s", key), nil
}

// Object returns the stored bytes for a key.
func (h *ImageHost) Object(key string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.data[key]
	return data, ok
}

// Uploads reports how many uploads were accepted, including overwrites.
func (h *ImageHost) Uploads() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.uploads
}
