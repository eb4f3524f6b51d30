// Package gcs provides an image host backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"

	objectkey "github.com/JakeFAU/manga-crawler/internal/storage"
)

const defaultCacheControl = "public, max-age=31536000"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL overrides the default https://storage.googleapis.com/<bucket>
	// prefix, e.g. for a CDN in front of the bucket.
	PublicBaseURL string
}

// ImageHost writes images to a configured GCS bucket.
type ImageHost struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// New creates a GCS-backed image host.
func New(client *storage.Client, cfg Config) (*ImageHost, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ImageHost{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBase(cfg),
	}, nil
}

func publicBase(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	return "https://storage.googleapis.com/" + cfg.Bucket
}

// Upload writes data to folder/fileName in the bucket, replacing any existing
// object, and returns its public URL.
func (h *ImageHost) Upload(ctx context.Context, data []byte, folder, fileName string) (string, error) {
	key, err := objectkey.ObjectPath(folder, fileName)
	if err != nil {
		return "", err
	}
	writer := h.client.Bucket(h.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = http.DetectContentType(data)
	writer.CacheControl = defaultCacheControl
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return objectkey.PublicURL(h.baseURL, key), nil
}
