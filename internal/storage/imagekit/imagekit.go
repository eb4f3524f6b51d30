// Package imagekit implements an image host on the ImageKit SDK.
package imagekit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ik "github.com/imagekit-developer/imagekit-go"
	"github.com/imagekit-developer/imagekit-go/api/uploader"

	objectkey "github.com/JakeFAU/manga-crawler/internal/storage"
)

// Config holds ImageKit credentials.
type Config struct {
	PrivateKey  string
	PublicKey   string
	URLEndpoint string
	// Timeout bounds one upload. Zero leaves the caller's context in charge.
	Timeout time.Duration
}

// Uploader is the part of the ImageKit SDK this host calls.
type Uploader interface {
	Upload(ctx context.Context, file any, param uploader.UploadParam) (*uploader.UploadResponse, error)
}

// ImageHost uploads images to ImageKit with fixed names and overwrite on
// conflict.
type ImageHost struct {
	cfg      Config
	uploader Uploader
}

// New builds an ImageKit image host backed by the SDK client.
func New(cfg Config) (*ImageHost, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("imagekit private key is required")
	}
	client := ik.NewFromParams(ik.NewParams{
		PrivateKey:  cfg.PrivateKey,
		PublicKey:   cfg.PublicKey,
		UrlEndpoint: cfg.URLEndpoint,
	})
	return NewWithUploader(cfg, client.Uploader)
}

// NewWithUploader builds a host on an existing uploader.
func NewWithUploader(cfg Config, up Uploader) (*ImageHost, error) {
	if up == nil {
		return nil, errors.New("imagekit uploader is required")
	}
	return &ImageHost{cfg: cfg, uploader: up}, nil
}

// Upload sends data as folder/fileName and returns the hosted URL.
func (h *ImageHost) Upload(ctx context.Context, data []byte, folder, fileName string) (string, error) {
	key, err := objectkey.ObjectPath(folder, fileName)
	if err != nil {
		return "", err
	}
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	unique, overwrite := false, true
	resp, err := h.uploader.Upload(ctx, dataURI(data), uploader.UploadParam{
		FileName:          fileName,
		Folder:            "/" + strings.Trim(folder, "/"),
		UseUniqueFileName: &unique,
		OverwriteFile:     &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if resp != nil && resp.Data.Url != "" {
		return resp.Data.Url, nil
	}
	if h.cfg.URLEndpoint != "" {
		return objectkey.PublicURL(h.cfg.URLEndpoint, key), nil
	}
	return "", fmt.Errorf("upload %s: response carried no url", key)
}

// dataURI encodes the image the way the upload API accepts inline files.
func dataURI(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
