// Package local_test tests the local filesystem image host.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/manga-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		host, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, host)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "images")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestUpload(t *testing.T) {
	tempDir := t.TempDir()
	host, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidUpload", func(t *testing.T) {
		data := []byte("jpeg bytes")
		uri, err := host.Upload(context.Background(), data, "manga/alpha/chuong-1", "000.jpg")
		require.NoError(t, err)

		fullPath := filepath.Join(tempDir, "manga", "alpha", "chuong-1", "000.jpg")
		assert.Equal(t, "file://"+fullPath, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := host.Upload(context.Background(), []byte("v1"), "manga/covers", "alpha.jpg")
		require.NoError(t, err)
		_, err = host.Upload(context.Background(), []byte("v2"), "manga/covers", "alpha.jpg")
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "manga", "covers", "alpha.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "v2", string(readData))
	})

	t.Run("EmptyFileName", func(t *testing.T) {
		_, err := host.Upload(context.Background(), []byte("data"), "manga", "")
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := host.Upload(context.Background(), []byte("data"), "../outside", "x.jpg")
		assert.Error(t, err)
	})
}

func TestUploadPublicURL(t *testing.T) {
	host, err := local.New(local.Config{BaseDir: t.TempDir(), PublicBaseURL: "https://img.example.com/static/"})
	require.NoError(t, err)

	uri, err := host.Upload(context.Background(), []byte("x"), "manga/alpha/chuong-2", "001.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/static/manga/alpha/chuong-2/001.jpg", uri)
}
