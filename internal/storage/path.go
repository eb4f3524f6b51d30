// Package storage holds helpers shared by the image host implementations.
package storage

import (
	"fmt"
	"path"
	"strings"
)

// ObjectPath joins a folder and file name into a slash-separated object key.
// Keys are deterministic so re-uploading a page overwrites the same object.
func ObjectPath(folder, fileName string) (string, error) {
	name := strings.TrimSpace(fileName)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}
	for _, segment := range strings.Split(strings.Trim(folder, "/"), "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid folder %q", folder)
		}
	}
	joined := path.Join(strings.Trim(folder, "/"), name)
	return strings.TrimPrefix(joined, "/"), nil
}

// PublicURL joins a public base URL and an object key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
