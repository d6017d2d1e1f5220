// Package local stores page dumps on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config selects the dump directory.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// BlobStore writes dumps below a root directory.
type BlobStore struct {
	root string
}

// New prepares the root directory and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.Dir)
	if root == "" {
		return nil, errors.New("dump directory is required")
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create dump directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat dump directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("dump directory %s is not a directory", root)
	}

	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("dump directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &BlobStore{root: filepath.Clean(root)}, nil
}

// PutObject writes data to root/path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("object path is required")
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes dump directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open object: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	return "file://" + full, nil
}
