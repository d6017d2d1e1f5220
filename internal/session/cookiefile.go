package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// CookieStore persists the cookie set between process restarts.
type CookieStore interface {
	Load() ([]relay.Cookie, error)
	Save(cookies []relay.Cookie) error
}

// FileStore keeps cookies as a JSON array on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cookie file path is required")
	}
	return &FileStore{path: path}, nil
}

// Load returns the stored cookies; a missing file is an empty set.
func (s *FileStore) Load() ([]relay.Cookie, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var cookies []relay.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}
	return cookies, nil
}

// Save replaces the stored cookies atomically.
func (s *FileStore) Save(cookies []relay.Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}
