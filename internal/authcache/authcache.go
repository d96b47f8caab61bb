// Package authcache keeps the device session between CLI invocations.
package authcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/cc42-scan/internal/model"
)

// ErrNoSession is returned when nothing usable is cached.
var ErrNoSession = errors.New("no valid session (login required)")

// Cache is one cached login.
type Cache struct {
	Value     string        `json:"access_token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Login     string        `json:"login"`
	Profile   model.Profile `json:"profile"`
}

// Valid reports whether the token can still be sent at now.
func (c Cache) Valid(now time.Time) bool {
	return c.Value != "" && now.Before(c.ExpiresAt)
}

// File persists a Cache as JSON with owner-only permissions.
type File struct {
	path string
	now  func() time.Time
}

// NewFile stores the session at dir/session.json.
func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, "session.json"), now: time.Now}
}

// Path is the file location.
func (f *File) Path() string { return f.path }

// Save writes c, creating the directory when needed.
func (f *File) Save(c Cache) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0o600)
}

// Load returns the cached session, or ErrNoSession when it is missing or expired.
func (f *File) Load() (Cache, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Cache{}, ErrNoSession
	}
	if err != nil {
		return Cache{}, err
	}
	var c Cache
	if err := json.Unmarshal(b, &c); err != nil {
		return Cache{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	if !c.Valid(f.now()) {
		return Cache{}, ErrNoSession
	}
	return c, nil
}

// Clear forgets the session.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
