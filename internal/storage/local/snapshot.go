// Package local keeps the template snapshot in a file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config captures the parameters for the snapshot file.
type Config struct {
	// Path is the snapshot file. Missing parent directories are created.
	Path string `mapstructure:"path" yaml:"path"`
}

// Snapshot reads and replaces a single snapshot file.
type Snapshot struct {
	fs   afero.Fs
	path string
}

// New creates a file snapshot on the OS filesystem.
func New(cfg Config) (*Snapshot, error) {
	return NewWithFs(afero.NewOsFs(), cfg)
}

// NewWithFs creates a file snapshot on fsys.
func NewWithFs(fsys afero.Fs, cfg Config) (*Snapshot, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	path := filepath.Clean(cfg.Path)
	info, err := fsys.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("snapshot path %s is a directory", path)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat snapshot path: %w", err)
	}
	return &Snapshot{fs: fsys, path: path}, nil
}

// Path returns the snapshot file path.
func (s *Snapshot) Path() string { return s.path }

// Name identifies the backend in logs.
func (s *Snapshot) Name() string { return "file" }

// Load returns the file contents, or nil when the file does not exist yet.
func (s *Snapshot) Load(context.Context) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save writes data to a temporary file beside the snapshot and renames it
// into place, so readers never observe a partial snapshot.
func (s *Snapshot) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
