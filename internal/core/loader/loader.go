// Package loader resolves path-like references (local paths, s3:// URLs) to
// their binary content.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound   = errors.New("content not found")
	ErrUnreadable = errors.New("content unreadable")
)

func IsNotFoundErr(err error) bool { return errors.Is(err, ErrNotFound) }

// Loader returns the content behind a path-like value.
type Loader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// Func adapts a plain function to Loader.
type Func func(ctx context.Context, path string) ([]byte, error)

func (f Func) Load(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// File reads from the local filesystem. Relative paths are resolved against
// Root when it is set.
type File struct {
	Root string
}

func (f File) Load(_ context.Context, path string) ([]byte, error) {
	path = strings.TrimPrefix(path, "file://")
	if f.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, path)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	return data, nil
}

// Mux dispatches on the URL scheme of the path; paths without a registered
// scheme go to the fallback loader.
type Mux struct {
	schemes  map[string]Loader
	fallback Loader
}

func NewMux(fallback Loader) *Mux {
	return &Mux{
		schemes:  make(map[string]Loader),
		fallback: fallback,
	}
}

// Handle registers l for paths starting with "<scheme>://".
func (m *Mux) Handle(scheme string, l Loader) {
	m.schemes[strings.ToLower(scheme)] = l
}

func (m *Mux) Load(ctx context.Context, path string) ([]byte, error) {
	if scheme, _, ok := strings.Cut(path, "://"); ok {
		if l, ok := m.schemes[strings.ToLower(scheme)]; ok {
			return l.Load(ctx, path)
		}
	}

	if m.fallback == nil {
		return nil, fmt.Errorf("%w: no loader for %s", ErrUnreadable, path)
	}

	return m.fallback.Load(ctx, path)
}

type Config struct {
	// Root resolves relative local paths.
	Root      string   `json:"root"`
	S3Enabled bool     `json:"s3_enabled" split_words:"true"`
	S3        S3Config `json:"s3"`
}

// New returns a Mux over the local filesystem, with s3:// paths served from
// S3 when enabled.
func New(ctx context.Context, cfg Config) (*Mux, error) {
	m := NewMux(File{Root: cfg.Root})
	m.Handle("file", File{Root: cfg.Root})

	if cfg.S3Enabled {
		s3Loader, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		m.Handle("s3", s3Loader)
	}

	return m, nil
}
