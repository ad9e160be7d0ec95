package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalProvider writes exports under a base directory.
type LocalProvider struct {
	basePath string
	log      *slog.Logger
}

func NewLocalProvider(basePath string, log *slog.Logger) (*LocalProvider, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", basePath, err)
	}
	return &LocalProvider{basePath: basePath, log: log}, nil
}

func (p *LocalProvider) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, key)
	}
	return filepath.Join(p.basePath, filepath.FromSlash(cleaned)), nil
}

// StreamToFile writes to a temporary file that is renamed into place on
// Close, so readers never see a partial export.
func (p *LocalProvider) StreamToFile(ctx context.Context, key string) (io.WriteCloser, <-chan error) {
	fullPath, err := p.path(key)
	if err != nil {
		return nil, failed(err)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, failed(fmt.Errorf("failed to create directory %s: %w", dir, err))
	}
	f, err := os.CreateTemp(dir, filepath.Base(fullPath)+".*.part")
	if err != nil {
		return nil, failed(fmt.Errorf("failed to create file %s: %w", fullPath, err))
	}

	errChan := make(chan error, 1)
	return &localWriter{ctx: ctx, f: f, path: fullPath, errChan: errChan, log: p.log}, errChan
}

func (p *LocalProvider) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := p.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

func (p *LocalProvider) GetDownloadURL(key string) string {
	fullPath, err := p.path(key)
	if err != nil {
		return ""
	}
	abs, _ := filepath.Abs(fullPath)
	return "file://" + filepath.ToSlash(abs)
}

type localWriter struct {
	ctx     context.Context
	f       *os.File
	path    string
	errChan chan error
	log     *slog.Logger
	closed  bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.f.Write(p)
}

func (w *localWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.finish()
	if err != nil {
		_ = os.Remove(w.f.Name())
	} else {
		w.log.Info("Local file write completed", "path", w.path)
	}
	w.errChan <- err
	close(w.errChan)
	return err
}

func (w *localWriter) finish() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	return os.Rename(w.f.Name(), w.path)
}
