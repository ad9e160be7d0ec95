package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Provider stores export files.
type Provider interface {
	// StreamToFile returns a writer whose data is stored under key. The
	// channel receives exactly one value, nil on success, once the writer has
	// been closed and the object is durable.
	StreamToFile(ctx context.Context, key string) (io.WriteCloser, <-chan error)

	// OpenFile opens a stored file for reading.
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)

	// GetDownloadURL returns a URL for the stored file.
	GetDownloadURL(key string) string
}

// CleanKey normalises a slash-separated key and rejects keys that would
// escape the storage root.
func CleanKey(key string) (string, error) {
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// failed returns a channel already holding err.
func failed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}
