package filekit

import (
	"context"
	"io"
	"time"
)

// File represents a stored object
type File struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// FileSystem is the blob store behind the file auth state persister.
type FileSystem interface {
	Upload(ctx context.Context, path string, content io.Reader, options ...Option) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	FileInfo(ctx context.Context, path string) (*File, error)
}
