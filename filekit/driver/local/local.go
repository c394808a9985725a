// Package local stores files under a root directory on disk.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobeaver/authflow/filekit"
)

// Adapter provides a local filesystem implementation of filekit.FileSystem
type Adapter struct {
	root string
}

// New creates a new local filesystem adapter, creating root if needed.
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}

	return &Adapter{root: absRoot}, nil
}

// Upload writes content to a temporary file next to the target and renames
// it into place, so readers never observe a partial write.
func (a *Adapter) Upload(ctx context.Context, path string, content io.Reader, options ...filekit.Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := a.resolve("upload", path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}

	mode := os.FileMode(0o600)
	if filekit.ProcessOptions(options...).Visibility == filekit.Public {
		mode = 0o644
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		return &filekit.PathError{Op: "upload", Path: path, Err: err}
	}
	return nil
}

// Download implements filekit.FileSystem
func (a *Adapter) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := a.resolve("download", path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, mapError("download", path, err)
	}
	return f, nil
}

// Delete implements filekit.FileSystem
func (a *Adapter) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := a.resolve("delete", path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return mapError("delete", path, err)
	}
	return nil
}

// Exists implements filekit.FileSystem
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fullPath, err := a.resolve("exists", path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &filekit.PathError{Op: "exists", Path: path, Err: err}
	}
	return true, nil
}

// FileInfo implements filekit.FileSystem
func (a *Adapter) FileInfo(ctx context.Context, path string) (*filekit.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := a.resolve("fileinfo", path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, mapError("fileinfo", path, err)
	}

	return &filekit.File{
		Name:        filepath.Base(path),
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (a *Adapter) resolve(op, path string) (string, error) {
	fullPath := filepath.Join(a.root, filepath.Clean("/"+path))
	if !isPathUnderRoot(a.root, fullPath) {
		return "", &filekit.PathError{Op: op, Path: path, Err: filekit.ErrNotAllowed}
	}
	return fullPath, nil
}

func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func mapError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &filekit.PathError{Op: op, Path: path, Err: filekit.ErrNotExist}
	}
	return &filekit.PathError{Op: op, Path: path, Err: err}
}
