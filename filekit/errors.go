package filekit

import "errors"

var (
	ErrNotExist      = errors.New("file does not exist")
	ErrNotAllowed    = errors.New("path not allowed")
	ErrInvalidDriver = errors.New("invalid filekit driver")
)

// PathError records a failed operation on a path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotExist reports whether err means the path was missing.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
