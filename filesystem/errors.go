package filesystem

import (
	"errors"
	"fmt"
)

// Semantic error kinds surfaced by the engine. Callers match with errors.Is.
var (
	ErrNoSuchFile             = errors.New("no such file")
	ErrAlreadyExists          = errors.New("file already exists")
	ErrDirectoryNotEmpty      = errors.New("directory not empty")
	ErrNotDirectory           = errors.New("not a directory")
	ErrAccessDenied           = errors.New("access denied")
	ErrAtomicMoveNotSupported = errors.New("atomic move not supported")
	ErrUnsupportedOption      = errors.New("unsupported option")
	ErrInvalidPath            = errors.New("invalid path")
	ErrInvalidBlockSize       = errors.New("invalid block size")
	ErrProviderMismatch       = errors.New("provider mismatch")
	ErrIo                     = errors.New("i/o error")
	ErrStreamOpen             = errors.New("stream already open")
)

// FsError records the operation and path an error occurred on.
type FsError struct {
	Op   string
	Path string
	Err  error
}

func (e *FsError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *FsError) Unwrap() error { return e.Err }

// fsErr wraps kind with op and path context.
func fsErr(op, path string, kind error) error {
	return &FsError{Op: op, Path: path, Err: kind}
}

// ioErr wraps a datastore or transport failure as an Io error, preserving
// the cause for errors.Is/As.
func ioErr(op, path string, cause error) error {
	return &FsError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrIo, cause)}
}
