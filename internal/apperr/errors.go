// Package apperr defines the sentinel errors shared across tronos.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotADirectory      = errors.New("not a directory")
	ErrIsADirectory       = errors.New("is a directory")
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotEmpty           = errors.New("directory not empty")
	ErrNoSuchParent       = errors.New("no such parent directory")
	ErrInvalidNamespace   = errors.New("invalid namespace")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
