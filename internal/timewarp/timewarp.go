// Package timewarp keeps the per-file append-only version history.
// Versions are recorded only when a risk-bearing caller asks for one
// (the update engine before an overwrite, an explicit save); routine
// edits do not version, which keeps history growth bounded.
package timewarp

import (
	"fmt"
	"time"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/vfs"
)

// SaveOptions annotate a version record.
type SaveOptions struct {
	Message string
	Author  string
}

// Service records and replays file versions through the backend.
type Service struct {
	backend storage.Backend
}

// NewService builds a timewarp service.
func NewService(backend storage.Backend) *Service {
	return &Service{backend: backend}
}

// SaveVersion appends an immutable record of content for (namespace,
// path). Prior history is never touched.
func (s *Service) SaveVersion(namespace, path, content string, opts SaveOptions) (int64, error) {
	if namespace == "" {
		return 0, fmt.Errorf("timewarp: save: %w", apperr.ErrInvalidNamespace)
	}
	author := opts.Author
	if author == "" {
		author = "system"
	}
	id, err := s.backend.AppendVersion(storage.VersionRecord{
		Namespace: namespace,
		Path:      vfs.Normalize(path),
		Content:   content,
		Message:   opts.Message,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("timewarp: save %s: %w", path, err)
	}
	return id, nil
}

// ListVersions returns the history for one path, oldest first.
func (s *Service) ListVersions(namespace, path string) ([]storage.VersionRecord, error) {
	recs, err := s.backend.ListVersions(namespace, vfs.Normalize(path))
	if err != nil {
		return nil, fmt.Errorf("timewarp: list %s: %w", path, err)
	}
	return recs, nil
}

// Revert writes the historical content at index (0-based into the
// ascending history) back through the VFS write path, so the revert
// itself is an ordinary recorded mutation, not a special case.
func (s *Service) Revert(fs *vfs.FS, namespace, path string, index int) error {
	recs, err := s.ListVersions(namespace, path)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(recs) {
		return fmt.Errorf("timewarp: revert %s version %d: %w", path, index, apperr.ErrNotFound)
	}
	if err := fs.Write(path, recs[index].Content); err != nil {
		return fmt.Errorf("timewarp: revert %s: %w", path, err)
	}
	return nil
}
