// Package snapshot stores whole-session point-in-time copies and
// enforces the retention limit on automatic ones.
package snapshot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/storage"
)

// AutoPrefix names snapshots the update engine takes before applying.
const AutoPrefix = "pre-update-"

// CreateOptions annotate a snapshot.
type CreateOptions struct {
	Description string
	IsAuto      bool
}

// Manager captures, lists and evicts snapshots for sessions.
type Manager struct {
	backend   storage.Backend
	autoLimit int
	logger    *slog.Logger
}

// NewManager builds a snapshot manager. autoLimit caps how many
// automatic snapshots a session keeps; manual ones are never evicted.
func NewManager(backend storage.Backend, autoLimit int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, autoLimit: autoLimit, logger: logger}
}

// Create stores a full-image snapshot. Names are unique per session.
func (m *Manager) Create(sessionID, name string, img *image.DiskImage, opts CreateOptions) error {
	existing, err := m.backend.ListSnapshots(sessionID)
	if err != nil {
		return fmt.Errorf("snapshot: list %s: %w", sessionID, err)
	}
	for _, rec := range existing {
		if rec.Name == name {
			return fmt.Errorf("snapshot: %s: %w", name, apperr.ErrAlreadyExists)
		}
	}
	data, err := img.Encode()
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", name, err)
	}
	rec := storage.SnapshotRecord{
		SessionID:   sessionID,
		Name:        name,
		Description: opts.Description,
		IsAuto:      opts.IsAuto,
		CreatedAt:   time.Now().UTC(),
		Image:       data,
	}
	if err := m.backend.SaveSnapshot(rec); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", name, err)
	}
	return nil
}

// List returns a session's snapshots, oldest first.
func (m *Manager) List(sessionID string) ([]storage.SnapshotRecord, error) {
	recs, err := m.backend.ListSnapshots(sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", sessionID, err)
	}
	return recs, nil
}

// Get returns one snapshot with its decoded image.
func (m *Manager) Get(sessionID, name string) (*storage.SnapshotRecord, *image.DiskImage, error) {
	recs, err := m.List(sessionID)
	if err != nil {
		return nil, nil, err
	}
	for i := range recs {
		if recs[i].Name == name {
			img, err := image.Decode(recs[i].Image)
			if err != nil {
				return nil, nil, fmt.Errorf("snapshot: %s: %w", name, err)
			}
			return &recs[i], img, nil
		}
	}
	return nil, nil, fmt.Errorf("snapshot: %s: %w", name, apperr.ErrNotFound)
}

// Delete removes one snapshot.
func (m *Manager) Delete(sessionID, name string) error {
	if err := m.backend.DeleteSnapshot(sessionID, name); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", name, err)
	}
	return nil
}

// EnforceLimit evicts the oldest automatic snapshots until the
// session is at or under the configured cap. Manually named
// snapshots are exempt.
func (m *Manager) EnforceLimit(sessionID string) error {
	recs, err := m.List(sessionID)
	if err != nil {
		return err
	}
	var auto []storage.SnapshotRecord
	for _, rec := range recs {
		if rec.IsAuto {
			auto = append(auto, rec)
		}
	}
	for len(auto) > m.autoLimit {
		victim := auto[0]
		auto = auto[1:]
		if err := m.Delete(sessionID, victim.Name); err != nil {
			return err
		}
		m.logger.Info("snapshot evicted",
			slog.String("session", sessionID), slog.String("name", victim.Name))
	}
	return nil
}

// LatestPreUpdate returns the most recent automatic pre-update
// snapshot, or ErrNotFound when the session has none to roll back to.
func (m *Manager) LatestPreUpdate(sessionID string) (*storage.SnapshotRecord, error) {
	recs, err := m.List(sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].IsAuto && strings.HasPrefix(recs[i].Name, AutoPrefix) {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("snapshot: no pre-update snapshot: %w", apperr.ErrNotFound)
}
