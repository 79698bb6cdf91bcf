// Package session manages session records: identity, environment,
// command history and the filesystem namespace a session's tree is
// persisted under. There is no package-level "current session";
// callers pass an explicit handle everywhere.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/vfs"
)

// Session is one persistent operating environment. FSNamespace is the
// storage key its filesystem lives under, decoupled from the session
// id so trees can be shared or remapped.
type Session struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Created     time.Time         `json:"created"`
	LastAccess  time.Time         `json:"last_access"`
	FSNamespace string            `json:"fs_namespace"`
	Env         map[string]string `json:"env"`
	History     []string          `json:"history"`
	Aliases     map[string]string `json:"aliases"`
}

// Info returns the session metadata in disk-image form.
func (s *Session) Info() image.SessionInfo {
	return image.SessionInfo{Env: s.Env, Aliases: s.Aliases, History: s.History}
}

// Manager creates, loads and deletes sessions through the backend.
type Manager struct {
	backend storage.Backend
	logger  *slog.Logger
}

// NewManager builds a session manager.
func NewManager(backend storage.Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// Create makes a new session with a fresh filesystem namespace. When
// seed is non-nil its files become the session's initial tree and its
// session metadata the initial environment.
func (m *Manager) Create(name string, seed *image.DiskImage) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		Created:     now,
		LastAccess:  now,
		FSNamespace: "fs-" + uuid.NewString(),
		Env:         map[string]string{},
		Aliases:     map[string]string{},
	}
	if seed != nil {
		// Copy, never adopt: the seed image may be shared or reused.
		if seed.Session.Env != nil {
			sess.Env = maps.Clone(seed.Session.Env)
		}
		if seed.Session.Aliases != nil {
			sess.Aliases = maps.Clone(seed.Session.Aliases)
		}
		if err := m.backend.SyncFilesystem(sess.FSNamespace, seed.Nodes()); err != nil {
			return nil, fmt.Errorf("session: seed filesystem: %w", err)
		}
	}
	if err := m.save(sess); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		slog.String("id", sess.ID), slog.String("name", name),
		slog.String("namespace", sess.FSNamespace))
	return sess, nil
}

// List returns every stored session. Records that fail to decode are
// skipped with a warning; one corrupt row must not hide the rest.
func (m *Manager) List() ([]*Session, error) {
	recs, err := m.backend.LoadSessions()
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		var sess Session
		if err := json.Unmarshal(rec.Data, &sess); err != nil {
			m.logger.Warn("session: skipping corrupt record", slog.String("id", rec.ID))
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}

// Get returns one session by id.
func (m *Manager) Get(id string) (*Session, error) {
	sessions, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
}

// Touch marks the session as active now and persists it.
func (m *Manager) Touch(sess *Session) error {
	sess.LastAccess = time.Now().UTC()
	return m.save(sess)
}

// Save persists the session record.
func (m *Manager) Save(sess *Session) error {
	return m.save(sess)
}

// Delete removes a session; the backend cascades to its filesystem
// namespace, version history and snapshots.
func (m *Manager) Delete(id string) error {
	if err := m.backend.DeleteSession(id); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	m.logger.Info("session deleted", slog.String("id", id))
	return nil
}

// Restore replaces the session's live filesystem and metadata with a
// disk image's contents wholesale.
func (m *Manager) Restore(sess *Session, fs *vfs.FS, img *image.DiskImage) error {
	if err := fs.Replace(img.Nodes()); err != nil {
		return fmt.Errorf("session: restore filesystem: %w", err)
	}
	sess.Env = maps.Clone(img.Session.Env)
	sess.Aliases = maps.Clone(img.Session.Aliases)
	sess.History = slices.Clone(img.Session.History)
	if sess.Env == nil {
		sess.Env = map[string]string{}
	}
	if sess.Aliases == nil {
		sess.Aliases = map[string]string{}
	}
	return m.save(sess)
}

func (m *Manager) save(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}
	rec := storage.SessionRecord{ID: sess.ID, FSNamespace: sess.FSNamespace, Data: data}
	if err := m.backend.SaveSession(rec); err != nil {
		return fmt.Errorf("session: save %s: %w", sess.ID, err)
	}
	return nil
}
