package storage

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/starford/tronos/internal/node"
)

// Memory is the ephemeral Backend. Nothing survives process exit; it
// exists for tests and for the `backend: memory` configuration.
type Memory struct {
	files     map[string]map[string]*node.Node // namespace -> path -> node
	sessions  map[string]SessionRecord
	versions  map[string][]VersionRecord // namespace -> records (all paths)
	snapshots map[string][]SnapshotRecord
	blobs     map[string][]byte
	nextVer   int64
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an initialized in-memory backend.
func NewMemory() *Memory {
	m := &Memory{}
	_ = m.Init()
	return m
}

// Init allocates the maps. Idempotent: calling it again keeps data.
func (m *Memory) Init() error {
	if m.files == nil {
		m.files = make(map[string]map[string]*node.Node)
		m.sessions = make(map[string]SessionRecord)
		m.versions = make(map[string][]VersionRecord)
		m.snapshots = make(map[string][]SnapshotRecord)
		m.blobs = make(map[string][]byte)
		m.nextVer = 1
	}
	return nil
}

func (m *Memory) ns(namespace string) map[string]*node.Node {
	fs, ok := m.files[namespace]
	if !ok {
		fs = make(map[string]*node.Node)
		m.files[namespace] = fs
	}
	return fs
}

// SaveFile stores a copy of the node.
func (m *Memory) SaveFile(namespace, path string, n *node.Node) error {
	m.ns(namespace)[path] = n.Clone()
	return nil
}

// DeleteFile removes a node; deleting a missing path is a no-op.
func (m *Memory) DeleteFile(namespace, path string) error {
	delete(m.ns(namespace), path)
	return nil
}

// LoadFilesystem returns copies of every node under namespace.
func (m *Memory) LoadFilesystem(namespace string) (map[string]*node.Node, error) {
	out := make(map[string]*node.Node)
	for p, n := range m.ns(namespace) {
		out[p] = n.Clone()
	}
	return out, nil
}

// SyncFilesystem replaces the namespace contents wholesale.
func (m *Memory) SyncFilesystem(namespace string, nodes map[string]*node.Node) error {
	fresh := make(map[string]*node.Node, len(nodes))
	for p, n := range nodes {
		fresh[p] = n.Clone()
	}
	m.files[namespace] = fresh
	return nil
}

// SaveSession stores a session record.
func (m *Memory) SaveSession(rec SessionRecord) error {
	m.sessions[rec.ID] = rec
	return nil
}

// LoadSessions returns all session records, ordered by id for
// determinism.
func (m *Memory) LoadSessions() ([]SessionRecord, error) {
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSession removes a session and cascades to its filesystem
// namespace, version history and snapshots.
func (m *Memory) DeleteSession(id string) error {
	rec, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	delete(m.files, rec.FSNamespace)
	delete(m.versions, rec.FSNamespace)
	delete(m.snapshots, id)
	return nil
}

// AppendVersion appends an immutable version record.
func (m *Memory) AppendVersion(rec VersionRecord) (int64, error) {
	rec.ID = m.nextVer
	m.nextVer++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.versions[rec.Namespace] = append(m.versions[rec.Namespace], rec)
	return rec.ID, nil
}

// ListVersions returns the history for one path, oldest first.
func (m *Memory) ListVersions(namespace, path string) ([]VersionRecord, error) {
	var out []VersionRecord
	for _, rec := range m.versions[namespace] {
		if rec.Path == path {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveSnapshot stores a snapshot record.
func (m *Memory) SaveSnapshot(rec SnapshotRecord) error {
	m.snapshots[rec.SessionID] = append(m.snapshots[rec.SessionID], rec)
	return nil
}

// ListSnapshots returns a session's snapshots, oldest first.
func (m *Memory) ListSnapshots(sessionID string) ([]SnapshotRecord, error) {
	out := make([]SnapshotRecord, len(m.snapshots[sessionID]))
	copy(out, m.snapshots[sessionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteSnapshot removes one snapshot by name; missing names are a
// no-op.
func (m *Memory) DeleteSnapshot(sessionID, name string) error {
	recs := m.snapshots[sessionID]
	for i, rec := range recs {
		if rec.Name == name {
			m.snapshots[sessionID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// SaveBlob stores a config blob. Data must be valid JSON; the check
// mirrors the load-side shape validation so a bad write is caught at
// the source.
func (m *Memory) SaveBlob(key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

// LoadBlob returns the blob for key. Missing or non-JSON data yields
// ok=false: a corrupt blob is equivalent to no blob.
func (m *Memory) LoadBlob(key string) ([]byte, bool, error) {
	data, ok := m.blobs[key]
	if !ok || !json.Valid(data) {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// ClearBlob removes a blob.
func (m *Memory) ClearBlob(key string) error {
	delete(m.blobs, key)
	return nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error { return nil }
