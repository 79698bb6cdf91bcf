// Package storage defines the persistence contract for tronos and its
// two implementations: an ephemeral in-memory backend and a durable
// SQLite backend. All operations are namespaced so that independent
// sessions never see each other's files.
package storage

import (
	"time"

	"github.com/starford/tronos/internal/node"
)

// VersionRecord is one immutable entry in a file's timewarp history.
type VersionRecord struct {
	ID        int64     `json:"id"`
	Namespace string    `json:"namespace"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotRecord is one stored point-in-time copy of a session. Image
// holds the encoded disk image; callers decode it with the image
// package.
type SnapshotRecord struct {
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsAuto      bool      `json:"is_auto"`
	CreatedAt   time.Time `json:"created_at"`
	Image       []byte    `json:"image"`
}

// SessionRecord is the persisted form of a session. Data holds the
// JSON-encoded session; the backend treats it as opaque apart from the
// id and namespace keys it needs for cascade deletion.
type SessionRecord struct {
	ID          string `json:"id"`
	FSNamespace string `json:"fs_namespace"`
	Data        []byte `json:"data"`
}

// Backend is the durable-storage contract. Load operations degrade to
// empty results for unknown namespaces or missing data; only an
// unavailable storage medium is an error. Blob loads return ok=false
// for missing or malformed data, never an error: a corrupt blob is
// equivalent to no blob.
type Backend interface {
	// Init prepares first-use storage structure. Idempotent.
	Init() error

	// Single-node durability.
	SaveFile(namespace, path string, n *node.Node) error
	DeleteFile(namespace, path string) error

	// LoadFilesystem returns every node persisted under namespace,
	// keyed by absolute path. Unknown namespaces yield an empty map.
	LoadFilesystem(namespace string) (map[string]*node.Node, error)

	// SyncFilesystem replaces the persisted set for namespace with
	// nodes in one logical operation: afterwards LoadFilesystem
	// returns exactly this set.
	SyncFilesystem(namespace string, nodes map[string]*node.Node) error

	// Sessions, keyed by id. DeleteSession cascades: the session's
	// filesystem namespace, versions and snapshots go with it.
	SaveSession(rec SessionRecord) error
	LoadSessions() ([]SessionRecord, error)
	DeleteSession(id string) error

	// Timewarp version records: append-only per (namespace, path),
	// listed in timestamp-ascending order.
	AppendVersion(rec VersionRecord) (int64, error)
	ListVersions(namespace, path string) ([]VersionRecord, error)

	// Session snapshots, keyed by (sessionID, name).
	SaveSnapshot(rec SnapshotRecord) error
	ListSnapshots(sessionID string) ([]SnapshotRecord, error)
	DeleteSnapshot(sessionID, name string) error

	// Singleton config blobs (theme, boot preferences, assistant
	// settings, last-applied update base).
	SaveBlob(key string, data []byte) error
	LoadBlob(key string) (data []byte, ok bool, err error)
	ClearBlob(key string) error

	Close() error
}
