package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/node"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	namespace TEXT NOT NULL,
	path      TEXT NOT NULL,
	node      TEXT NOT NULL,
	PRIMARY KEY (namespace, path)
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	fs_namespace TEXT NOT NULL,
	data         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS versions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace  TEXT NOT NULL,
	path       TEXT NOT NULL,
	content    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	author     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_versions_ns_path ON versions(namespace, path);

CREATE TABLE IF NOT EXISTS snapshots (
	session_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_auto     INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	image       BLOB NOT NULL,
	PRIMARY KEY (session_id, name)
);

CREATE TABLE IF NOT EXISTS blobs (
	key  TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

// SQLite is the durable Backend. One database file holds every
// namespace; namespacing is a column, not a separate file, so a
// failed write in one namespace cannot corrupt another.
type SQLite struct {
	conn *sql.DB
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w: %v", apperr.ErrBackendUnavailable, err)
	}
	s := &SQLite{conn: conn}
	if err := s.Init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Init applies the schema. Idempotent.
func (s *SQLite) Init() error {
	if _, err := s.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("storage: apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// SaveFile upserts one node.
func (s *SQLite) SaveFile(namespace, path string, n *node.Node) error {
	if namespace == "" {
		return fmt.Errorf("storage: save file: %w", apperr.ErrInvalidNamespace)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("storage: encode node: %w", err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO files (namespace, path, node) VALUES (?, ?, ?)
		ON CONFLICT(namespace, path) DO UPDATE SET node = excluded.node
	`, namespace, path, string(data))
	if err != nil {
		return fmt.Errorf("storage: save file %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes one node; missing paths are a no-op.
func (s *SQLite) DeleteFile(namespace, path string) error {
	if _, err := s.conn.Exec(`DELETE FROM files WHERE namespace = ? AND path = ?`, namespace, path); err != nil {
		return fmt.Errorf("storage: delete file %s: %w", path, err)
	}
	return nil
}

// LoadFilesystem returns every node under namespace. Rows that fail
// to decode are skipped: a partially-written row degrades to an
// absent node, never to a load failure.
func (s *SQLite) LoadFilesystem(namespace string) (map[string]*node.Node, error) {
	rows, err := s.conn.Query(`SELECT path, node FROM files WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("storage: load filesystem: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*node.Node)
	for rows.Next() {
		var p, data string
		if err := rows.Scan(&p, &data); err != nil {
			return nil, fmt.Errorf("storage: scan file row: %w", err)
		}
		var n node.Node
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			continue
		}
		out[p] = &n
	}
	return out, rows.Err()
}

// SyncFilesystem replaces the persisted namespace contents in one
// transaction.
func (s *SQLite) SyncFilesystem(namespace string, nodes map[string]*node.Node) error {
	if namespace == "" {
		return fmt.Errorf("storage: sync filesystem: %w", apperr.ErrInvalidNamespace)
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM files WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("storage: clear namespace: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO files (namespace, path, node) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare insert: %w", err)
	}
	defer stmt.Close()
	for p, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("storage: encode node %s: %w", p, err)
		}
		if _, err := stmt.Exec(namespace, p, string(data)); err != nil {
			return fmt.Errorf("storage: insert %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// SaveSession upserts a session record.
func (s *SQLite) SaveSession(rec SessionRecord) error {
	_, err := s.conn.Exec(`
		INSERT INTO sessions (id, fs_namespace, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fs_namespace = excluded.fs_namespace, data = excluded.data
	`, rec.ID, rec.FSNamespace, string(rec.Data))
	if err != nil {
		return fmt.Errorf("storage: save session %s: %w", rec.ID, err)
	}
	return nil
}

// LoadSessions returns every session record, ordered by id.
func (s *SQLite) LoadSessions() ([]SessionRecord, error) {
	rows, err := s.conn.Query(`SELECT id, fs_namespace, data FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: load sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var data string
		if err := rows.Scan(&rec.ID, &rec.FSNamespace, &data); err != nil {
			return nil, fmt.Errorf("storage: scan session row: %w", err)
		}
		rec.Data = []byte(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and cascades to its filesystem
// namespace, version history and snapshots within one transaction.
func (s *SQLite) DeleteSession(id string) error {
	var namespace string
	err := s.conn.QueryRow(`SELECT fs_namespace FROM sessions WHERE id = ?`, id).Scan(&namespace)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: look up session %s: %w", id, err)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM files WHERE namespace = ?`, namespace)
	_, _ = tx.Exec(`DELETE FROM versions WHERE namespace = ?`, namespace)
	_, _ = tx.Exec(`DELETE FROM snapshots WHERE session_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)

	return tx.Commit()
}

// AppendVersion appends an immutable version record and returns its id.
func (s *SQLite) AppendVersion(rec VersionRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.conn.Exec(`
		INSERT INTO versions (namespace, path, content, message, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Namespace, rec.Path, rec.Content, rec.Message, rec.Author, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("storage: append version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: version id: %w", err)
	}
	return id, nil
}

// ListVersions returns the history for one path, oldest first.
func (s *SQLite) ListVersions(namespace, path string) ([]VersionRecord, error) {
	rows, err := s.conn.Query(`
		SELECT id, content, message, author, created_at FROM versions
		WHERE namespace = ? AND path = ?
		ORDER BY created_at ASC, id ASC
	`, namespace, path)
	if err != nil {
		return nil, fmt.Errorf("storage: list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionRecord
	for rows.Next() {
		rec := VersionRecord{Namespace: namespace, Path: path}
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Message, &rec.Author, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan version row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSnapshot stores a snapshot record. A duplicate (session, name)
// pair is the caller's error to detect; the insert fails on it.
func (s *SQLite) SaveSnapshot(rec SnapshotRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(`
		INSERT INTO snapshots (session_id, name, description, is_auto, created_at, image)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Name, rec.Description, rec.IsAuto, rec.CreatedAt, rec.Image)
	if err != nil {
		return fmt.Errorf("storage: save snapshot %s: %w", rec.Name, err)
	}
	return nil
}

// ListSnapshots returns a session's snapshots, oldest first.
func (s *SQLite) ListSnapshots(sessionID string) ([]SnapshotRecord, error) {
	rows, err := s.conn.Query(`
		SELECT name, description, is_auto, created_at, image FROM snapshots
		WHERE session_id = ?
		ORDER BY created_at ASC, name ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		rec := SnapshotRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.IsAuto, &rec.CreatedAt, &rec.Image); err != nil {
			return nil, fmt.Errorf("storage: scan snapshot row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes one snapshot; missing names are a no-op.
func (s *SQLite) DeleteSnapshot(sessionID, name string) error {
	if _, err := s.conn.Exec(`DELETE FROM snapshots WHERE session_id = ? AND name = ?`, sessionID, name); err != nil {
		return fmt.Errorf("storage: delete snapshot %s: %w", name, err)
	}
	return nil
}

// SaveBlob upserts a config blob.
func (s *SQLite) SaveBlob(key string, data []byte) error {
	_, err := s.conn.Exec(`
		INSERT INTO blobs (key, data) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("storage: save blob %s: %w", key, err)
	}
	return nil
}

// LoadBlob returns the blob for key. Missing rows and non-JSON data
// both yield ok=false: a corrupt blob is equivalent to no blob.
func (s *SQLite) LoadBlob(key string) ([]byte, bool, error) {
	var data string
	err := s.conn.QueryRow(`SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load blob %s: %w", key, err)
	}
	if !json.Valid([]byte(data)) {
		return nil, false, nil
	}
	return []byte(data), true, nil
}

// ClearBlob removes a blob.
func (s *SQLite) ClearBlob(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: clear blob %s: %w", key, err)
	}
	return nil
}
