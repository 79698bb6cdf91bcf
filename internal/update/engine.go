// Package update implements the three-way diff of a target disk image
// against a live filesystem and applies the result under a conflict
// strategy, with timewarp versions and a pre-update snapshot as
// safety nets.
package update

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/checksum"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/node"
	"github.com/starford/tronos/internal/session"
	"github.com/starford/tronos/internal/snapshot"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/timewarp"
	"github.com/starford/tronos/internal/vfs"
)

// Strategy selects how conflicting files are resolved during apply.
type Strategy string

const (
	StrategySkip        Strategy = "skip"
	StrategyOverwrite   Strategy = "overwrite"
	StrategyInteractive Strategy = "interactive"
)

// LogPath is the append-only update log inside the VFS.
const LogPath = "/var/log/update.log"

// Analysis classifies every target path against the live tree. The
// sets are disjoint; recomputing without an apply in between yields
// identical results.
type Analysis struct {
	TargetVersion  string
	NewFiles       []string // in target, absent live
	UpdatedFiles   []string // differ from target but equal to the merge base: upstream-only change
	ConflictFiles  []string // differ from target and from the base (or no base known)
	UnchangedFiles []string
	UserOnlyFiles  []string // live files the target does not ship
}

// Result reports what an apply did.
type Result struct {
	Added    int
	Updated  int
	Skipped  int
	Strategy Strategy
	Snapshot string
	Errors   []string // per-file failures, surfaced but not fatal
	Notes    []string // degraded-path warnings (snapshot failure, interactive fallback)
}

// PromptFunc decides a single conflicting file interactively; true
// means overwrite with the target content.
type PromptFunc func(path string) bool

// Engine drives update analysis and apply for one backend.
type Engine struct {
	backend        storage.Backend
	snapshots      *snapshot.Manager
	timewarp       *timewarp.Service
	logger         *slog.Logger
	strictSnapshot bool
}

// NewEngine builds an update engine. With strictSnapshot a failed
// pre-update snapshot aborts the apply instead of degrading to a
// warning.
func NewEngine(backend storage.Backend, snaps *snapshot.Manager, tw *timewarp.Service, strictSnapshot bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend:        backend,
		snapshots:      snaps,
		timewarp:       tw,
		logger:         logger,
		strictSnapshot: strictSnapshot,
	}
}

func baseBlobKey(sessionID string) string { return "update-base-" + sessionID }

// LoadBase returns the last-applied target image for a session, used
// as the three-way merge base. Absent or corrupt data yields nil.
func (e *Engine) LoadBase(sessionID string) *image.DiskImage {
	data, ok, err := e.backend.LoadBlob(baseBlobKey(sessionID))
	if err != nil || !ok {
		return nil
	}
	img, err := image.Decode(data)
	if err != nil {
		return nil
	}
	return img
}

// Analyze classifies target entries against the live tree. Read-only
// and side-effect-free. With a merge base, a live file equal to the
// base but differing from the target is an upstream-only change and
// goes to UpdatedFiles; anything the user touched goes to
// ConflictFiles. Without a base every difference is a conflict.
func (e *Engine) Analyze(fs *vfs.FS, target, base *image.DiskImage) *Analysis {
	a := &Analysis{TargetVersion: TargetVersion}

	for p, entry := range target.Files {
		if entry.Type == node.TypeDirectory {
			continue
		}
		if !fs.Exists(p) {
			a.NewFiles = append(a.NewFiles, p)
			continue
		}
		live, err := fs.Read(p)
		if err != nil {
			// Path exists but is a directory; treat as conflicting.
			a.ConflictFiles = append(a.ConflictFiles, p)
			continue
		}
		if checksum.SumString(live) == checksum.SumString(entry.Content) {
			a.UnchangedFiles = append(a.UnchangedFiles, p)
			continue
		}
		if base != nil {
			if be, ok := base.Files[p]; ok && checksum.SumString(live) == checksum.SumString(be.Content) {
				a.UpdatedFiles = append(a.UpdatedFiles, p)
				continue
			}
		}
		a.ConflictFiles = append(a.ConflictFiles, p)
	}

	_ = fs.Walk("/", func(p string, n *node.Node) error {
		if n.IsDir() {
			return nil
		}
		if _, ok := target.Files[p]; !ok {
			a.UserOnlyFiles = append(a.UserOnlyFiles, p)
		}
		return nil
	})

	sort.Strings(a.NewFiles)
	sort.Strings(a.UpdatedFiles)
	sort.Strings(a.ConflictFiles)
	sort.Strings(a.UnchangedFiles)
	sort.Strings(a.UserOnlyFiles)
	return a
}

// Apply performs the update in order: pre-update snapshot, timewarp
// versions for every conflict, directory creation, new and
// upstream-updated writes, conflict resolution per strategy, log
// append, base image save, sync. Every per-file failure is recorded
// and skipped over; the batch always runs to completion.
func (e *Engine) Apply(fs *vfs.FS, sess *session.Session, target *image.DiskImage, a *Analysis, strategy Strategy, prompt PromptFunc) (*Result, error) {
	res := &Result{Strategy: strategy}

	// Safety net first.
	snapName := snapshot.AutoPrefix + time.Now().UTC().Format("20060102-150405")
	img := image.Capture(snapName, fs.Tree(), sess.Info())
	if err := e.snapshots.Create(sess.ID, snapName, img, snapshot.CreateOptions{
		Description: "automatic snapshot before update to v" + TargetVersion,
		IsAuto:      true,
	}); err != nil {
		if e.strictSnapshot {
			return nil, fmt.Errorf("update: pre-update snapshot: %w", err)
		}
		e.logger.Warn("update: pre-update snapshot failed, continuing",
			slog.String("error", err.Error()))
		res.Notes = append(res.Notes, "pre-update snapshot failed: "+err.Error())
	} else {
		res.Snapshot = snapName
		if err := e.snapshots.EnforceLimit(sess.ID); err != nil {
			e.logger.Warn("update: snapshot retention failed", slog.String("error", err.Error()))
		}
	}

	// Version every conflicting file before anything can overwrite it.
	for _, p := range a.ConflictFiles {
		live, err := fs.Read(p)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: read for versioning: %v", p, err))
			continue
		}
		if _, err := e.timewarp.SaveVersion(fs.Namespace(), p, live, timewarp.SaveOptions{
			Message: "before update to v" + TargetVersion,
			Author:  "update",
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: save version: %v", p, err))
		}
	}

	// Missing target directories are always created.
	dirs := make([]string, 0, len(target.Files))
	for p, entry := range target.Files {
		if entry.Type == node.TypeDirectory {
			dirs = append(dirs, p)
		}
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if fs.Exists(d) {
			continue
		}
		if err := fs.Mkdir(d, true); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: mkdir: %v", d, err))
		}
	}

	writeTarget := func(p string) bool {
		if parent := vfs.Dir(p); parent != "" && !fs.Exists(parent) {
			if err := fs.Mkdir(parent, true); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: mkdir parent: %v", p, err))
				return false
			}
		}
		if err := fs.Write(p, target.Files[p].Content); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: write: %v", p, err))
			return false
		}
		return true
	}

	for _, p := range a.NewFiles {
		if writeTarget(p) {
			res.Added++
		}
	}

	// Upstream-only changes are safe under every strategy.
	for _, p := range a.UpdatedFiles {
		if writeTarget(p) {
			res.Updated++
		}
	}

	effective := strategy
	if strategy == StrategyInteractive && prompt == nil {
		// Non-interactive execution context: fall back to skip and say so.
		effective = StrategySkip
		res.Notes = append(res.Notes, "no interactive terminal; conflicting files were skipped")
	}
	for _, p := range a.ConflictFiles {
		overwrite := false
		switch effective {
		case StrategyOverwrite:
			overwrite = true
		case StrategyInteractive:
			overwrite = prompt(p)
		}
		if overwrite {
			if writeTarget(p) {
				res.Updated++
			}
		} else {
			res.Skipped++
		}
	}

	e.appendLog(fs, res)

	// Persist the applied target as the merge base for the next run.
	if data, err := target.Encode(); err != nil {
		e.logger.Warn("update: encode merge base failed", slog.String("error", err.Error()))
	} else if err := e.backend.SaveBlob(baseBlobKey(sess.ID), data); err != nil {
		e.logger.Warn("update: save merge base failed", slog.String("error", err.Error()))
	}

	if err := fs.Sync(); err != nil {
		return res, fmt.Errorf("update: sync: %w", err)
	}
	return res, nil
}

// appendLog appends one structured line to the update log inside the
// VFS. Log failure is never fatal.
func (e *Engine) appendLog(fs *vfs.FS, res *Result) {
	line := fmt.Sprintf("[%s] Updated to v%s: %d added, %d updated, %d skipped (strategy: %s)\n",
		time.Now().UTC().Format(time.RFC3339), TargetVersion,
		res.Added, res.Updated, res.Skipped, res.Strategy)

	if dir := vfs.Dir(LogPath); !fs.Exists(dir) {
		if err := fs.Mkdir(dir, true); err != nil {
			e.logger.Warn("update: log dir create failed", slog.String("error", err.Error()))
			return
		}
	}
	prev, err := fs.Read(LogPath)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		e.logger.Warn("update: log read failed", slog.String("error", err.Error()))
		return
	}
	if err := fs.Write(LogPath, prev+line); err != nil {
		e.logger.Warn("update: log append failed", slog.String("error", err.Error()))
	}
}

// Rollback locates the most recent pre-update snapshot. Restoration
// itself is the session manager's job.
func (e *Engine) Rollback(sessionID string) (*storage.SnapshotRecord, error) {
	return e.snapshots.LatestPreUpdate(sessionID)
}

// History returns the update log verbatim. A missing log is reported
// as absent, not as an error.
func (e *Engine) History(fs *vfs.FS) (string, bool) {
	content, err := fs.Read(LogPath)
	if err != nil || strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}

// ReportPreview renders the analysis for the preview/dry-run output.
func ReportPreview(a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update target: v%s\n", a.TargetVersion)
	writeSet := func(label string, paths []string) {
		fmt.Fprintf(&b, "%s (%d):\n", label, len(paths))
		for _, p := range paths {
			fmt.Fprintf(&b, "  %s\n", p)
		}
	}
	writeSet("New files", a.NewFiles)
	writeSet("Upstream updates", a.UpdatedFiles)
	writeSet("Conflicts", a.ConflictFiles)
	fmt.Fprintf(&b, "Unchanged: %d, user-only: %d\n", len(a.UnchangedFiles), len(a.UserOnlyFiles))
	if len(a.NewFiles)+len(a.UpdatedFiles)+len(a.ConflictFiles) == 0 {
		b.WriteString("System is up to date.\n")
	} else {
		b.WriteString("Run with --apply to perform the update.\n")
	}
	return b.String()
}

// ReportApply renders the result of an apply.
func ReportApply(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Updated to v%s: %d added, %d updated, %d skipped (strategy: %s)\n",
		TargetVersion, res.Added, res.Updated, res.Skipped, res.Strategy)
	if res.Snapshot != "" {
		fmt.Fprintf(&b, "Pre-update snapshot: %s\n", res.Snapshot)
	}
	for _, n := range res.Notes {
		fmt.Fprintf(&b, "note: %s\n", n)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	return b.String()
}
