// Package vfs implements the in-memory virtual filesystem tree: path
// resolution, CRUD and traversal over a flat path-to-node map, backed
// by a storage.Backend for durability.
package vfs

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/node"
	"github.com/starford/tronos/internal/storage"
)

// FS is the live filesystem for one namespace. It exclusively owns
// the in-memory map for the lifetime of the session; the backend owns
// the durable copy. Mutations write through to the backend
// best-effort and Sync flushes the whole tree, so a failed
// write-through is repaired by the next Sync rather than surfaced to
// the caller.
type FS struct {
	namespace string
	backend   storage.Backend
	nodes     map[string]*node.Node
	logger    *slog.Logger
}

// New loads the namespace from the backend and guarantees a root
// directory exists.
func New(namespace string, backend storage.Backend, logger *slog.Logger) (*FS, error) {
	if namespace == "" {
		return nil, fmt.Errorf("vfs: new: %w", apperr.ErrInvalidNamespace)
	}
	if logger == nil {
		logger = slog.Default()
	}
	nodes, err := backend.LoadFilesystem(namespace)
	if err != nil {
		return nil, fmt.Errorf("vfs: load %s: %w", namespace, err)
	}
	fs := &FS{namespace: namespace, backend: backend, nodes: nodes, logger: logger}
	if _, ok := fs.nodes["/"]; !ok {
		root := node.NewDirectory("/", "")
		fs.nodes["/"] = root
		fs.persist("/", root)
	}
	return fs, nil
}

// Namespace returns the storage key this tree is persisted under.
func (fs *FS) Namespace() string { return fs.namespace }

// Resolve resolves p against cwd. Pure; never fails on missing
// targets.
func (fs *FS) Resolve(cwd, p string) (string, error) {
	return Resolve(cwd, p)
}

// Exists reports whether a node exists at path.
func (fs *FS) Exists(path string) bool {
	_, ok := fs.nodes[Normalize(path)]
	return ok
}

// IsFile reports whether path names a file.
func (fs *FS) IsFile(path string) bool {
	n, ok := fs.nodes[Normalize(path)]
	return ok && !n.IsDir()
}

// IsDir reports whether path names a directory.
func (fs *FS) IsDir(path string) bool {
	n, ok := fs.nodes[Normalize(path)]
	return ok && n.IsDir()
}

// Stat returns a copy of the node at path.
func (fs *FS) Stat(path string) (*node.Node, error) {
	n, ok := fs.nodes[Normalize(path)]
	if !ok {
		return nil, fmt.Errorf("vfs: stat %s: %w", path, apperr.ErrNotFound)
	}
	return n.Clone(), nil
}

// Read returns the content of the file at path.
func (fs *FS) Read(path string) (string, error) {
	p := Normalize(path)
	n, ok := fs.nodes[p]
	if !ok {
		return "", fmt.Errorf("vfs: read %s: %w", path, apperr.ErrNotFound)
	}
	if n.IsDir() {
		return "", fmt.Errorf("vfs: read %s: %w", path, apperr.ErrIsADirectory)
	}
	return n.Content, nil
}

// Write creates or overwrites the file at path. The parent directory
// must already exist.
func (fs *FS) Write(path, content string) error {
	p := Normalize(path)
	if p == "/" {
		return fmt.Errorf("vfs: write %s: %w", path, apperr.ErrIsADirectory)
	}
	parent := Dir(p)
	pn, ok := fs.nodes[parent]
	if !ok {
		return fmt.Errorf("vfs: write %s: %w", path, apperr.ErrNoSuchParent)
	}
	if !pn.IsDir() {
		return fmt.Errorf("vfs: write %s: %w", path, apperr.ErrNotADirectory)
	}
	if existing, ok := fs.nodes[p]; ok {
		if existing.IsDir() {
			return fmt.Errorf("vfs: write %s: %w", path, apperr.ErrIsADirectory)
		}
		existing.Content = content
		existing.Meta.UpdatedAt = time.Now().UTC()
		fs.persist(p, existing)
		return nil
	}
	n := node.NewFile(Base(p), parent, content)
	fs.nodes[p] = n
	fs.persist(p, n)
	return nil
}

// Mkdir creates a directory at path. With recursive it creates all
// missing ancestors; without, a missing ancestor is ErrNoSuchParent.
// The exact path already existing is ErrAlreadyExists either way.
func (fs *FS) Mkdir(path string, recursive bool) error {
	p := Normalize(path)
	if _, ok := fs.nodes[p]; ok {
		return fmt.Errorf("vfs: mkdir %s: %w", path, apperr.ErrAlreadyExists)
	}
	parent := Dir(p)
	if pn, ok := fs.nodes[parent]; ok {
		if !pn.IsDir() {
			return fmt.Errorf("vfs: mkdir %s: %w", path, apperr.ErrNotADirectory)
		}
	} else {
		if !recursive {
			return fmt.Errorf("vfs: mkdir %s: %w", path, apperr.ErrNoSuchParent)
		}
		if err := fs.Mkdir(parent, true); err != nil {
			return err
		}
	}
	n := node.NewDirectory(Base(p), parent)
	fs.nodes[p] = n
	fs.persist(p, n)
	return nil
}

// Remove deletes the node at path. A non-empty directory needs
// recursive; the subtree is then removed depth-first.
func (fs *FS) Remove(path string, recursive bool) error {
	p := Normalize(path)
	n, ok := fs.nodes[p]
	if !ok {
		return fmt.Errorf("vfs: remove %s: %w", path, apperr.ErrNotFound)
	}
	if p == "/" {
		return fmt.Errorf("vfs: remove %s: %w", path, apperr.ErrIsADirectory)
	}
	if n.IsDir() {
		children := fs.childPaths(p)
		if len(children) > 0 && !recursive {
			return fmt.Errorf("vfs: remove %s: %w", path, apperr.ErrNotEmpty)
		}
		// Depth-first: longest paths go first.
		sort.Slice(children, func(i, j int) bool { return len(children[i]) > len(children[j]) })
		for _, c := range children {
			delete(fs.nodes, c)
			fs.unpersist(c)
		}
	}
	delete(fs.nodes, p)
	fs.unpersist(p)
	return nil
}

// Copy duplicates src at dest. An existing directory at dest nests
// the source under it with its original name; otherwise dest is the
// exact destination. Copying a non-empty directory requires
// recursive.
func (fs *FS) Copy(src, dest string, recursive bool) error {
	s := Normalize(src)
	sn, ok := fs.nodes[s]
	if !ok {
		return fmt.Errorf("vfs: copy %s: %w", src, apperr.ErrNotFound)
	}
	d := fs.destinationPath(s, Normalize(dest))
	if _, ok := fs.nodes[d]; ok {
		return fmt.Errorf("vfs: copy to %s: %w", d, apperr.ErrAlreadyExists)
	}
	if pn, ok := fs.nodes[Dir(d)]; !ok || !pn.IsDir() {
		return fmt.Errorf("vfs: copy to %s: %w", d, apperr.ErrNoSuchParent)
	}
	if sn.IsDir() {
		children := fs.childPaths(s)
		if len(children) > 0 && !recursive {
			return fmt.Errorf("vfs: copy %s: omitting directory (recursive not set)", src)
		}
		if isWithin(s, d) {
			return fmt.Errorf("vfs: copy %s into itself (%s)", src, d)
		}
		fs.linkSubtree(s, d, false)
		return nil
	}
	c := sn.Clone()
	c.Name = Base(d)
	c.Parent = Dir(d)
	c.Meta.UpdatedAt = time.Now().UTC()
	fs.nodes[d] = c
	fs.persist(d, c)
	return nil
}

// Move relocates src to dest under the same destination rule as Copy.
// The in-memory relink happens before any backend I/O, so there is no
// observable state with the node at both or neither path.
func (fs *FS) Move(src, dest string) error {
	s := Normalize(src)
	sn, ok := fs.nodes[s]
	if !ok {
		return fmt.Errorf("vfs: move %s: %w", src, apperr.ErrNotFound)
	}
	if s == "/" {
		return fmt.Errorf("vfs: move %s: %w", src, apperr.ErrIsADirectory)
	}
	d := fs.destinationPath(s, Normalize(dest))
	if _, ok := fs.nodes[d]; ok {
		return fmt.Errorf("vfs: move to %s: %w", d, apperr.ErrAlreadyExists)
	}
	if pn, ok := fs.nodes[Dir(d)]; !ok || !pn.IsDir() {
		return fmt.Errorf("vfs: move to %s: %w", d, apperr.ErrNoSuchParent)
	}
	if sn.IsDir() && isWithin(s, d) {
		return fmt.Errorf("vfs: move %s into itself (%s)", src, d)
	}
	fs.linkSubtree(s, d, true)
	return nil
}

// List returns the child names of a directory, sorted ascending.
func (fs *FS) List(path string) ([]string, error) {
	p := Normalize(path)
	n, ok := fs.nodes[p]
	if !ok {
		return nil, fmt.Errorf("vfs: list %s: %w", path, apperr.ErrNotFound)
	}
	if !n.IsDir() {
		return nil, fmt.Errorf("vfs: list %s: %w", path, apperr.ErrNotADirectory)
	}
	var names []string
	for _, c := range fs.nodes {
		if c.Parent == p {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListDetailed returns copies of a directory's child nodes, sorted by
// name.
func (fs *FS) ListDetailed(path string) ([]*node.Node, error) {
	names, err := fs.List(path)
	if err != nil {
		return nil, err
	}
	p := Normalize(path)
	out := make([]*node.Node, 0, len(names))
	for _, name := range names {
		out = append(out, fs.nodes[Join(p, name)].Clone())
	}
	return out, nil
}

// Walk visits every node under root (root included), parents before
// children, in path order. fn returning an error stops the walk.
func (fs *FS) Walk(root string, fn func(path string, n *node.Node) error) error {
	r := Normalize(root)
	if _, ok := fs.nodes[r]; !ok {
		return fmt.Errorf("vfs: walk %s: %w", root, apperr.ErrNotFound)
	}
	paths := make([]string, 0, len(fs.nodes))
	for p := range fs.nodes {
		if isWithin(r, p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := fn(p, fs.nodes[p].Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Tree returns a deep copy of the whole path-to-node map.
func (fs *FS) Tree() map[string]*node.Node {
	out := make(map[string]*node.Node, len(fs.nodes))
	for p, n := range fs.nodes {
		out[p] = n.Clone()
	}
	return out
}

// Replace swaps the live tree for the given one wholesale (session
// restore from a snapshot) and flushes it to the backend.
func (fs *FS) Replace(nodes map[string]*node.Node) error {
	fresh := make(map[string]*node.Node, len(nodes)+1)
	for p, n := range nodes {
		fresh[Normalize(p)] = n.Clone()
	}
	if _, ok := fresh["/"]; !ok {
		fresh["/"] = node.NewDirectory("/", "")
	}
	fs.nodes = fresh
	return fs.Sync()
}

// Sync flushes the entire in-memory tree to the backend. Safe to call
// redundantly.
func (fs *FS) Sync() error {
	if err := fs.backend.SyncFilesystem(fs.namespace, fs.nodes); err != nil {
		return fmt.Errorf("vfs: sync %s: %w", fs.namespace, err)
	}
	return nil
}

// destinationPath applies the copy/move tie-break: an existing
// directory at dest nests the source under it.
func (fs *FS) destinationPath(src, dest string) string {
	if n, ok := fs.nodes[dest]; ok && n.IsDir() {
		return Join(dest, Base(src))
	}
	return dest
}

// childPaths returns every path strictly under dir.
func (fs *FS) childPaths(dir string) []string {
	var out []string
	for p := range fs.nodes {
		if p != dir && isWithin(dir, p) {
			out = append(out, p)
		}
	}
	return out
}

// linkSubtree clones (or relinks, when unlink is set) the subtree at
// src to dest. All in-memory map changes complete before backend
// write-through starts.
func (fs *FS) linkSubtree(src, dest string, unlink bool) {
	paths := append(fs.childPaths(src), src)
	sort.Strings(paths)

	type change struct {
		path string
		n    *node.Node
	}
	changes := make([]change, 0, len(paths))
	now := time.Now().UTC()
	for _, p := range paths {
		target := dest
		if p != src {
			target = dest + p[len(src):]
		}
		var n *node.Node
		if unlink {
			n = fs.nodes[p]
			delete(fs.nodes, p)
		} else {
			n = fs.nodes[p].Clone()
		}
		n.Name = Base(target)
		n.Parent = Dir(target)
		n.Meta.UpdatedAt = now
		changes = append(changes, change{path: target, n: n})
	}
	for _, c := range changes {
		fs.nodes[c.path] = c.n
	}

	// Durability after the fact; Sync repairs any miss.
	if unlink {
		for _, p := range paths {
			fs.unpersist(p)
		}
	}
	for _, c := range changes {
		fs.persist(c.path, c.n)
	}
}

// persist writes through one node, logging rather than failing: the
// in-memory tree is the source of truth until the next Sync.
func (fs *FS) persist(path string, n *node.Node) {
	if err := fs.backend.SaveFile(fs.namespace, path, n); err != nil {
		fs.logger.Warn("vfs: write-through failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (fs *FS) unpersist(path string) {
	if err := fs.backend.DeleteFile(fs.namespace, path); err != nil {
		fs.logger.Warn("vfs: delete-through failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}
