// Package node defines the filesystem entry types shared by the VFS,
// the persistence backends and the disk-image format.
package node

import "time"

// Type discriminates filesystem entries.
type Type string

const (
	TypeFile      Type = "file"
	TypeDirectory Type = "directory"
)

// DefaultFilePerms and DefaultDirPerms are display-only mode strings;
// tronos records permissions but does not enforce them.
const (
	DefaultFilePerms = "rw-r--r--"
	DefaultDirPerms  = "rwxr-xr-x"
)

// Meta holds per-entry timestamps and the display permission string.
type Meta struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Permissions string    `json:"permissions"`
}

// Node is a single filesystem entry. Name is the last path segment,
// not the full path; Parent is the absolute path of the containing
// directory ("" only for the root). Content is meaningful for files
// only. Children are not stored: they are derived by scanning for
// nodes whose Parent equals a directory's path.
type Node struct {
	Name    string `json:"name"`
	Type    Type   `json:"type"`
	Parent  string `json:"parent"`
	Content string `json:"content,omitempty"`
	Meta    Meta   `json:"meta"`
}

// NewFile builds a file node with fresh timestamps.
func NewFile(name, parent, content string) *Node {
	now := time.Now().UTC()
	return &Node{
		Name:    name,
		Type:    TypeFile,
		Parent:  parent,
		Content: content,
		Meta:    Meta{CreatedAt: now, UpdatedAt: now, Permissions: DefaultFilePerms},
	}
}

// NewDirectory builds a directory node with fresh timestamps.
func NewDirectory(name, parent string) *Node {
	now := time.Now().UTC()
	return &Node{
		Name:   name,
		Type:   TypeDirectory,
		Parent: parent,
		Meta:   Meta{CreatedAt: now, UpdatedAt: now, Permissions: DefaultDirPerms},
	}
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Type == TypeDirectory
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	return &c
}
