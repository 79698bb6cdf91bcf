// Package image implements the portable disk-image format: the full
// serialized copy of a session's filesystem, environment and history
// used by snapshots, exports and the update target.
package image

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tronos/internal/node"
)

// FormatVersion is the current disk-image format version. Decode
// rejects images from a future format rather than misreading them.
const FormatVersion = 1

// SessionInfo is the session metadata captured alongside the files.
type SessionInfo struct {
	Env     map[string]string `json:"env"`
	Aliases map[string]string `json:"aliases"`
	History []string          `json:"history"`
}

// FileMeta mirrors node metadata in the interchange format.
type FileMeta struct {
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
}

// FileEntry is one filesystem entry in an image. Content is present
// for files only.
type FileEntry struct {
	Type    node.Type `json:"type"`
	Content string    `json:"content,omitempty"`
	Meta    FileMeta  `json:"meta"`
}

// Validate checks one entry's shape.
func (e FileEntry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.Required, validation.In(node.TypeFile, node.TypeDirectory)),
	)
}

// DiskImage is a full point-in-time serialization of one session.
type DiskImage struct {
	Version  int                  `json:"version"`
	Name     string               `json:"name"`
	Created  time.Time            `json:"created"`
	Exported time.Time            `json:"exported"`
	Session  SessionInfo          `json:"session"`
	Files    map[string]FileEntry `json:"files"`
}

// Validate checks the image shape, including every file entry.
func (img *DiskImage) Validate() error {
	if err := validation.ValidateStruct(img,
		validation.Field(&img.Version, validation.Required, validation.Min(1), validation.Max(FormatVersion)),
		validation.Field(&img.Name, validation.Required),
	); err != nil {
		return err
	}
	for p, e := range img.Files {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("image: file path %q is not absolute", p)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("image: file %s: %w", p, err)
		}
	}
	return nil
}

// Capture builds an image from a live tree and session metadata. The
// root entry is omitted; it is implicit in every filesystem.
func Capture(name string, tree map[string]*node.Node, sess SessionInfo) *DiskImage {
	now := time.Now().UTC()
	img := &DiskImage{
		Version:  FormatVersion,
		Name:     name,
		Created:  now,
		Exported: now,
		Session:  sess,
		Files:    make(map[string]FileEntry, len(tree)),
	}
	for p, n := range tree {
		if p == "/" {
			continue
		}
		img.Files[p] = FileEntry{
			Type:    n.Type,
			Content: n.Content,
			Meta: FileMeta{
				Created:     n.Meta.CreatedAt,
				Modified:    n.Meta.UpdatedAt,
				Permissions: n.Meta.Permissions,
			},
		}
	}
	return img
}

// Nodes converts the image's file entries back into a path-to-node
// map, root included, for wholesale restore.
func (img *DiskImage) Nodes() map[string]*node.Node {
	out := make(map[string]*node.Node, len(img.Files)+1)
	out["/"] = node.NewDirectory("/", "")
	for p, e := range img.Files {
		parent := p[:strings.LastIndex(p, "/")]
		if parent == "" {
			parent = "/"
		}
		n := &node.Node{
			Name:    p[strings.LastIndex(p, "/")+1:],
			Type:    e.Type,
			Parent:  parent,
			Content: e.Content,
			Meta: node.Meta{
				CreatedAt:   e.Meta.Created,
				UpdatedAt:   e.Meta.Modified,
				Permissions: e.Meta.Permissions,
			},
		}
		out[p] = n
	}
	return out
}

// Encode serializes the image as indented JSON.
func (img *DiskImage) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return data, nil
}

// Decode parses and validates an image. Unknown future versions are
// rejected, not migrated.
func Decode(data []byte) (*DiskImage, error) {
	var img DiskImage
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if img.Version > FormatVersion {
		return nil, fmt.Errorf("image: format version %d is newer than supported %d", img.Version, FormatVersion)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("image: invalid: %w", err)
	}
	return &img, nil
}
