package vfs

import (
	"fmt"
	"strings"
)

// Normalize collapses a slash-separated path to its canonical absolute
// form: no `.` or empty segments, `..` resolved (never above the
// root), no trailing slash except for the root itself. Relative input
// is treated as rooted at `/`.
func Normalize(p string) string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

// Resolve resolves p against the working directory cwd. It is a pure
// string operation: it never consults the tree and fails only on
// malformed input (a NUL byte), never on a missing target.
func Resolve(cwd, p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("vfs: invalid path %q", p)
	}
	if strings.HasPrefix(p, "/") {
		return Normalize(p), nil
	}
	if cwd == "" || !strings.HasPrefix(cwd, "/") {
		cwd = "/"
	}
	return Normalize(cwd + "/" + p), nil
}

// Dir returns the parent path of a normalized path ("" for the root,
// so that a node's Parent field matches the root-has-no-parent
// invariant).
func Dir(p string) string {
	if p == "/" {
		return ""
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// Base returns the final segment of a normalized path ("/" for the
// root).
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// Join joins segments onto a base path and normalizes the result.
func Join(base string, elem ...string) string {
	return Normalize(base + "/" + strings.Join(elem, "/"))
}

// isWithin reports whether p equals root or lies underneath it.
func isWithin(root, p string) bool {
	if root == "/" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
