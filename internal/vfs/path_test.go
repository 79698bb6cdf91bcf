package vfs

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/a/b/c", "/a/b/c"},
		{"/a/b/c/", "/a/b/c"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/../..", "/"},
		{"a/b", "/a/b"},
		{"/home/tronos/..", "/home"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		cwd  string
		in   string
		want string
	}{
		{"/home/tronos", "notes.txt", "/home/tronos/notes.txt"},
		{"/home/tronos", "../shared", "/home/shared"},
		{"/home/tronos", "/etc/motd", "/etc/motd"},
		{"/home/tronos", ".", "/home/tronos"},
		{"/", "..", "/"},
		{"", "docs", "/docs"},
	}
	for _, c := range cases {
		got, err := Resolve(c.cwd, c.in)
		if err != nil {
			t.Fatalf("Resolve(%q, %q): %v", c.cwd, c.in, err)
		}
		if got != c.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", c.cwd, c.in, got, c.want)
		}
	}
}

func TestResolveRejectsNulByte(t *testing.T) {
	if _, err := Resolve("/", "bad\x00path"); err == nil {
		t.Error("expected error for NUL byte in path")
	}
}

func TestResolveNeverChecksExistence(t *testing.T) {
	// Resolution is pure: a path to nowhere still resolves.
	got, err := Resolve("/no/such/dir", "ghost.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/no/such/dir/ghost.txt" {
		t.Errorf("got %q", got)
	}
}

func TestDirBase(t *testing.T) {
	if Dir("/a/b") != "/a" || Dir("/a") != "/" || Dir("/") != "" {
		t.Error("Dir mismatch")
	}
	if Base("/a/b") != "b" || Base("/") != "/" {
		t.Error("Base mismatch")
	}
}
