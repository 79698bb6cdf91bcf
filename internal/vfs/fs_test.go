package vfs

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/storage"
)

func testFS(t *testing.T) (*FS, *storage.Memory) {
	t.Helper()
	backend := storage.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs, err := New("test-ns", backend, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fs, backend
}

func TestRootAlwaysExists(t *testing.T) {
	fs, _ := testFS(t)
	if !fs.IsDir("/") {
		t.Fatal("root directory missing")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, _ := testFS(t)
	if err := fs.Write("/hello.txt", "greetings, program"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := fs.Read("/hello.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "greetings, program" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteOverwriteUpdatesMeta(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/f.txt", "one")
	before, _ := fs.Stat("/f.txt")
	_ = fs.Write("/f.txt", "two")
	after, _ := fs.Stat("/f.txt")
	if after.Meta.UpdatedAt.Before(before.Meta.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}
	if got, _ := fs.Read("/f.txt"); got != "two" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteMissingParent(t *testing.T) {
	fs, _ := testFS(t)
	err := fs.Write("/nope/f.txt", "x")
	if !errors.Is(err, apperr.ErrNoSuchParent) {
		t.Errorf("err = %v, want ErrNoSuchParent", err)
	}
}

func TestReadErrors(t *testing.T) {
	fs, _ := testFS(t)
	if _, err := fs.Read("/missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file: err = %v, want ErrNotFound", err)
	}
	_ = fs.Mkdir("/dir", false)
	if _, err := fs.Read("/dir"); !errors.Is(err, apperr.ErrIsADirectory) {
		t.Errorf("directory: err = %v, want ErrIsADirectory", err)
	}
}

func TestMkdirRecursive(t *testing.T) {
	fs, _ := testFS(t)
	if err := fs.Mkdir("/a/b/c", true); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if !fs.IsDir(p) {
			t.Errorf("%s is not a directory", p)
		}
	}
}

func TestMkdirErrors(t *testing.T) {
	fs, _ := testFS(t)
	if err := fs.Mkdir("/x/y", false); !errors.Is(err, apperr.ErrNoSuchParent) {
		t.Errorf("missing ancestor: err = %v, want ErrNoSuchParent", err)
	}
	_ = fs.Mkdir("/x", false)
	if err := fs.Mkdir("/x", false); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate: err = %v, want ErrAlreadyExists", err)
	}
}

func TestRemoveFile(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/gone.txt", "bye")
	if err := fs.Remove("/gone.txt", false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.Exists("/gone.txt") {
		t.Error("file still exists")
	}
}

func TestRemoveDirectoryNotEmpty(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/d", false)
	_ = fs.Write("/d/f.txt", "x")
	if err := fs.Remove("/d", false); !errors.Is(err, apperr.ErrNotEmpty) {
		t.Errorf("err = %v, want ErrNotEmpty", err)
	}
}

func TestRemoveRecursiveLeavesNoDescendants(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/d/sub/deep", true)
	_ = fs.Write("/d/f.txt", "x")
	_ = fs.Write("/d/sub/deep/g.txt", "y")
	if err := fs.Remove("/d", true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for p := range fs.Tree() {
		if p != "/" && isWithin("/d", p) {
			t.Errorf("descendant %s survived", p)
		}
	}
	if fs.Exists("/d") {
		t.Error("directory still exists")
	}
}

func TestCopyFile(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/src.txt", "payload")
	if err := fs.Copy("/src.txt", "/dst.txt", false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if got, _ := fs.Read("/dst.txt"); got != "payload" {
		t.Errorf("dest content = %q", got)
	}
	if got, _ := fs.Read("/src.txt"); got != "payload" {
		t.Error("source changed")
	}
}

func TestCopyIntoExistingDirectoryNests(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/src.txt", "payload")
	_ = fs.Mkdir("/dir", false)
	if err := fs.Copy("/src.txt", "/dir", false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if got, _ := fs.Read("/dir/src.txt"); got != "payload" {
		t.Errorf("nested content = %q", got)
	}
}

func TestCopyNonEmptyDirectoryNeedsRecursive(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/d", false)
	_ = fs.Write("/d/f.txt", "x")
	if err := fs.Copy("/d", "/d2", false); err == nil {
		t.Error("expected omit-directory error")
	}
	if err := fs.Copy("/d", "/d2", true); err != nil {
		t.Fatalf("recursive Copy: %v", err)
	}
	if got, _ := fs.Read("/d2/f.txt"); got != "x" {
		t.Errorf("copied content = %q", got)
	}
}

func TestCopyExistingDestination(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/a.txt", "a")
	_ = fs.Write("/b.txt", "b")
	if err := fs.Copy("/a.txt", "/b.txt", false); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestMoveFile(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/old.txt", "data")
	if err := fs.Move("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if fs.Exists("/old.txt") {
		t.Error("old path still exists")
	}
	if got, _ := fs.Read("/new.txt"); got != "data" {
		t.Errorf("content = %q", got)
	}
}

func TestMoveDirectorySubtree(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/proj/src", true)
	_ = fs.Write("/proj/src/main.trx", "code")
	if err := fs.Move("/proj", "/archive"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got, _ := fs.Read("/archive/src/main.trx"); got != "code" {
		t.Errorf("moved content = %q", got)
	}
	if fs.Exists("/proj") || fs.Exists("/proj/src/main.trx") {
		t.Error("old subtree survived")
	}
}

func TestMoveIntoExistingDirectoryNests(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/f.txt", "x")
	_ = fs.Mkdir("/dir", false)
	if err := fs.Move("/f.txt", "/dir"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if !fs.IsFile("/dir/f.txt") {
		t.Error("file not nested under directory")
	}
}

func TestMoveDirectoryIntoItself(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/d/sub", true)
	if err := fs.Move("/d", "/d/sub"); err == nil {
		t.Error("expected error moving directory into itself")
	}
}

func TestListSorted(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/b.txt", "")
	_ = fs.Write("/a.txt", "")
	_ = fs.Mkdir("/c", false)
	names, err := fs.List("/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a.txt", "b.txt", "c"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestListOnFile(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/f.txt", "")
	if _, err := fs.List("/f.txt"); !errors.Is(err, apperr.ErrNotADirectory) {
		t.Errorf("err = %v, want ErrNotADirectory", err)
	}
}

func TestListDetailed(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Write("/f.txt", "body")
	nodes, err := fs.ListDetailed("/")
	if err != nil {
		t.Fatalf("ListDetailed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "f.txt" || nodes[0].Content != "body" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestSyncRoundTripsThroughBackend(t *testing.T) {
	fs, backend := testFS(t)
	_ = fs.Mkdir("/home/tronos", true)
	_ = fs.Write("/home/tronos/.profile", "export PATH=/bin")
	if err := fs.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reloaded, err := New("test-ns", backend, logger)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, _ := reloaded.Read("/home/tronos/.profile"); got != "export PATH=/bin" {
		t.Errorf("reloaded content = %q", got)
	}
}

func TestParentPointerInvariant(t *testing.T) {
	fs, _ := testFS(t)
	_ = fs.Mkdir("/a/b", true)
	_ = fs.Write("/a/b/f.txt", "x")
	_ = fs.Move("/a/b", "/moved")
	for p, n := range fs.Tree() {
		if p == "/" {
			continue
		}
		parent := Dir(p)
		if n.Parent != parent {
			t.Errorf("%s: Parent = %q, want %q", p, n.Parent, parent)
		}
		if !fs.IsDir(parent) {
			t.Errorf("%s: parent %s is not a directory", p, parent)
		}
	}
}
