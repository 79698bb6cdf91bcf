package session

import (
	"errors"
	"testing"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/node"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/testutil"
	"github.com/starford/tronos/internal/vfs"
)

func seedImage() *image.DiskImage {
	tree := map[string]*node.Node{
		"/":         node.NewDirectory("/", ""),
		"/etc":      node.NewDirectory("etc", "/"),
		"/etc/motd": node.NewFile("motd", "/etc", "welcome"),
	}
	img := image.Capture("seed", tree, image.SessionInfo{
		Env:     map[string]string{"USER": "tronos"},
		Aliases: map[string]string{"ll": "ls -l"},
	})
	return img
}

func TestCreateSeedsFilesystem(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, testutil.Logger())

	sess, err := m.Create("main", seedImage())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" || sess.FSNamespace == "" {
		t.Fatalf("session missing identity: %+v", sess)
	}
	if sess.Env["USER"] != "tronos" {
		t.Errorf("env not seeded: %v", sess.Env)
	}

	fs, err := vfs.New(sess.FSNamespace, backend, testutil.Logger())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	if got, _ := fs.Read("/etc/motd"); got != "welcome" {
		t.Errorf("seeded content = %q", got)
	}
}

func TestCreateWithoutSeed(t *testing.T) {
	m := NewManager(storage.NewMemory(), testutil.Logger())
	sess, err := m.Create("empty", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Env == nil || sess.Aliases == nil {
		t.Error("maps must be initialized")
	}
}

func TestListAndGet(t *testing.T) {
	m := NewManager(storage.NewMemory(), testutil.Logger())
	a, _ := m.Create("a", nil)
	_, _ = m.Create("b", nil)

	sessions, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions", len(sessions))
	}

	got, err := m.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "a" {
		t.Errorf("name = %q", got.Name)
	}

	if _, err := m.Get("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTouchAdvancesLastAccess(t *testing.T) {
	m := NewManager(storage.NewMemory(), testutil.Logger())
	sess, _ := m.Create("a", nil)
	before := sess.LastAccess
	if err := m.Touch(sess); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if sess.LastAccess.Before(before) {
		t.Error("LastAccess went backwards")
	}
}

func TestDeleteCascades(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, testutil.Logger())
	sess, _ := m.Create("doomed", seedImage())

	if err := m.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(sess.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("session survived: %v", err)
	}
	fsMap, _ := backend.LoadFilesystem(sess.FSNamespace)
	if len(fsMap) != 0 {
		t.Error("namespace files survived cascade")
	}
}

func TestRestoreReplacesWholesale(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, testutil.Logger())
	sess, _ := m.Create("main", seedImage())

	fs, err := vfs.New(sess.FSNamespace, backend, testutil.Logger())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	_ = fs.Write("/stray.txt", "user file")
	sess.History = append(sess.History, "echo drift")

	if err := m.Restore(sess, fs, seedImage()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fs.Exists("/stray.txt") {
		t.Error("restore must replace, not merge")
	}
	if got, _ := fs.Read("/etc/motd"); got != "welcome" {
		t.Errorf("restored content = %q", got)
	}
	if len(sess.History) != 0 {
		t.Errorf("history = %v, want the image's empty history", sess.History)
	}
}

func TestCreateCopiesSeedMetadata(t *testing.T) {
	m := NewManager(storage.NewMemory(), testutil.Logger())
	seed := seedImage()

	a, err := m.Create("a", seed)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := m.Create("b", seed)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	a.Env["HOME"] = "/home/mallory"
	a.Aliases["rm"] = "rm -rf /"

	if got := b.Env["HOME"]; got != "" {
		t.Errorf("session b env leaked from a: HOME = %q", got)
	}
	if got := b.Aliases["rm"]; got != "" {
		t.Errorf("session b aliases leaked from a: rm = %q", got)
	}
	if got := seed.Session.Env["HOME"]; got != "" {
		t.Errorf("seed image env mutated through a: HOME = %q", got)
	}
}

func TestRestoreCopiesImageMetadata(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, testutil.Logger())

	sess, err := m.Create("main", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fs, err := vfs.New(sess.FSNamespace, backend, testutil.Logger())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}

	img := seedImage()
	if err := m.Restore(sess, fs, img); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	sess.Env["HOME"] = "/home/mallory"
	if got := img.Session.Env["HOME"]; got != "" {
		t.Errorf("image env mutated through restored session: HOME = %q", got)
	}
}
