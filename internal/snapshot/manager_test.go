package snapshot

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/starford/tronos/internal/apperr"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/node"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/testutil"
)

func testImage(name string) *image.DiskImage {
	tree := map[string]*node.Node{
		"/":      node.NewDirectory("/", ""),
		"/f.txt": node.NewFile("f.txt", "/", "content of "+name),
	}
	return image.Capture(name, tree, image.SessionInfo{})
}

func TestCreateAndGet(t *testing.T) {
	m := NewManager(storage.NewMemory(), 5, testutil.Logger())
	if err := m.Create("s1", "before-refactor", testImage("before-refactor"), CreateOptions{Description: "manual"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, img, err := m.Get("s1", "before-refactor")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.IsAuto {
		t.Error("manual snapshot flagged auto")
	}
	if img.Files["/f.txt"].Content != "content of before-refactor" {
		t.Error("image content lost")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	m := NewManager(storage.NewMemory(), 5, testutil.Logger())
	_ = m.Create("s1", "dup", testImage("dup"), CreateOptions{})
	err := m.Create("s1", "dup", testImage("dup"), CreateOptions{})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestNamesAreScopedPerSession(t *testing.T) {
	m := NewManager(storage.NewMemory(), 5, testutil.Logger())
	if err := m.Create("s1", "same", testImage("same"), CreateOptions{}); err != nil {
		t.Fatalf("Create s1: %v", err)
	}
	if err := m.Create("s2", "same", testImage("same"), CreateOptions{}); err != nil {
		t.Errorf("same name in another session should be fine: %v", err)
	}
}

func TestRetentionEvictsOldestAutoOnly(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, 3, testutil.Logger())

	// Manual snapshot first; it must survive every eviction.
	if err := m.Create("s1", "keep-me", testImage("keep-me"), CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Backdate auto snapshots so eviction order is unambiguous.
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := storage.SnapshotRecord{
			SessionID: "s1",
			Name:      fmt.Sprintf("%s%03d", AutoPrefix, i),
			IsAuto:    true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Image:     []byte(`{"version":1,"name":"x","files":{}}`),
		}
		if err := backend.SaveSnapshot(rec); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	if err := m.EnforceLimit("s1"); err != nil {
		t.Fatalf("EnforceLimit: %v", err)
	}

	recs, _ := m.List("s1")
	var auto, manual []string
	for _, rec := range recs {
		if rec.IsAuto {
			auto = append(auto, rec.Name)
		} else {
			manual = append(manual, rec.Name)
		}
	}
	if len(auto) != 3 {
		t.Fatalf("auto snapshots = %v, want 3 survivors", auto)
	}
	// The survivors are the newest three.
	if auto[0] != AutoPrefix+"002" || auto[2] != AutoPrefix+"004" {
		t.Errorf("wrong survivors: %v", auto)
	}
	if len(manual) != 1 || manual[0] != "keep-me" {
		t.Errorf("manual snapshot was touched: %v", manual)
	}
}

func TestLatestPreUpdate(t *testing.T) {
	backend := storage.NewMemory()
	m := NewManager(backend, 5, testutil.Logger())

	if _, err := m.LatestPreUpdate("s1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("empty session: err = %v, want ErrNotFound", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_ = backend.SaveSnapshot(storage.SnapshotRecord{
			SessionID: "s1",
			Name:      fmt.Sprintf("%s%03d", AutoPrefix, i),
			IsAuto:    true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Image:     []byte("{}"),
		})
	}
	rec, err := m.LatestPreUpdate("s1")
	if err != nil {
		t.Fatalf("LatestPreUpdate: %v", err)
	}
	if rec.Name != AutoPrefix+"002" {
		t.Errorf("latest = %s", rec.Name)
	}
}
