package update

import (
	"testing"

	"github.com/starford/tronos/internal/session"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/testutil"
)

func TestTargetReturnsIndependentImages(t *testing.T) {
	a := Target()
	a.Session.Env["HOME"] = "/home/mallory"
	a.Session.Aliases["ll"] = "ls -la"

	b := Target()
	if got := b.Session.Env["HOME"]; got != "/home/tronos" {
		t.Errorf("env shared across images: HOME = %q", got)
	}
	if got := b.Session.Aliases["ll"]; got != "ls -l" {
		t.Errorf("aliases shared across images: ll = %q", got)
	}
}

func TestSeededSessionsDoNotShareEnv(t *testing.T) {
	sessions := session.NewManager(storage.NewMemory(), testutil.Logger())

	a, err := sessions.Create("a", Target())
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := sessions.Create("b", Target())
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	a.Env["HOME"] = "/home/mallory"

	if got := b.Env["HOME"]; got != "/home/tronos" {
		t.Errorf("session b sees a's mutation: HOME = %q", got)
	}
	if got := Target().Session.Env["HOME"]; got != "/home/tronos" {
		t.Errorf("default image sees a session's mutation: HOME = %q", got)
	}
}
