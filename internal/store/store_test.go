package store

import (
	"path/filepath"
	"testing"

	"bumble/internal/memory"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conversations.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTest(t)

	if err := s.CreateSession("s1", "First"); err != nil {
		t.Fatal(err)
	}
	msgs := []memory.Message{
		memory.User("hello"),
		memory.Assistant("hi there"),
		memory.Tool("cat", "Observation from cat: body"),
	}
	for _, m := range msgs {
		if err := s.SaveMessage("s1", m); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.LoadMessages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}
	if loaded[0].Role != memory.RoleUser || loaded[0].Content != "hello" {
		t.Errorf("first message mangled: %+v", loaded[0])
	}
	if loaded[2].Role != memory.RoleTool || loaded[2].Tool != "cat" {
		t.Errorf("tool attribution lost: %+v", loaded[2])
	}
}

func TestStoreCreateSessionIdempotent(t *testing.T) {
	s := openTest(t)
	if err := s.CreateSession("s1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession("s1", "b"); err != nil {
		t.Fatalf("repeat create should be a no-op, got %v", err)
	}
}

func TestStoreLatestSession(t *testing.T) {
	s := openTest(t)
	if got, err := s.LatestSession(); err != nil || got != "" {
		t.Fatalf("empty store should have no latest session, got %q err %v", got, err)
	}
	if err := s.CreateSession("a", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession("b", ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.LatestSession()
	if err != nil {
		t.Fatal(err)
	}
	if got != "b" {
		t.Errorf("latest should be b, got %q", got)
	}
}

func TestStoreListSessions(t *testing.T) {
	s := openTest(t)
	if err := s.CreateSession("a", "Alpha"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage("a", memory.User("x")); err != nil {
		t.Fatal(err)
	}
	infos, err := s.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ID != "a" || infos[0].Messages != 1 {
		t.Errorf("unexpected listing %+v", infos)
	}
}
