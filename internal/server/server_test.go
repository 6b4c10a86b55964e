package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/olekolek1000/multipixel/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{
		Open: func(string) (storage.Storage, error) {
			return storage.NewMemStorage(), nil
		},
		AutosaveInterval: time.Hour,
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", w.Body.String())
	}
}

func TestGetOrCreateRoomReusesExistingByName(t *testing.T) {
	s := newTestServer(t)
	defer s.Shutdown(context.Background())

	r1, err := s.getOrCreateRoom("alpha")
	if err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}
	r2, err := s.getOrCreateRoom("alpha")
	if err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected the same room instance for the same name")
	}

	r3, err := s.getOrCreateRoom("beta")
	if err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}
	if r3 == r1 {
		t.Fatalf("expected a distinct room for a distinct name")
	}

	if len(s.Rooms()) != 2 {
		t.Fatalf("expected 2 resident rooms, got %d", len(s.Rooms()))
	}
}

// TestShutdownDrainsWithoutDeadlock guards the ordering fixed during
// development: Stop must be called on every room before waiting on the
// server's WaitGroup, or the wait blocks forever on workers nothing ever
// signals to exit.
func TestShutdownDrainsWithoutDeadlock(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.getOrCreateRoom("alpha"); err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}
	if _, err := s.getOrCreateRoom("beta"); err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Shutdown did not return; likely deadlocked")
	}
}

func TestSnapshotRoomsCountsSessionsAcrossRooms(t *testing.T) {
	s := newTestServer(t)
	defer s.Shutdown(context.Background())

	if _, err := s.getOrCreateRoom("alpha"); err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}
	if _, err := s.getOrCreateRoom("beta"); err != nil {
		t.Fatalf("getOrCreateRoom: %v", err)
	}

	snaps := s.snapshotRooms()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 room snapshots, got %d", len(snaps))
	}
}
