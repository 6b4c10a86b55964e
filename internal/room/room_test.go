package room

import (
	"context"
	"testing"
	"time"

	"github.com/olekolek1000/multipixel/internal/extension"
	"github.com/olekolek1000/multipixel/internal/session"
	"github.com/olekolek1000/multipixel/internal/storage"
)

// fakeConn satisfies session.Conn without ever producing inbound frames;
// these tests drive Room directly and don't need the session's own
// protocol engine running.
type fakeConn struct{}

func (fakeConn) ReadMessage() ([]byte, error) { select {} }
func (fakeConn) WriteMessage([]byte) error    { return nil }
func (fakeConn) Close() error                 { return nil }

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	r, err := New(context.Background(), "testroom", storage.NewMemStorage(), time.Hour, nil)
	if err != nil {
		t.Fatalf("room.New: %v", err)
	}
	return r
}

func TestJoinAssignsSmallestFreeID(t *testing.T) {
	r := newTestRoom(t)

	s0 := session.New(fakeConn{}, r)
	s1 := session.New(fakeConn{}, r)
	s2 := session.New(fakeConn{}, r)

	id0, _, _ := r.Join(s0)
	id1, _, _ := r.Join(s1)
	if id0 != 0 || id1 != 1 {
		t.Fatalf("expected ids 0,1, got %d,%d", id0, id1)
	}

	r.Leave(s0)

	id2, _, _ := r.Join(s2)
	if id2 != 0 {
		t.Fatalf("expected freed id 0 to be reused, got %d", id2)
	}
	if r.SessionCount() != 2 {
		t.Fatalf("expected 2 sessions resident, got %d", r.SessionCount())
	}
}

func TestJoinReturnsExistingPeers(t *testing.T) {
	r := newTestRoom(t)

	s0 := session.New(fakeConn{}, r)
	id0, _, err := r.Join(s0)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	_ = id0

	s1 := session.New(fakeConn{}, r)
	_, peers, err := r.Join(s1)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != id0 {
		t.Fatalf("expected one peer with id %d, got %+v", id0, peers)
	}
}

func TestExtensionHostDefaultsToNop(t *testing.T) {
	r := newTestRoom(t)
	if _, ok := r.ExtensionHost().(extension.NopHost); !ok {
		t.Fatalf("expected NopHost when none supplied, got %T", r.ExtensionHost())
	}
}
