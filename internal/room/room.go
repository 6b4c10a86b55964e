// Package room owns one canvas: its chunk store, preview pyramid, storage
// handle, and the set of sessions currently connected to it. It is the Go
// analogue of the original engine's Room, stripped of the plugin-manager
// and database-path bookkeeping the spec scopes out.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olekolek1000/multipixel/internal/chunk"
	"github.com/olekolek1000/multipixel/internal/extension"
	"github.com/olekolek1000/multipixel/internal/preview"
	"github.com/olekolek1000/multipixel/internal/protocol"
	"github.com/olekolek1000/multipixel/internal/session"
	"github.com/olekolek1000/multipixel/internal/storage"
)

// Room owns the chunk store, preview pyramid, and live session set for one
// canvas. Its name is the value the client's announce packet names; the
// server keys its room registry by this same string.
type Room struct {
	name    string
	store   storage.Storage
	chunks  *chunk.Store
	prev    *preview.System
	ext     extension.Host
	masks   *session.MaskCache

	mu       sync.Mutex
	sessions map[uint16]*session.Session

	stopCh  chan struct{}
	stopped chan struct{}
}

// New constructs a room backed by store, seeding the preview pyramid from
// whatever chunks already exist there (mirroring the original engine's
// startup-time database.foreachChunk walk). autosaveInterval is forwarded
// to the chunk store; zero selects its default.
func New(ctx context.Context, name string, store storage.Storage, autosaveInterval time.Duration, ext extension.Host) (*Room, error) {
	if ext == nil {
		ext = extension.NopHost{}
	}

	prev := preview.New(store, preview.DefaultLevels)

	existing, err := store.ListChunkPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("room %s: failed to list existing chunks: %w", name, err)
	}
	prev.SeedFromExisting(existing)

	r := &Room{
		name:     name,
		store:    store,
		chunks:   chunk.NewStore(store, prev, autosaveInterval),
		prev:     prev,
		ext:      ext,
		masks:    session.NewMaskCache(),
		sessions: make(map[uint16]*session.Session),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	return r, nil
}

// Name returns the room's identifying name, as given at construction.
func (r *Room) Name() string { return r.name }

func (r *Room) ChunkStore() *chunk.Store      { return r.chunks }
func (r *Room) Preview() *preview.System      { return r.prev }
func (r *Room) ExtensionHost() extension.Host { return r.ext }
func (r *Room) MaskCache() *session.MaskCache { return r.masks }

var _ session.RoomHost = (*Room)(nil)

// Run starts the room's background workers (chunk store autosave/GC/flush,
// preview pyramid regeneration) and blocks until ctx is canceled or Stop is
// called.
func (r *Room) Run(ctx context.Context) {
	defer close(r.stopped)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.chunks.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.prev.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-r.stopCh:
	}
	r.chunks.Stop()
	r.prev.Stop()
	wg.Wait()
}

// Stop requests the room's workers to exit and waits for them to do so.
func (r *Room) Stop() {
	close(r.stopCh)
	<-r.stopped
}

// Shutdown persists every modified chunk synchronously, for clean process
// exit (spec.md §4.2's ShutdownSave contract, called once per room).
func (r *Room) Shutdown(ctx context.Context) {
	r.chunks.ShutdownSave(ctx)
}

// SessionCount returns the number of sessions currently joined, used to
// populate the room's metrics.RoomSnapshot.
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Join assigns s the smallest session id not currently in use and returns
// the set of already-joined peers for the new session's roster, matching
// the original engine's findFreeSessionID_nolock scan.
func (r *Room) Join(s *session.Session) (uint16, []session.PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint16
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id++
	}

	others := make([]session.PeerInfo, 0, len(r.sessions))
	for otherID, other := range r.sessions {
		others = append(others, session.PeerInfo{ID: otherID, Nickname: other.Nickname()})
	}

	r.sessions[id] = s
	slog.Info("room: session joined", "room", r.name, "id", id, "count", len(r.sessions))
	return id, others, nil
}

// Leave removes s from the room's session set and tells every remaining
// session to drop it from their roster, matching
// Room::removeSession_nolock's broadcast of user_remove.
func (r *Room) Leave(s *session.Session) {
	r.mu.Lock()
	id := s.ID()
	if current, ok := r.sessions[id]; !ok || current != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	remaining := make([]*session.Session, 0, len(r.sessions))
	for _, other := range r.sessions {
		remaining = append(remaining, other)
	}
	r.mu.Unlock()

	slog.Info("room: session left", "room", r.name, "id", id)

	packet := protocol.UserRemove(id)
	for _, other := range remaining {
		other.PushPacket(packet)
	}
}

// Broadcast pushes packet to every joined session except exceptID (or to
// everyone, if exceptID is session.BroadcastToAll), matching
// Room::broadcast_nolock.
func (r *Room) Broadcast(packet []byte, exceptID uint16) {
	r.mu.Lock()
	targets := make([]*session.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == exceptID {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.PushPacket(packet)
	}
}
