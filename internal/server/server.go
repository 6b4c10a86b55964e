// Package server exposes the canvas engine over HTTP: one websocket upgrade
// route shared by all rooms (each connection names its room in its announce
// packet), plus health and metrics endpoints, wired the way the
// teacher's cmd/four server wires gorilla/mux and httpsnoop.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olekolek1000/multipixel/internal/extension"
	"github.com/olekolek1000/multipixel/internal/metrics"
	"github.com/olekolek1000/multipixel/internal/room"
	"github.com/olekolek1000/multipixel/internal/session"
	"github.com/olekolek1000/multipixel/internal/storage"
)

// StorageOpener returns a fresh storage.Storage for a room name, lazily
// invoked on that room's first announce. Production wires this to
// storage.Open against a per-room sqlite file; tests can pass a closure
// over storage.NewMemStorage.
type StorageOpener func(roomName string) (storage.Storage, error)

// Config bundles the Server's construction-time parameters.
type Config struct {
	Open             StorageOpener
	AutosaveInterval time.Duration
	ExtensionHost    extension.Host
}

// Server hosts every currently-open room, creating them lazily on first
// connection and tearing them down on shutdown, mirroring the way the
// original engine's Server owned one Room per canvas name.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room.Room
	wg    sync.WaitGroup
}

// New constructs a Server from cfg. A nil cfg.Open is invalid; callers
// must supply a way to materialize storage for a room name.
func New(cfg Config) *Server {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 30 * time.Second
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room.Room),
	}
}

// Router builds the mux.Router the caller hands to http.Server, with the
// same request-logging middleware shape as the teacher's server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			slog.Info("handled", "method", req.Method, "url", req.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealthz)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWebsocket)
	return r
}

// RunMetricsCollector periodically snapshots every open room's stats into
// the metrics package's gauges, until ctx is canceled.
func (s *Server) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Update(s.snapshotRooms())
		}
	}
}

func (s *Server) snapshotRooms() []metrics.RoomSnapshot {
	rooms := s.Rooms()
	out := make([]metrics.RoomSnapshot, 0, len(rooms))
	for _, rm := range rooms {
		stats := rm.ChunkStore().StatsSnapshot()
		out = append(out, metrics.RoomSnapshot{
			SessionCount:   rm.SessionCount(),
			ResidentChunks: stats.ResidentChunks,
			GCEvictions:    stats.GCEvictions,
			LastAutosaveN:  stats.LastAutosaveN,
			LastAutosaveMs: stats.LastAutosaveMs,
			PreviewDepths:  rm.Preview().QueueDepths(),
		})
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebsocket upgrades the connection and runs one session to
// completion. The room a session joins is decided by its announce packet,
// not the URL (every websocket connects to the same endpoint and names
// its room in-band), so the first frame is peeked for its room name
// before the session (which binds to one room.Room for its whole life,
// same as the original engine's Session::room) is constructed; the peeked
// frame is then replayed to the session so it still sees its own
// announce.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	wc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("server: websocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{conn: wc}

	roomName, first, err := peekAnnouncedRoom(conn)
	if err != nil {
		_ = conn.Close()
		return
	}

	rm, err := s.getOrCreateRoom(roomName)
	if err != nil {
		slog.Error("server: failed to open room", "room", roomName, "err", err)
		_ = conn.Close()
		return
	}

	sess := session.New(&replayConn{Conn: conn, first: first}, rm)

	s.wg.Add(1)
	defer s.wg.Done()
	sess.Run(r.Context())
}

// getOrCreateRoom returns the resident room for name, opening its storage
// and starting its background workers on first use.
func (s *Server) getOrCreateRoom(name string) (*room.Room, error) {
	s.mu.Lock()
	if rm, ok := s.rooms[name]; ok {
		s.mu.Unlock()
		return rm, nil
	}
	s.mu.Unlock()

	store, err := s.cfg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("server: failed to open storage for room %q: %w", name, err)
	}

	rm, err := room.New(context.Background(), name, store, s.cfg.AutosaveInterval, s.cfg.ExtensionHost)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.rooms[name]; ok {
		// Lost a race with another connection opening the same room first.
		// rm.Run was never started for our copy, so there's nothing to stop;
		// just drop it and close the storage handle we opened.
		s.mu.Unlock()
		_ = store.Close()
		return existing, nil
	}
	s.rooms[name] = rm
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rm.Run(context.Background())
	}()

	slog.Info("server: room opened", "room", name)
	return rm, nil
}

// Rooms returns a snapshot of the resident room list, used by /metrics.
func (s *Server) Rooms() []*room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*room.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		out = append(out, rm)
	}
	return out
}

// Shutdown stops every resident room's background workers, waits for
// in-flight sessions and those workers to drain, then persists every
// room's modified chunks synchronously. Callers should close the
// http.Server (so websocket reads start failing and session goroutines
// exit) before calling Shutdown.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	rooms := make([]*room.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()

	for _, rm := range rooms {
		rm.Stop()
	}
	s.wg.Wait()

	for _, rm := range rooms {
		rm.Shutdown(ctx)
	}
}
