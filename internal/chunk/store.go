package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/storage"
)

// PreviewNotifier is the hook the store calls after persisting a chunk, so
// the preview pyramid can schedule the covering tile for regeneration
// (spec.md §4.4's trigger). Kept as an interface so this package doesn't
// depend on the preview package.
type PreviewNotifier interface {
	SchedulePersisted(pos canvas.ChunkPos)
}

// Store owns all resident chunks of one room.
type Store struct {
	storage storage.Storage
	preview PreviewNotifier

	mu     sync.Mutex
	chunks map[canvas.ChunkPos]*Chunk

	// one-slot last-accessed cache for burst access to the same chunk.
	lastPos   canvas.ChunkPos
	lastChunk *Chunk
	lastValid bool

	gcSignal chan struct{}
	stopCh   chan struct{}
	stopped  chan struct{}

	autosaveInterval time.Duration

	statsMu sync.Mutex
	stats   Stats
}

// Stats is a snapshot of store-level counters, consumed by the metrics
// package.
type Stats struct {
	ResidentChunks int
	LastAutosaveN  int
	LastAutosaveMs int64
	GCEvictions    int64
}

// NewStore constructs a chunk store for one room. autosaveInterval
// defaults to 30s when zero, matching spec.md §6's config surface.
func NewStore(store storage.Storage, preview PreviewNotifier, autosaveInterval time.Duration) *Store {
	if autosaveInterval <= 0 {
		autosaveInterval = 30 * time.Second
	}
	return &Store{
		storage:          store,
		preview:          preview,
		chunks:           make(map[canvas.ChunkPos]*Chunk),
		gcSignal:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		stopped:          make(chan struct{}),
		autosaveInterval: autosaveInterval,
	}
}

func (s *Store) GlobalToChunk(p canvas.GlobalPos) canvas.ChunkPos { return canvas.GlobalToChunk(p) }
func (s *Store) GlobalToLocal(p canvas.GlobalPos) canvas.LocalPos { return canvas.GlobalToLocal(p) }

// GetOrLoad returns the resident chunk at pos, loading it from storage (or
// constructing it blank) if necessary. The load happens under the store
// lock, so concurrent callers for the same coordinate single-flight onto
// one load rather than racing two.
func (s *Store) GetOrLoad(ctx context.Context, pos canvas.ChunkPos) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrLoadLocked(ctx, pos)
}

func (s *Store) getOrLoadLocked(ctx context.Context, pos canvas.ChunkPos) (*Chunk, error) {
	if s.lastValid && s.lastPos == pos {
		return s.lastChunk, nil
	}
	if c, ok := s.chunks[pos]; ok {
		s.lastPos, s.lastChunk, s.lastValid = pos, c, true
		return c, nil
	}

	rec, err := s.storage.LoadChunk(ctx, pos)
	var c *Chunk
	switch {
	case err == nil:
		c = New(pos, rec.Compressed, rec.RawSize)
	case err == storage.ErrNotFound:
		c = New(pos, nil, 0)
	default:
		// StorageError per spec.md §7: treated as "chunk not present" (blank).
		slog.Error("chunk store: load failed, treating as blank", "pos", pos, "err", err)
		c = New(pos, nil, 0)
	}
	s.chunks[pos] = c
	s.lastPos, s.lastChunk, s.lastValid = pos, c, true
	return c, nil
}

// Subscribe loads the chunk if needed and adds sub to its subscriber set.
// The load-or-locate and the subscribe happen under the same store-lock
// hold, so this can never interleave with gcOnePass's own locate-check-
// remove sequence: either the subscribe lands before the chunk is
// evicted (so gcOnePass will see it's no longer empty and skip it) or
// after (so the chunk has already been reloaded into a fresh Chunk this
// call returns), never in between.
func (s *Store) Subscribe(ctx context.Context, sub Subscriber, pos canvas.ChunkPos) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getOrLoadLocked(ctx, pos)
	if err != nil {
		return nil, err
	}
	c.Subscribe(sub)
	return c, nil
}

// Unsubscribe removes sub from the chunk at pos, signaling a GC pass if the
// chunk's subscriber set just became empty.
func (s *Store) Unsubscribe(sub Subscriber, pos canvas.ChunkPos) {
	s.mu.Lock()
	c, ok := s.chunks[pos]
	s.mu.Unlock()
	if !ok {
		return
	}
	if c.Unsubscribe(sub) {
		s.signalGC()
	}
}

func (s *Store) signalGC() {
	select {
	case s.gcSignal <- struct{}{}:
	default:
	}
}

// Run starts the background worker (flush/autosave/GC) and blocks until
// Stop is called. Run should be invoked in its own goroutine.
func (s *Store) Run(ctx context.Context) {
	defer close(s.stopped)

	flushTicker := time.NewTicker(time.Second)
	defer flushTicker.Stop()
	autosaveTicker := time.NewTicker(s.autosaveInterval)
	defer autosaveTicker.Stop()
	gcTicker := time.NewTicker(10 * time.Second)
	defer gcTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-flushTicker.C:
			s.flushAll()
		case <-autosaveTicker.C:
			s.autosave(ctx)
		case <-gcTicker.C:
			s.gc()
		case <-s.gcSignal:
			s.gc()
		}
	}
}

// Stop requests the worker to exit and waits for it to do so.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.stopped
}

func (s *Store) flushAll() {
	s.mu.Lock()
	chunks := make([]*Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	s.mu.Unlock()
	for _, c := range chunks {
		c.FlushQueue()
	}
}

// autosave persists every modified resident chunk in one storage
// transaction, matching spec.md §4.2.
func (s *Store) autosave(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	modified := make([]*Chunk, 0)
	total := len(s.chunks)
	for _, c := range s.chunks {
		if c.IsModified() {
			modified = append(modified, c)
		}
	}
	s.mu.Unlock()

	if len(modified) == 0 {
		s.statsMu.Lock()
		s.stats.LastAutosaveN = 0
		s.stats.LastAutosaveMs = time.Since(start).Milliseconds()
		s.statsMu.Unlock()
		slog.Info("chunk store: autosave skipped, nothing modified", "resident", total)
		return
	}

	records := make([]storage.ChunkRecord, 0, len(modified))
	now := time.Now()
	for _, c := range modified {
		compressed, rawSize := c.Encode(true)
		records = append(records, storage.ChunkRecord{
			Pos: c.Position(), Compressed: compressed, RawSize: rawSize,
			Created: now, Modified: now,
		})
	}

	if err := s.storage.SaveChunks(ctx, records); err != nil {
		// StorageError per spec.md §7: the modified flag is not left cleared;
		// Encode(true) already cleared it, so re-mark every chunk dirty so the
		// next autosave retries.
		slog.Error("chunk store: autosave failed, will retry next cycle", "err", err)
		for i, c := range modified {
			c.MarkModifiedAfterFailedSave(records[i].Compressed, records[i].RawSize)
		}
		return
	}

	for _, c := range modified {
		if s.preview != nil {
			s.preview.SchedulePersisted(c.Position())
		}
	}

	s.statsMu.Lock()
	s.stats.LastAutosaveN = len(modified)
	s.stats.LastAutosaveMs = time.Since(start).Milliseconds()
	s.statsMu.Unlock()

	slog.Info("chunk store: autosave complete", "total", total, "saved", len(modified), "ms", time.Since(start).Milliseconds())
}

// gc repeatedly evicts chunks with empty subscriber sets, restarting the
// scan after each removal (spec.md §4.2: "The loop restarts after each
// removal to keep iteration safe and to drain bursts").
func (s *Store) gc() {
	for {
		evicted := s.gcOnePass()
		if !evicted {
			return
		}
	}
}

func (s *Store) gcOnePass() bool {
	s.mu.Lock()
	var victim *Chunk
	var victimPos canvas.ChunkPos
	for pos, c := range s.chunks {
		if c.IsSubscribersEmpty() {
			victim, victimPos = c, pos
			break
		}
	}
	if victim == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.chunks, victimPos)
	if s.lastValid && s.lastPos == victimPos {
		s.lastValid = false
		s.lastChunk = nil
	}
	s.mu.Unlock()

	if !victim.IsSubscribersEmpty() {
		// InvariantBroken per spec.md §7: a subscriber attached between the
		// empty check and removal. This must never happen because both the
		// check and the removal occur under the store lock relative to
		// Subscribe (which also takes the store lock to locate the chunk).
		panic(fmt.Sprintf("chunk store: invariant broken, evicting chunk %+v with live subscribers", victimPos))
	}

	if victim.IsModified() {
		compressed, rawSize := victim.Encode(true)
		now := time.Now()
		if err := s.storage.SaveChunks(context.Background(), []storage.ChunkRecord{{
			Pos: victimPos, Compressed: compressed, RawSize: rawSize, Created: now, Modified: now,
		}}); err != nil {
			slog.Error("chunk store: failed to save chunk before eviction", "pos", victimPos, "err", err)
		} else if s.preview != nil {
			s.preview.SchedulePersisted(victimPos)
		}
	}

	s.statsMu.Lock()
	s.stats.GCEvictions++
	s.statsMu.Unlock()
	return true
}

// ShutdownSave runs the autosave path once, synchronously, for clean
// process shutdown (spec.md §4.2).
func (s *Store) ShutdownSave(ctx context.Context) {
	s.autosave(ctx)
}

// StatsSnapshot returns a copy of the store's counters for /metrics.
func (s *Store) StatsSnapshot() Stats {
	s.mu.Lock()
	resident := len(s.chunks)
	s.mu.Unlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.ResidentChunks = resident
	return st
}
