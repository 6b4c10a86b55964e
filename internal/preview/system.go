// Package preview implements the downsampled tile pyramid: each level
// averages four tiles from the level below into one, cascading upward as
// chunks are persisted.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/codec"
	"github.com/olekolek1000/multipixel/internal/storage"
)

// DefaultLevels is the pyramid depth (zoom 1..4) from spec.md §4.4.
const DefaultLevels = 4

const tileBytes = canvas.ChunkSize * canvas.ChunkSize * 3

// System maintains the bounded pyramid for one room.
type System struct {
	storage storage.Storage
	levels  uint8

	mu     sync.Mutex
	layers []*queue // layers[0] is zoom 1, layers[i] is zoom i+1

	stopCh  chan struct{}
	stopped chan struct{}
}

// New constructs a preview pyramid of the given depth (zoom 1..levels)
// backed by storage.
func New(store storage.Storage, levels uint8) *System {
	if levels == 0 {
		levels = DefaultLevels
	}
	layers := make([]*queue, levels)
	for i := range layers {
		layers[i] = newQueue()
	}
	return &System{
		storage: store,
		levels:  levels,
		layers:  layers,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SchedulePersisted enqueues the zoom-1 tile covering a just-persisted
// chunk, per spec.md §4.4's trigger. Floor-division so negative chunk
// coordinates map to the correct covering tile.
func (s *System) SchedulePersisted(pos canvas.ChunkPos) {
	s.enqueue(1, canvas.ChunkPos{X: canvas.FloorDiv(pos.X, 2), Y: canvas.FloorDiv(pos.Y, 2)})
}

func (s *System) enqueue(zoom uint8, pos canvas.ChunkPos) {
	if zoom < 1 || int(zoom) > len(s.layers) {
		return
	}
	s.mu.Lock()
	s.layers[zoom-1].enqueue(pos)
	s.mu.Unlock()
}

// SeedFromExisting enqueues the zoom-1 covering tile of every given chunk
// position; the upper levels follow through the normal cascade. room.New
// calls it on every startup, so a room reopened from a populated database
// rebuilds its previews instead of waiting for the next write to each
// chunk. positions is supplied by the caller (the chunk
// store or room knows which chunk coordinates exist; this package has no
// chunk-enumeration capability of its own).
func (s *System) SeedFromExisting(positions []canvas.ChunkPos) {
	for _, p := range positions {
		s.SchedulePersisted(p)
	}
}

// Run processes at most one tile per layer per tick, bottom layer first so
// it can make progress before upper layers (spec.md §4.4 "Rate").
func (s *System) Run(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(50 * time.Millisecond) // 20 Hz, matching the session tick rate
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *System) Stop() {
	close(s.stopCh)
	<-s.stopped
}

func (s *System) tick(ctx context.Context) {
	// Take at most one position from every layer before regenerating any, so
	// a cascade enqueued by this tick's lower-layer work waits for the next
	// tick.
	positions := make([]canvas.ChunkPos, len(s.layers))
	present := make([]bool, len(s.layers))
	s.mu.Lock()
	for i, l := range s.layers {
		positions[i], present[i] = l.dequeue()
	}
	s.mu.Unlock()

	for i, pos := range positions {
		zoom := uint8(i + 1)
		if !present[i] {
			continue
		}
		if err := s.regenerate(ctx, pos, zoom); err != nil {
			slog.Error("preview: failed to regenerate tile", "pos", pos, "zoom", zoom, "err", err)
		}
	}
}

// QueueDepths reports the pending tile count per layer, used by /metrics
// and by tests asserting the single-enqueue-per-level property.
func (s *System) QueueDepths() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.len()
	}
	return out
}

// regenerate composites the four source tiles at zoom-1 (or real chunks,
// for zoom==1) into one 256x256 tile, stores it, and cascades an enqueue
// to zoom+1.
func (s *System) regenerate(ctx context.Context, pos canvas.ChunkPos, zoom uint8) error {
	children := [4]canvas.ChunkPos{
		{X: pos.X * 2, Y: pos.Y * 2},
		{X: pos.X*2 + 1, Y: pos.Y * 2},
		{X: pos.X * 2, Y: pos.Y*2 + 1},
		{X: pos.X*2 + 1, Y: pos.Y*2 + 1},
	}

	var sources [4][]byte
	for i, c := range children {
		tile, err := s.loadSourceTile(ctx, c, zoom)
		if err != nil {
			return err
		}
		sources[i] = tile
	}

	composite := compose512(sources)
	downsampled := downsample2x(composite)

	compressed := codec.Compress(downsampled)
	if err := s.storage.SavePreview(ctx, storage.PreviewRecord{
		Pos: pos, Zoom: zoom, Compressed: compressed, RawSize: len(downsampled),
	}); err != nil {
		return fmt.Errorf("preview: failed to save tile %+v z%d: %w", pos, zoom, err)
	}

	if int(zoom)+1 <= len(s.layers) {
		s.enqueue(zoom+1, canvas.ChunkPos{X: canvas.FloorDiv(pos.X, 2), Y: canvas.FloorDiv(pos.Y, 2)})
	}
	return nil
}

// loadSourceTile returns the raw 256x256x3 buffer for one of the four
// inputs to a regeneration, or a blank white block if missing, per
// spec.md §4.4 "Missing sources contribute a white 256x256 block".
func (s *System) loadSourceTile(ctx context.Context, pos canvas.ChunkPos, zoom uint8) ([]byte, error) {
	var compressed []byte
	var rawSize int

	if zoom == 1 {
		rec, err := s.storage.LoadChunk(ctx, pos)
		switch err {
		case nil:
			compressed, rawSize = rec.Compressed, rec.RawSize
		case storage.ErrNotFound:
			return whiteTile(), nil
		default:
			slog.Error("preview: failed to load source chunk, treating as blank", "pos", pos, "err", err)
			return whiteTile(), nil
		}
	} else {
		rec, err := s.storage.LoadPreview(ctx, pos, zoom-1)
		switch err {
		case nil:
			compressed, rawSize = rec.Compressed, rec.RawSize
		case storage.ErrNotFound:
			return whiteTile(), nil
		default:
			slog.Error("preview: failed to load source preview, treating as blank", "pos", pos, "zoom", zoom-1, "err", err)
			return whiteTile(), nil
		}
	}

	raw, err := codec.Decompress(compressed, rawSize)
	if err != nil {
		slog.Error("preview: corrupt source tile, treating as blank", "pos", pos, "zoom", zoom, "err", err)
		return whiteTile(), nil
	}
	return raw, nil
}

func whiteTile() []byte {
	out := make([]byte, tileBytes)
	for i := 0; i < tileBytes; i += 3 {
		out[i] = canvas.BlankColor.R
		out[i+1] = canvas.BlankColor.G
		out[i+2] = canvas.BlankColor.B
	}
	return out
}

// compose512 arranges the four 256x256 sources (top-left, top-right,
// bottom-left, bottom-right) into one 512x512 RGB buffer.
func compose512(sources [4][]byte) []byte {
	const size = canvas.ChunkSize
	const big = size * 2
	out := make([]byte, big*big*3)
	place := func(src []byte, ox, oy int) {
		for y := 0; y < size; y++ {
			srcRow := src[y*size*3 : y*size*3+size*3]
			dstOff := ((oy+y)*big + ox) * 3
			copy(out[dstOff:dstOff+size*3], srcRow)
		}
	}
	place(sources[0], 0, 0)
	place(sources[1], size, 0)
	place(sources[2], 0, size)
	place(sources[3], size, size)
	return out
}

// downsample2x averages each 2x2 block of a 512x512 buffer into one pixel
// of a 256x256 result.
func downsample2x(src []byte) []byte {
	const big = canvas.ChunkSize * 2
	const small = canvas.ChunkSize
	out := make([]byte, small*small*3)
	for y := 0; y < small; y++ {
		for x := 0; x < small; x++ {
			var r, g, b int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					o := ((y*2+dy)*big + (x*2 + dx)) * 3
					r += int(src[o])
					g += int(src[o+1])
					b += int(src[o+2])
				}
			}
			o := (y*small + x) * 3
			out[o] = uint8(r / 4)
			out[o+1] = uint8(g / 4)
			out[o+2] = uint8(b / 4)
		}
	}
	return out
}

// GetTile returns the compressed tile at (pos,zoom) for a client preview
// request, or storage.ErrNotFound if it hasn't been generated yet.
func (s *System) GetTile(ctx context.Context, pos canvas.ChunkPos, zoom uint8) (storage.PreviewRecord, error) {
	return s.storage.LoadPreview(ctx, pos, zoom)
}
