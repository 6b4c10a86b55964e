package preview

import (
	"context"
	"testing"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/codec"
	"github.com/olekolek1000/multipixel/internal/storage"
)

func saveSolidChunk(t *testing.T, store storage.Storage, pos canvas.ChunkPos, col canvas.Color) {
	t.Helper()
	raw := make([]byte, tileBytes)
	for i := 0; i < tileBytes; i += 3 {
		raw[i], raw[i+1], raw[i+2] = col.R, col.G, col.B
	}
	compressed := codec.Compress(raw)
	if err := store.SaveChunks(context.Background(), []storage.ChunkRecord{{
		Pos: pos, Compressed: compressed, RawSize: len(raw),
	}}); err != nil {
		t.Fatalf("failed to seed chunk: %v", err)
	}
}

func TestRegenerateAveragesFourChunks(t *testing.T) {
	store := storage.NewMemStorage()
	saveSolidChunk(t, store, canvas.ChunkPos{X: 0, Y: 0}, canvas.Color{R: 0, G: 0, B: 0})
	saveSolidChunk(t, store, canvas.ChunkPos{X: 1, Y: 0}, canvas.Color{R: 100, G: 100, B: 100})
	// (0,1) and (1,1) are left missing -> contribute white (255,255,255).

	sys := New(store, 2)
	if err := sys.regenerate(context.Background(), canvas.ChunkPos{X: 0, Y: 0}, 1); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	rec, err := sys.GetTile(context.Background(), canvas.ChunkPos{X: 0, Y: 0}, 1)
	if err != nil {
		t.Fatalf("expected tile to exist: %v", err)
	}
	raw, err := codec.Decompress(rec.Compressed, rec.RawSize)
	if err != nil {
		t.Fatalf("failed to decompress generated tile: %v", err)
	}
	// Top-left corner of the composite is purely from the (0,0) source.
	if raw[0] != 0 {
		t.Fatalf("expected top-left pixel derived from black source, got %d", raw[0])
	}
	// Bottom-right quadrant is purely white (missing source).
	bottomRightOffset := ((canvas.ChunkSize - 1) * canvas.ChunkSize + (canvas.ChunkSize - 1)) * 3
	if raw[bottomRightOffset] != 255 {
		t.Fatalf("expected bottom-right pixel to be white from missing source, got %d", raw[bottomRightOffset])
	}
}

func TestSchedulePersistedCascadesOneEnqueuePerLevel(t *testing.T) {
	store := storage.NewMemStorage()
	sys := New(store, 3)
	sys.SchedulePersisted(canvas.ChunkPos{X: 4, Y: 4})
	if depths := sys.QueueDepths(); depths[0] != 1 {
		t.Fatalf("expected exactly one tile queued at level 1, got %v", depths)
	}

	sys.tick(context.Background())
	depths := sys.QueueDepths()
	if depths[0] != 0 {
		t.Fatalf("expected level 1 queue drained after tick, got %d", depths[0])
	}
	if depths[1] != 1 {
		t.Fatalf("expected exactly one cascade enqueue at level 2, got %v", depths)
	}
}

func TestEnqueueDedupes(t *testing.T) {
	store := storage.NewMemStorage()
	sys := New(store, 2)
	pos := canvas.ChunkPos{X: 1, Y: 1}
	sys.SchedulePersisted(canvas.ChunkPos{X: pos.X * 2, Y: pos.Y * 2})
	sys.SchedulePersisted(canvas.ChunkPos{X: pos.X*2 + 1, Y: pos.Y * 2})
	if depths := sys.QueueDepths(); depths[0] != 1 {
		t.Fatalf("expected the two persists mapping to the same tile to dedupe, got %v", depths)
	}
}

func TestNegativeCoordinatesMapToCorrectParentTile(t *testing.T) {
	store := storage.NewMemStorage()
	sys := New(store, 2)
	sys.SchedulePersisted(canvas.ChunkPos{X: -1, Y: -1})
	// floor(-1/2) == -1
	sys.mu.Lock()
	_, ok := sys.layers[0].pending[canvas.ChunkPos{X: -1, Y: -1}]
	sys.mu.Unlock()
	if !ok {
		t.Fatalf("expected chunk (-1,-1) to schedule preview tile (-1,-1)")
	}
}
