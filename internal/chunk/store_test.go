package chunk

import (
	"context"
	"testing"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/protocol"
	"github.com/olekolek1000/multipixel/internal/storage"
)

type fakePreview struct {
	scheduled []canvas.ChunkPos
}

func (f *fakePreview) SchedulePersisted(pos canvas.ChunkPos) {
	f.scheduled = append(f.scheduled, pos)
}

func TestGetOrLoadReturnsBlankWhenNotInStorage(t *testing.T) {
	st := NewStore(storage.NewMemStorage(), nil, 0)
	c, err := st.GetOrLoad(context.Background(), canvas.ChunkPos{X: 3, Y: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	col := c.GetPixel(canvas.LocalPos{X: 0, Y: 0})
	if col != canvas.BlankColor {
		t.Fatalf("expected blank chunk, got %+v", col)
	}
}

func TestGetOrLoadSingleFlightReturnsSameChunk(t *testing.T) {
	st := NewStore(storage.NewMemStorage(), nil, 0)
	pos := canvas.ChunkPos{X: 1, Y: 1}
	c1, _ := st.GetOrLoad(context.Background(), pos)
	c2, _ := st.GetOrLoad(context.Background(), pos)
	if c1 != c2 {
		t.Fatalf("expected the same chunk instance on repeated GetOrLoad")
	}
}

func TestAutosaveIdempotence(t *testing.T) {
	mem := storage.NewMemStorage()
	st := NewStore(mem, nil, 0)
	pos := canvas.ChunkPos{X: 0, Y: 0}
	c, _ := st.GetOrLoad(context.Background(), pos)

	st.autosave(context.Background())
	if st.StatsSnapshot().LastAutosaveN != 0 {
		t.Fatalf("expected no saves for an unmodified chunk")
	}

	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.Color{R: 9}})
	if !c.IsModified() {
		t.Fatalf("expected chunk modified after write")
	}
	st.autosave(context.Background())
	if st.StatsSnapshot().LastAutosaveN != 1 {
		t.Fatalf("expected exactly one chunk saved")
	}
	if c.IsModified() {
		t.Fatalf("expected modified flag cleared after successful autosave")
	}

	// Second autosave with nothing new to save must not rewrite it.
	st.autosave(context.Background())
	if st.StatsSnapshot().LastAutosaveN != 0 {
		t.Fatalf("expected second autosave to save nothing")
	}
}

func TestAutosaveSchedulesPreviewRegeneration(t *testing.T) {
	mem := storage.NewMemStorage()
	fp := &fakePreview{}
	st := NewStore(mem, fp, 0)
	pos := canvas.ChunkPos{X: 2, Y: 2}
	c, _ := st.GetOrLoad(context.Background(), pos)
	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.Color{R: 9}})
	st.autosave(context.Background())
	if len(fp.scheduled) != 1 || fp.scheduled[0] != pos {
		t.Fatalf("expected preview regeneration scheduled for %+v, got %+v", pos, fp.scheduled)
	}
}

func TestGCEvictsOnlyChunksWithNoSubscribers(t *testing.T) {
	mem := storage.NewMemStorage()
	st := NewStore(mem, nil, 0)

	emptyPos := canvas.ChunkPos{X: 0, Y: 0}
	subscribedPos := canvas.ChunkPos{X: 1, Y: 0}

	st.GetOrLoad(context.Background(), emptyPos)
	subChunk, _ := st.GetOrLoad(context.Background(), subscribedPos)
	sub := &fakeSub{id: 1}
	subChunk.Subscribe(sub)

	st.gc()

	if _, ok := st.chunks[emptyPos]; ok {
		t.Fatalf("expected unsubscribed chunk to be evicted")
	}
	if _, ok := st.chunks[subscribedPos]; !ok {
		t.Fatalf("expected subscribed chunk to survive GC")
	}
}

func TestGCSavesModifiedChunkBeforeEviction(t *testing.T) {
	mem := storage.NewMemStorage()
	st := NewStore(mem, nil, 0)
	pos := canvas.ChunkPos{X: 5, Y: 5}
	c, _ := st.GetOrLoad(context.Background(), pos)
	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.Color{R: 7}})

	st.gc()

	if _, err := mem.LoadChunk(context.Background(), pos); err != nil {
		t.Fatalf("expected modified chunk to be persisted before eviction: %v", err)
	}
}
