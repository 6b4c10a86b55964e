package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUpdateSumsAcrossRooms(t *testing.T) {
	Update([]RoomSnapshot{
		{SessionCount: 2, ResidentChunks: 10, GCEvictions: 1, LastAutosaveN: 5, LastAutosaveMs: 100, PreviewDepths: []int{1, 2}},
		{SessionCount: 3, ResidentChunks: 20, GCEvictions: 2, LastAutosaveN: 7, LastAutosaveMs: 300, PreviewDepths: []int{4}},
	})

	if got := testutil.ToFloat64(ActiveSessions); got != 5 {
		t.Fatalf("expected ActiveSessions=5, got %v", got)
	}
	if got := testutil.ToFloat64(ResidentChunks); got != 30 {
		t.Fatalf("expected ResidentChunks=30, got %v", got)
	}
	if got := testutil.ToFloat64(ActiveRooms); got != 2 {
		t.Fatalf("expected ActiveRooms=2, got %v", got)
	}
	if got := testutil.ToFloat64(GCEvictions); got != 3 {
		t.Fatalf("expected GCEvictions=3, got %v", got)
	}
	if got := testutil.ToFloat64(LastAutosaveChunks); got != 12 {
		t.Fatalf("expected LastAutosaveChunks=12, got %v", got)
	}
	// The slowest room's autosave (300ms) wins, not the sum.
	if got := testutil.ToFloat64(LastAutosaveDurationSeconds); got != 0.3 {
		t.Fatalf("expected LastAutosaveDurationSeconds=0.3, got %v", got)
	}
	if got := testutil.ToFloat64(PreviewQueueDepth.WithLabelValues("1")); got != 5 {
		t.Fatalf("expected zoom-1 depth=5, got %v", got)
	}
	if got := testutil.ToFloat64(PreviewQueueDepth.WithLabelValues("2")); got != 2 {
		t.Fatalf("expected zoom-2 depth=2, got %v", got)
	}
}

func TestUpdateWithNoRoomsZeroesGauges(t *testing.T) {
	Update([]RoomSnapshot{{SessionCount: 1}})
	Update(nil)

	if got := testutil.ToFloat64(ActiveSessions); got != 0 {
		t.Fatalf("expected ActiveSessions=0 after an empty snapshot, got %v", got)
	}
	if got := testutil.ToFloat64(ActiveRooms); got != 0 {
		t.Fatalf("expected ActiveRooms=0 after an empty snapshot, got %v", got)
	}
}
