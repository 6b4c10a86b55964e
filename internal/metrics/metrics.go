// Package metrics exposes Prometheus instrumentation for the canvas
// engine: resident chunk counts, live sessions, autosave timing, and
// preview pyramid queue depth, sourced from the chunk store and preview
// system's own stats snapshots.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResidentChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_resident_chunks",
		Help: "Total number of chunks currently resident in memory across all rooms",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_active_rooms",
		Help: "Current number of open rooms",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_active_sessions",
		Help: "Current number of joined sessions across all rooms",
	})

	GCEvictions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_gc_evictions",
		Help: "Cumulative number of chunks evicted from memory for having no subscribers",
	})

	LastAutosaveChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_last_autosave_chunks",
		Help: "Number of chunks written by the most recent autosave pass, summed across rooms",
	})

	LastAutosaveDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multipixel_last_autosave_duration_seconds",
		Help: "Wall-clock duration of the slowest room's most recent autosave pass",
	})

	PreviewQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "multipixel_preview_queue_depth",
		Help: "Pending tile count per preview pyramid zoom level, summed across rooms",
	}, []string{"zoom"})
)

// RoomSnapshot is the subset of a room's stats metrics cares about. Kept
// narrow so this package doesn't need to import the room package (which
// in turn pulls in chunk/preview/session); the server collects these at
// its own pace and calls Update.
type RoomSnapshot struct {
	SessionCount    int
	ResidentChunks  int
	GCEvictions     int64
	LastAutosaveN   int
	LastAutosaveMs  int64
	PreviewDepths   []int // index i is zoom level i+1
}

// Update recomputes every gauge from a fresh snapshot of every open room.
// GC evictions (cumulative per room) and last-autosave chunk counts are
// summed across rooms; the autosave duration is the slowest room's most
// recent pass.
func Update(rooms []RoomSnapshot) {
	var residentChunks, sessions int
	var gcEvictions int64
	var autosaveChunks int
	var slowestAutosaveMs int64
	depthSums := make(map[int]int)

	for _, r := range rooms {
		residentChunks += r.ResidentChunks
		sessions += r.SessionCount
		gcEvictions += r.GCEvictions
		autosaveChunks += r.LastAutosaveN
		if r.LastAutosaveMs > slowestAutosaveMs {
			slowestAutosaveMs = r.LastAutosaveMs
		}
		for i, depth := range r.PreviewDepths {
			depthSums[i+1] += depth
		}
	}

	ResidentChunks.Set(float64(residentChunks))
	ActiveRooms.Set(float64(len(rooms)))
	ActiveSessions.Set(float64(sessions))
	GCEvictions.Set(float64(gcEvictions))
	LastAutosaveChunks.Set(float64(autosaveChunks))
	LastAutosaveDurationSeconds.Set(float64(slowestAutosaveMs) / 1000)

	for zoom, depth := range depthSums {
		PreviewQueueDepth.WithLabelValues(strconv.Itoa(zoom)).Set(float64(depth))
	}
}
