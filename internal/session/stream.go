package session

import (
	"context"
	"math"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/chunk"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

// maxInflightChunks bounds how many chunks may be sent to a client before
// it acknowledges (via chunks_received) receiving earlier ones, grounded
// on the original engine's boundary streaming backpressure.
const maxInflightChunks = 40

// outOfBoundaryGraceSeconds is how many consecutive once-per-second ticks
// a linked chunk may sit outside the session's boundary before it is
// unsubscribed.
const outOfBoundaryGraceSeconds = 5

// expireOutOfBoundaryChunks runs once per second: any linked chunk that
// has sat outside the current boundary for outOfBoundaryGraceSeconds ticks
// is unsubscribed, freeing the session (and, eventually, the store) to
// drop it.
func (s *Session) expireOutOfBoundaryChunks() {
	s.mu.Lock()
	var toUnlink []*chunk.Chunk
	b := s.boundary
	for _, lc := range s.linked {
		pos := lc.chunk.Position()
		if b.Zoom <= minZoom || pos.Y < b.StartY || pos.Y > b.EndY || pos.X < b.StartX || pos.X > b.EndX {
			lc.outsideBoundaryTicks++
			if lc.outsideBoundaryTicks == outOfBoundaryGraceSeconds {
				toUnlink = append(toUnlink, lc.chunk)
			}
		} else {
			lc.outsideBoundaryTicks = 0
		}
	}
	s.mu.Unlock()

	for _, c := range toUnlink {
		s.unsubscribeChunk(c)
	}
}

func (s *Session) unsubscribeChunk(c *chunk.Chunk) {
	s.host.ChunkStore().Unsubscribe(s, c.Position())
	s.PushPacket(protocol.ChunkRemove(c.Position()))
	s.unlinkChunk(c)
}

// performBoundaryTest diffs the session's boundary against its linked
// chunks and subscribes to whatever is missing, closest-first, up to the
// inflight cap.
func (s *Session) performBoundaryTest() {
	s.mu.Lock()
	if !s.needsBoundaryTest {
		s.mu.Unlock()
		return
	}
	s.needsBoundaryTest = false
	b := s.boundary
	cur := s.cursorCur

	var missing []canvas.ChunkPos
	if b.Zoom > minZoom {
		for y := b.StartY; y < b.EndY; y++ {
			for x := b.StartX; x < b.EndX; x++ {
				pos := canvas.ChunkPos{X: x, Y: y}
				if !s.isChunkLinkedLocked(pos) {
					missing = append(missing, pos)
				}
			}
		}
	}
	inflight := int64(s.chunksSent) - int64(s.chunksReceived)
	s.mu.Unlock()

	if len(missing) == 0 {
		return
	}

	toSend := int64(maxInflightChunks) - inflight
	centerX := float64(cur.X) / float64(canvas.ChunkSize)
	centerY := float64(cur.Y) / float64(canvas.ChunkSize)

	for toSend > 0 && len(missing) > 0 {
		closestIdx := closestTo(missing, centerX, centerY)
		pos := missing[closestIdx]
		missing = append(missing[:closestIdx], missing[closestIdx+1:]...)

		c, err := s.host.ChunkStore().Subscribe(context.Background(), s, pos)
		if err != nil {
			continue
		}
		s.linkChunk(c)

		s.mu.Lock()
		s.chunksSent++
		s.mu.Unlock()

		toSend--
	}

	if len(missing) > 0 {
		s.mu.Lock()
		s.needsBoundaryTest = true
		s.mu.Unlock()
	}
}

func closestTo(positions []canvas.ChunkPos, cx, cy float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, p := range positions {
		dx := float64(p.X) - cx
		dy := float64(p.Y) - cy
		d := dx*dx + dy*dy
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
