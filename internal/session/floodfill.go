package session

import (
	"time"

	"github.com/olekolek1000/multipixel/internal/canvas"
)

// floodfillMaxDistance bounds how far a fill may travel from its origin
// in either axis, grounded on the original engine's flood fill guard
// against unbounded regions eating the server.
const floodfillMaxDistance = 300

// floodfillSliceBudget is how long one tick may spend advancing a flood
// fill before yielding back to the session loop.
const floodfillSliceBudget = 50 * time.Millisecond

// triggerFloodfill starts a new fill at the current cursor position, if
// one isn't already running and the click landed on a color different
// from the tool color.
func (s *Session) triggerFloodfill() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flood.processing || !s.cursorJustClicked {
		return
	}

	cur := s.cursorCur
	if !s.isChunkLinkedLocked(canvas.GlobalToChunk(cur)) {
		return
	}
	col, ok := s.getPixelGlobalLocked(cur)
	if !ok {
		return
	}
	if col == s.tool.Color {
		return
	}

	s.flood = floodfillState{
		processing: true,
		toReplace:  col,
		stack:      []canvas.GlobalPos{cur},
		affected:   make(map[canvas.ChunkPos]struct{}),
		startX:     cur.X,
		startY:     cur.Y,
	}
}

// tickFloodfill advances an in-progress fill by up to floodfillSliceBudget
// of wall time, then yields. Finished fills flush every affected chunk's
// queue so viewers see the result immediately instead of waiting for the
// next periodic flush.
func (s *Session) tickFloodfill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flood.processing {
		return
	}

	start := time.Now()
	count := 0
	for len(s.flood.stack) > 0 {
		count++
		cell := s.flood.stack[len(s.flood.stack)-1]
		s.flood.stack = s.flood.stack[:len(s.flood.stack)-1]

		if abs32(s.flood.startX-cell.X) > floodfillMaxDistance || abs32(s.flood.startY-cell.Y) > floodfillMaxDistance {
			continue
		}

		s.setPixelQueuedLocked(cell)

		s.tryPushFloodCell(canvas.GlobalPos{X: cell.X - 1, Y: cell.Y})
		s.tryPushFloodCell(canvas.GlobalPos{X: cell.X + 1, Y: cell.Y})
		s.tryPushFloodCell(canvas.GlobalPos{X: cell.X, Y: cell.Y - 1})
		s.tryPushFloodCell(canvas.GlobalPos{X: cell.X, Y: cell.Y + 1})

		s.flood.affected[canvas.GlobalToChunk(cell)] = struct{}{}

		if count%500 == 0 && time.Since(start) > floodfillSliceBudget {
			return
		}
	}

	s.flood.processing = false
	for cp := range s.flood.affected {
		if c := s.getChunkCachedLocked(cp); c != nil {
			c.FlushQueue()
		}
	}
	s.flood.affected = nil
}

func (s *Session) tryPushFloodCell(pos canvas.GlobalPos) {
	col, ok := s.getPixelGlobalLocked(pos)
	if !ok {
		return
	}
	if col == s.tool.Color {
		return
	}
	if col != s.flood.toReplace {
		return
	}
	s.flood.stack = append(s.flood.stack, pos)
}

// setPixelQueuedLocked is the single-pixel, queued form of
// setPixelsGlobalLocked; flood fill calls it per cell rather than batching the
// whole fill into one slice, matching the original engine's per-cell write.
func (s *Session) setPixelQueuedLocked(pos canvas.GlobalPos) {
	s.setPixelsGlobalLocked([]GlobalPixel{{Pos: pos, Color: s.tool.Color}}, true)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
