package preview

import "github.com/olekolek1000/multipixel/internal/canvas"

// queue is a deduplicating FIFO of tile positions pending regeneration.
// Enqueueing a position already queued is a no-op, per spec.md §4.4.
type queue struct {
	pending map[canvas.ChunkPos]struct{}
	order   []canvas.ChunkPos
}

func newQueue() *queue {
	return &queue{pending: make(map[canvas.ChunkPos]struct{})}
}

func (q *queue) enqueue(pos canvas.ChunkPos) {
	if _, ok := q.pending[pos]; ok {
		return
	}
	q.pending[pos] = struct{}{}
	q.order = append(q.order, pos)
}

func (q *queue) dequeue() (canvas.ChunkPos, bool) {
	if len(q.order) == 0 {
		return canvas.ChunkPos{}, false
	}
	pos := q.order[0]
	q.order = q.order[1:]
	delete(q.pending, pos)
	return pos, true
}

func (q *queue) len() int {
	return len(q.order)
}
