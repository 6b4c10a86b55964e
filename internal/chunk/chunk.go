// Package chunk implements the resident 256x256 tile: pixel storage,
// compression caching, and the subscriber fanout that broadcasts edits.
package chunk

import (
	"fmt"
	"sync"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/codec"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

// pixelBytes is the size of one chunk's raw RGB buffer.
const pixelBytes = canvas.ChunkSize * canvas.ChunkSize * 3

// maxQueuedPixels is the bulk-override threshold from spec.md §4.1/§9: a
// tunable constant, not derived from measurement.
const maxQueuedPixels = 5000

// Subscriber is the non-owning handle a chunk holds for each interested
// session (spec.md §9 "Cyclic ownership session<->chunk"): the chunk never
// owns a session, it only pushes packets to it by this interface.
type Subscriber interface {
	SessionID() uint16
	PushPacket(packet []byte)
}

// Chunk is the authoritative store for one tile's pixels.
type Chunk struct {
	position canvas.ChunkPos

	mu sync.Mutex

	pixels           []byte // lazily allocated, len==pixelBytes when present
	compressedCache  []byte
	compressedRaw    int
	modified         bool
	everMaterialized bool // loaded or written since construction

	subscribers map[uint16]Subscriber

	queuedOutgoing []protocol.PixelRecord
	bulkOverride   bool
}

// New constructs a chunk from a previously-saved compressed blob, or a
// blank chunk if compressed is nil (spec.md §4.2 "empty record => blank
// chunk").
func New(pos canvas.ChunkPos, compressed []byte, rawSize int) *Chunk {
	c := &Chunk{position: pos, subscribers: make(map[uint16]Subscriber)}
	if compressed != nil {
		c.compressedCache = compressed
		c.compressedRaw = rawSize
		c.everMaterialized = true
	}
	return c
}

func (c *Chunk) Position() canvas.ChunkPos {
	return c.position
}

// ensurePixelsLocked materializes the pixel buffer from the compressed
// cache, or as blank if there is none yet. Must be called with mu held.
func (c *Chunk) ensurePixelsLocked() error {
	if c.pixels != nil {
		return nil
	}
	c.pixels = make([]byte, pixelBytes)
	c.everMaterialized = true
	if c.compressedCache == nil {
		for i := 0; i < pixelBytes; i += 3 {
			c.pixels[i] = canvas.BlankColor.R
			c.pixels[i+1] = canvas.BlankColor.G
			c.pixels[i+2] = canvas.BlankColor.B
		}
		return nil
	}
	raw, err := codec.Decompress(c.compressedCache, c.compressedRaw)
	if err != nil {
		// CorruptChunk per spec.md §7: fatal for this chunk, fall back to blank.
		c.compressedCache = nil
		for i := 0; i < pixelBytes; i += 3 {
			c.pixels[i] = canvas.BlankColor.R
			c.pixels[i+1] = canvas.BlankColor.G
			c.pixels[i+2] = canvas.BlankColor.B
		}
		return fmt.Errorf("chunk %+v: %w", c.position, err)
	}
	copy(c.pixels, raw)
	return nil
}

func (c *Chunk) offset(l canvas.LocalPos) int {
	return (int(l.Y)*canvas.ChunkSize + int(l.X)) * 3
}

// GetPixel reads the current color, materializing the pixel buffer if
// needed.
func (c *Chunk) GetPixel(l canvas.LocalPos) canvas.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ensurePixelsLocked()
	o := c.offset(l)
	return canvas.Color{R: c.pixels[o], G: c.pixels[o+1], B: c.pixels[o+2]}
}

// Subscribe adds session to the subscriber set and immediately pushes the
// chunk-create announcement plus the current full image, per spec.md
// §4.1's "subscribe packet sequence: chunk-create, then full-image, then
// pixel-packs" (spec.md §5). Idempotent.
func (c *Chunk) Subscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[sub.SessionID()]; ok {
		return
	}
	c.subscribers[sub.SessionID()] = sub
	sub.PushPacket(protocol.ChunkCreate(c.position))
	sub.PushPacket(c.encodeImagePacketLocked())
}

// Unsubscribe removes session. Returns true if the subscriber set is now
// empty (the caller should signal the store to consider GC). Idempotent.
func (c *Chunk) Unsubscribe(sub Subscriber) (emptyNow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, sub.SessionID())
	return len(c.subscribers) == 0
}

// IsSubscribersEmpty reports whether anyone is currently subscribed.
func (c *Chunk) IsSubscribersEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers) == 0
}

// encodeImagePacketLocked builds a full chunk_image packet from the
// current state. mu must be held.
func (c *Chunk) encodeImagePacketLocked() []byte {
	compressed, rawSize := c.encodeLocked()
	return protocol.ChunkImage(c.position, uint32(rawSize), compressed)
}

// encodeLocked returns the compressed bytes and the raw (uncompressed)
// size, computing and caching it if necessary. mu must be held.
//
// A chunk that has never been materialized (never loaded from storage,
// never written to) reuses the shared blankCompressedChunk singleton
// instead of allocating and compressing a full white buffer, mirroring
// the original engine's new_chunk-gated getEmptyChunk().
func (c *Chunk) encodeLocked() ([]byte, int) {
	if c.compressedCache != nil {
		return c.compressedCache, c.compressedRaw
	}
	if !c.everMaterialized {
		c.compressedCache, c.compressedRaw = blankCompressedChunk()
		return c.compressedCache, c.compressedRaw
	}
	_ = c.ensurePixelsLocked()
	c.compressedCache = codec.Compress(c.pixels)
	c.compressedRaw = len(c.pixels)
	return c.compressedCache, c.compressedRaw
}

var (
	blankCompressedOnce sync.Once
	blankCompressed     []byte
	blankCompressedRaw  int
)

// blankCompressedChunk returns the LZ4-compressed all-white chunk image,
// computed once and shared by every never-materialized chunk.
func blankCompressedChunk() ([]byte, int) {
	blankCompressedOnce.Do(func() {
		raw := make([]byte, pixelBytes)
		for i := 0; i < pixelBytes; i++ {
			raw[i] = 255
		}
		blankCompressed = codec.Compress(raw)
		blankCompressedRaw = pixelBytes
	})
	return blankCompressed, blankCompressedRaw
}

func (c *Chunk) broadcastLocked(packet []byte) {
	for _, sub := range c.subscribers {
		sub.PushPacket(packet)
	}
}

// WritePixelsImmediate applies pixels and broadcasts a single
// chunk_pixel_pack to every subscriber right away, bypassing the periodic
// queue. Used for the brush tool's "live" writes so history/undo is
// recorded deterministically per spec.md §4.3.
//
// Returns the subset of pixels that actually changed color, in the order
// given, so the caller can build an undo snapshot from the pre-image.
func (c *Chunk) WritePixelsImmediate(pixels []protocol.PixelRecord) []PreWriteColor {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ensurePixelsLocked()

	changed := make([]protocol.PixelRecord, 0, len(pixels))
	pre := make([]PreWriteColor, 0, len(pixels))
	for _, px := range pixels {
		o := c.offset(px.Pos)
		old := canvas.Color{R: c.pixels[o], G: c.pixels[o+1], B: c.pixels[o+2]}
		if old == px.Color {
			continue // no-op write: spec.md §8 property 2
		}
		c.pixels[o], c.pixels[o+1], c.pixels[o+2] = px.Color.R, px.Color.G, px.Color.B
		changed = append(changed, px)
		pre = append(pre, PreWriteColor{Pos: px.Pos, Color: old})
	}
	if len(changed) == 0 {
		return pre
	}
	c.setModifiedLocked(true)
	raw := protocol.EncodePixelPack(changed)
	compressed := codec.Compress(raw)
	c.broadcastLocked(protocol.ChunkPixelPack(c.position, uint32(len(changed)), uint32(len(raw)), compressed))
	return pre
}

// PreWriteColor records a pixel's color immediately before an edit, used
// to build undo snapshots.
type PreWriteColor struct {
	Pos   canvas.LocalPos
	Color canvas.Color
}

// QueuePixel applies one pixel immediately but defers its broadcast to the
// next flush tick, batching many small writes (e.g. floodfill) into one
// packet. Returns the pre-write color, or nil if the write was a no-op.
func (c *Chunk) QueuePixel(px protocol.PixelRecord) *PreWriteColor {
	return firstOrNil(c.QueuePixels([]protocol.PixelRecord{px}))
}

// QueuePixels is the batch form of QueuePixel.
func (c *Chunk) QueuePixels(pixels []protocol.PixelRecord) []PreWriteColor {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ensurePixelsLocked()

	pre := make([]PreWriteColor, 0, len(pixels))
	for _, px := range pixels {
		o := c.offset(px.Pos)
		old := canvas.Color{R: c.pixels[o], G: c.pixels[o+1], B: c.pixels[o+2]}
		if old == px.Color {
			continue
		}
		c.pixels[o], c.pixels[o+1], c.pixels[o+2] = px.Color.R, px.Color.G, px.Color.B
		pre = append(pre, PreWriteColor{Pos: px.Pos, Color: old})

		if c.bulkOverride {
			continue // already decided to resend full tile; don't grow the queue
		}
		c.queuedOutgoing = append(c.queuedOutgoing, px)
		if len(c.queuedOutgoing) > maxQueuedPixels {
			// Bulk-override tie-break (spec.md §4.1 (b)): deterministic, fires
			// exactly when the queue would exceed the threshold.
			c.queuedOutgoing = nil
			c.bulkOverride = true
		}
	}
	if len(pre) > 0 {
		c.setModifiedLocked(true)
	}
	return pre
}

func firstOrNil(pre []PreWriteColor) *PreWriteColor {
	if len(pre) == 0 {
		return nil
	}
	return &pre[0]
}

// FlushQueue emits the queued delta pack (or the full tile if
// bulk-override was set) to every subscriber and clears the queue.
func (c *Chunk) FlushQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushQueueLocked()
}

func (c *Chunk) flushQueueLocked() {
	if len(c.subscribers) == 0 {
		c.queuedOutgoing = nil
		c.bulkOverride = false
		return
	}
	if c.bulkOverride {
		c.broadcastLocked(c.encodeImagePacketLocked())
		c.bulkOverride = false
		c.queuedOutgoing = nil
		return
	}
	if len(c.queuedOutgoing) == 0 {
		return
	}
	raw := protocol.EncodePixelPack(c.queuedOutgoing)
	compressed := codec.Compress(raw)
	c.broadcastLocked(protocol.ChunkPixelPack(c.position, uint32(len(c.queuedOutgoing)), uint32(len(raw)), compressed))
	c.queuedOutgoing = nil
}

func (c *Chunk) setModifiedLocked(m bool) {
	c.modified = m
	if m {
		c.compressedCache = nil // invariant (a): modified => no cached compression
	}
}

// IsModified reports whether the chunk has unsaved edits.
func (c *Chunk) IsModified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modified
}

// MarkModifiedAfterFailedSave re-marks a chunk dirty after Encode(true)
// already cleared its flag but the subsequent storage write failed
// (spec.md §7 StorageError: "the modified flag is not cleared so the next
// autosave retries"). The freed pixel buffer is not restored: the next
// Encode returns the compressedCache passed in here as is, and the next
// read or write decompresses the pixels from it.
func (c *Chunk) MarkModifiedAfterFailedSave(compressed []byte, rawSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modified = true
	c.compressedCache = compressed
	c.compressedRaw = rawSize
}

// Encode returns the compressed tile. If clearModified is set, it also
// clears the modified flag and frees the in-memory pixel buffer, matching
// spec.md §4.1: "drops the in-memory pixel buffer (freeable)". The caller
// (the store's autosave/GC path) is responsible for scheduling preview
// regeneration afterward.
func (c *Chunk) Encode(clearModified bool) (compressed []byte, rawSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	compressed, rawSize = c.encodeLocked()
	if clearModified {
		c.modified = false
		c.pixels = nil
	}
	return compressed, rawSize
}
