package chunk

import (
	"sort"
	"testing"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/codec"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

type fakeSub struct {
	id      uint16
	packets [][]byte
}

func (f *fakeSub) SessionID() uint16        { return f.id }
func (f *fakeSub) PushPacket(p []byte)      { f.packets = append(f.packets, p) }

func TestNoOpWriteDoesNotMarkModifiedOrBroadcast(t *testing.T) {
	c := New(canvas.ChunkPos{}, nil, 0)
	sub := &fakeSub{id: 1}
	c.Subscribe(sub)
	sub.packets = nil // discard the initial chunk_create + chunk_image

	pre := c.WritePixelsImmediate([]protocol.PixelRecord{
		{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.BlankColor},
	})
	if len(pre) != 0 {
		t.Fatalf("expected no pre-write records for a no-op write, got %d", len(pre))
	}
	if c.IsModified() {
		t.Fatalf("no-op write should not mark modified")
	}
	if len(sub.packets) != 0 {
		t.Fatalf("no-op write should not broadcast, got %d packets", len(sub.packets))
	}
}

func TestBroadcastIntegrityAcrossSubscribers(t *testing.T) {
	c := New(canvas.ChunkPos{}, nil, 0)
	subs := []*fakeSub{{id: 1}, {id: 2}, {id: 3}}
	for _, s := range subs {
		c.Subscribe(s)
		s.packets = nil
	}

	writes := []protocol.PixelRecord{
		{Pos: canvas.LocalPos{X: 0, Y: 0}, Color: canvas.Color{R: 1, G: 2, B: 3}},
		{Pos: canvas.LocalPos{X: 5, Y: 6}, Color: canvas.Color{R: 9, G: 9, B: 9}},
		{Pos: canvas.LocalPos{X: 200, Y: 200}, Color: canvas.Color{R: 255}},
	}
	c.WritePixelsImmediate(writes)

	want := make([]protocol.PixelRecord, 0, len(writes))
	for _, w := range writes {
		want = append(want, protocol.PixelRecord{Pos: w.Pos, Color: w.Color})
	}
	sortRecords(want)

	for _, s := range subs {
		if len(s.packets) != 1 {
			t.Fatalf("subscriber %d expected exactly 1 packet, got %d", s.id, len(s.packets))
		}
		r := protocol.NewReader(s.packets[0][2:])
		_ = r.S32() // cx
		_ = r.S32() // cy
		count := r.U32()
		rawSize := r.U32()
		lz4Data := r.Remaining()
		if int(count) != len(writes) {
			t.Fatalf("subscriber %d: expected pixel count %d, got %d", s.id, len(writes), count)
		}
		raw, err := codec.Decompress(lz4Data, int(rawSize))
		if err != nil {
			t.Fatalf("subscriber %d: failed to decompress pack: %v", s.id, err)
		}
		got := protocol.DecodePixelPack(raw)
		sortRecords(got)
		if len(got) != len(want) {
			t.Fatalf("subscriber %d: got %d records, want %d", s.id, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("subscriber %d: record %d mismatch: got %+v want %+v", s.id, i, got[i], want[i])
			}
		}
	}
}

func sortRecords(recs []protocol.PixelRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Pos.Y != recs[j].Pos.Y {
			return recs[i].Pos.Y < recs[j].Pos.Y
		}
		return recs[i].Pos.X < recs[j].Pos.X
	})
}

func TestQueuePixelsBulkOverride(t *testing.T) {
	c := New(canvas.ChunkPos{}, nil, 0)
	sub := &fakeSub{id: 1}
	c.Subscribe(sub)

	pixels := make([]protocol.PixelRecord, 0, maxQueuedPixels+10)
	for i := 0; i < maxQueuedPixels+10; i++ {
		pixels = append(pixels, protocol.PixelRecord{
			Pos:   canvas.LocalPos{X: uint8(i % 256), Y: uint8((i / 256) % 256)},
			Color: canvas.Color{R: uint8(i % 255), G: 1, B: 1},
		})
	}
	c.QueuePixels(pixels)
	if !c.bulkOverride {
		t.Fatalf("expected bulk override to trigger after exceeding %d queued pixels", maxQueuedPixels)
	}
	if len(c.queuedOutgoing) != 0 {
		t.Fatalf("expected queue to be discarded once bulk override triggers")
	}
}

func TestFlushQueueSendsOneDeltaPacket(t *testing.T) {
	c := New(canvas.ChunkPos{}, nil, 0)
	sub := &fakeSub{id: 1}
	c.Subscribe(sub)
	sub.packets = nil

	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.Color{R: 5}})
	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 2, Y: 2}, Color: canvas.Color{G: 5}})
	if len(sub.packets) != 0 {
		t.Fatalf("queued pixels must not broadcast before flush")
	}
	c.FlushQueue()
	if len(sub.packets) != 1 {
		t.Fatalf("expected exactly one flushed packet, got %d", len(sub.packets))
	}
}

func TestEncodeOfFreshChunkReusesBlankSingletonWithoutMaterializing(t *testing.T) {
	c := New(canvas.ChunkPos{X: 7, Y: 7}, nil, 0)
	compressed, rawSize := c.Encode(false)
	if c.pixels != nil {
		t.Fatalf("expected a never-written chunk's Encode to skip materializing the pixel buffer")
	}
	if rawSize != pixelBytes {
		t.Fatalf("expected raw size %d, got %d", pixelBytes, rawSize)
	}
	want := make([]byte, pixelBytes)
	for i := range want {
		want[i] = 255
	}
	gotRaw, err := codec.Decompress(compressed, rawSize)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(gotRaw) != string(want) {
		t.Fatalf("expected the blank singleton to decompress to an all-white buffer")
	}
}

func TestEncodeClearModifiedFreesPixelsAndClearsFlag(t *testing.T) {
	c := New(canvas.ChunkPos{}, nil, 0)
	c.QueuePixel(protocol.PixelRecord{Pos: canvas.LocalPos{X: 1, Y: 1}, Color: canvas.Color{R: 5}})
	if !c.IsModified() {
		t.Fatalf("expected chunk to be modified after a write")
	}
	c.Encode(true)
	if c.IsModified() {
		t.Fatalf("expected modified flag cleared after Encode(clearModified=true)")
	}
	if c.pixels != nil {
		t.Fatalf("expected pixel buffer freed after Encode(clearModified=true)")
	}
}
