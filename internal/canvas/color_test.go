package canvas

import "testing"

func TestGlobalToChunkAndLocalRoundTrip(t *testing.T) {
	cases := []GlobalPos{
		{0, 0}, {255, 255}, {256, 256}, {-1, -1}, {-256, -256}, {-257, 0}, {1000, -1000},
	}
	for _, p := range cases {
		c := GlobalToChunk(p)
		l := GlobalToLocal(p)
		if l.X > 255 || l.Y > 255 {
			t.Fatalf("local out of range for %+v: %+v", p, l)
		}
		got := ChunkLocalToGlobal(c, l)
		if got != p {
			t.Fatalf("round trip failed for %+v: chunk=%+v local=%+v got=%+v", p, c, l, got)
		}
	}
}

func TestNegativeOneMapsToChunkMinusOne(t *testing.T) {
	p := GlobalPos{-1, -1}
	if c := GlobalToChunk(p); c != (ChunkPos{-1, -1}) {
		t.Fatalf("expected chunk (-1,-1), got %+v", c)
	}
	if l := GlobalToLocal(p); l != (LocalPos{255, 255}) {
		t.Fatalf("expected local (255,255), got %+v", l)
	}
}
