package codec

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 1000)
	compressed := Compress(data)
	got, err := Decompress(compressed, len(data))
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressWrongSizeIsCorrupt(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 500)
	compressed := Compress(data)
	if _, err := Decompress(compressed, len(data)-10); err == nil {
		t.Fatalf("expected error for wrong expected size")
	}
}

func TestDecompressGarbageIsCorrupt(t *testing.T) {
	if _, err := Decompress([]byte{0xde, 0xad, 0xbe, 0xef}, 256*256*3); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}
