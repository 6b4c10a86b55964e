// Package codec wraps the LZ4 compressor used to serialize chunk and
// preview tile images for storage and for the wire.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrCorrupt is returned by Decompress when the input cannot be decoded or
// decodes to a size other than expected. Callers treat this the same as
// spec's CorruptChunk: discard the compressed data and fall back to blank.
var ErrCorrupt = errors.New("codec: corrupt or truncated lz4 payload")

// Compress returns the LZ4 encoding of buf. Compression is assumed
// infallible modulo out-of-memory, matching the contract the chunk and
// preview layers depend on.
func Compress(buf []byte) []byte {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(buf); err != nil {
		panic(fmt.Errorf("codec: lz4 write failed: %w", err))
	}
	if err := w.Close(); err != nil {
		panic(fmt.Errorf("codec: lz4 close failed: %w", err))
	}
	return out.Bytes()
}

// Decompress inflates buf and requires the result to be exactly
// expectedSize bytes long. A size mismatch or a stream error is reported
// as ErrCorrupt.
func Decompress(buf []byte, expectedSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(buf))
	out := make([]byte, expectedSize)
	n, err := io.ReadFull(r, out)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n != expectedSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrCorrupt, n, expectedSize)
	}
	// Confirm the stream doesn't have trailing data beyond expectedSize that
	// would indicate expectedSize was wrong for this payload.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		return nil, fmt.Errorf("%w: payload longer than expected size %d", ErrCorrupt, expectedSize)
	}
	return out, nil
}
