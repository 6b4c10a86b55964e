// Package storage persists compressed chunk and preview tile blobs. The
// on-disk engine itself is an external collaborator (spec.md §1); this
// package defines the keyed-blob contract the rest of the core depends on
// and a sqlite-backed implementation of it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/olekolek1000/multipixel/internal/canvas"
)

// ErrNotFound is returned by Load* when no row exists for the key; callers
// treat it as "chunk not present" (blank), matching spec.md §7 StorageError.
var ErrNotFound = errors.New("storage: not found")

// ChunkRecord is one stored chunk snapshot.
type ChunkRecord struct {
	Pos         canvas.ChunkPos
	Compressed  []byte
	RawSize     int
	Created     time.Time
	Modified    time.Time
}

// PreviewRecord is one stored preview tile.
type PreviewRecord struct {
	Pos        canvas.ChunkPos
	Zoom       uint8
	Compressed []byte
	RawSize    int
}

// Storage is the keyed blob store the chunk store and preview system
// depend on. SaveChunks batches a tick's worth of modified chunks into a
// single atomic transaction, matching spec.md §4.2's autosave contract.
type Storage interface {
	LoadChunk(ctx context.Context, pos canvas.ChunkPos) (ChunkRecord, error)
	SaveChunks(ctx context.Context, records []ChunkRecord) error
	LoadPreview(ctx context.Context, pos canvas.ChunkPos, zoom uint8) (PreviewRecord, error)
	SavePreview(ctx context.Context, rec PreviewRecord) error
	// ListChunkPositions returns every chunk coordinate with at least one
	// saved snapshot, used on room startup to reseed the preview pyramid
	// for a database that already has content.
	ListChunkPositions(ctx context.Context) ([]canvas.ChunkPos, error)
	Close() error
}
