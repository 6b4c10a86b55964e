package storage

import (
	"context"
	"sync"

	"github.com/olekolek1000/multipixel/internal/canvas"
)

// MemStorage is an in-memory Storage used by chunk/room/session tests so
// they don't need a real sqlite file. It is not wired into the server;
// production always uses SQLiteStorage.
type MemStorage struct {
	mu        sync.Mutex
	chunks    map[canvas.ChunkPos]ChunkRecord
	previews  map[previewKey]PreviewRecord
}

type previewKey struct {
	pos  canvas.ChunkPos
	zoom uint8
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		chunks:   make(map[canvas.ChunkPos]ChunkRecord),
		previews: make(map[previewKey]PreviewRecord),
	}
}

func (m *MemStorage) LoadChunk(_ context.Context, pos canvas.ChunkPos) (ChunkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.chunks[pos]
	if !ok {
		return ChunkRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemStorage) SaveChunks(_ context.Context, records []ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.chunks[rec.Pos] = rec
	}
	return nil
}

func (m *MemStorage) LoadPreview(_ context.Context, pos canvas.ChunkPos, zoom uint8) (PreviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.previews[previewKey{pos, zoom}]
	if !ok {
		return PreviewRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemStorage) SavePreview(_ context.Context, rec PreviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previews[previewKey{rec.Pos, rec.Zoom}] = rec
	return nil
}

func (m *MemStorage) ListChunkPositions(_ context.Context) ([]canvas.ChunkPos, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]canvas.ChunkPos, 0, len(m.chunks))
	for pos := range m.chunks {
		out = append(out, pos)
	}
	return out, nil
}

func (m *MemStorage) Close() error { return nil }
