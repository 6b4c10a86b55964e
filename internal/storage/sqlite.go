package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/olekolek1000/multipixel/internal/canvas"
)

// DefaultSnapshotInterval is how long a chunk row is updated in place
// before a save starts a new snapshot row, per spec.md §6.
const DefaultSnapshotInterval = 4 * time.Hour

// SQLiteStorage implements Storage on top of database/sql + go-sqlite3,
// the way the teacher (astromechza automerge-experiments cmd/three and
// cmd/four) opens and initializes a local database.
type SQLiteStorage struct {
	db               *sql.DB
	snapshotInterval time.Duration
}

// Open creates or attaches to the sqlite file at path and ensures the
// chunks/previews tables exist.
func Open(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	s := &SQLiteStorage{db: db, snapshotInterval: DefaultSnapshotInterval}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetSnapshotInterval overrides DefaultSnapshotInterval, mainly for tests.
func (s *SQLiteStorage) SetSnapshotInterval(d time.Duration) {
	s.snapshotInterval = d
}

func (s *SQLiteStorage) init() error {
	slog.Info("storage: ensuring tables exist")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			snapshot_time INTEGER NOT NULL,
			blob BLOB NOT NULL,
			compression INTEGER NOT NULL,
			raw_size INTEGER NOT NULL,
			created INTEGER NOT NULL,
			modified INTEGER NOT NULL,
			PRIMARY KEY (cx, cy, snapshot_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_pos ON chunks (cx, cy, modified DESC)`,
		`CREATE TABLE IF NOT EXISTS previews (
			px INTEGER NOT NULL,
			py INTEGER NOT NULL,
			zoom INTEGER NOT NULL,
			blob BLOB NOT NULL,
			compression INTEGER NOT NULL,
			raw_size INTEGER NOT NULL,
			PRIMARY KEY (px, py, zoom)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) LoadChunk(ctx context.Context, pos canvas.ChunkPos) (ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT blob, raw_size, created, modified FROM chunks
		 WHERE cx = ? AND cy = ? ORDER BY snapshot_time DESC LIMIT 1`,
		pos.X, pos.Y,
	)
	var blob []byte
	var rawSize int
	var created, modified int64
	if err := row.Scan(&blob, &rawSize, &created, &modified); err != nil {
		if err == sql.ErrNoRows {
			return ChunkRecord{}, ErrNotFound
		}
		return ChunkRecord{}, fmt.Errorf("storage: failed to load chunk %+v: %w", pos, err)
	}
	return ChunkRecord{
		Pos:        pos,
		Compressed: blob,
		RawSize:    rawSize,
		Created:    time.UnixMilli(created),
		Modified:   time.UnixMilli(modified),
	}, nil
}

// SaveChunks writes every record in one atomic transaction, matching
// spec.md §4.2's autosave contract: "under a single storage transaction...".
func (s *SQLiteStorage) SaveChunks(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	for _, rec := range records {
		if err := s.saveOne(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: failed to commit autosave transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) saveOne(ctx context.Context, tx *sql.Tx, rec ChunkRecord, now time.Time) error {
	var latestSnapshot, latestModified int64
	row := tx.QueryRowContext(ctx,
		`SELECT snapshot_time, modified FROM chunks WHERE cx = ? AND cy = ? ORDER BY snapshot_time DESC LIMIT 1`,
		rec.Pos.X, rec.Pos.Y,
	)
	hasExisting := true
	if err := row.Scan(&latestSnapshot, &latestModified); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("storage: failed to look up existing chunk %+v: %w", rec.Pos, err)
		}
		hasExisting = false
	}

	nowMillis := now.UnixMilli()
	if hasExisting && now.Sub(time.UnixMilli(latestSnapshot)) < s.snapshotInterval {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET blob = ?, compression = 1, raw_size = ?, modified = ?
			 WHERE cx = ? AND cy = ? AND snapshot_time = ?`,
			rec.Compressed, rec.RawSize, nowMillis, rec.Pos.X, rec.Pos.Y, latestSnapshot,
		); err != nil {
			return fmt.Errorf("storage: failed to update chunk %+v: %w", rec.Pos, err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (cx, cy, snapshot_time, blob, compression, raw_size, created, modified)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		rec.Pos.X, rec.Pos.Y, nowMillis, rec.Compressed, rec.RawSize, nowMillis, nowMillis,
	); err != nil {
		return fmt.Errorf("storage: failed to insert chunk snapshot %+v: %w", rec.Pos, err)
	}
	return nil
}

func (s *SQLiteStorage) LoadPreview(ctx context.Context, pos canvas.ChunkPos, zoom uint8) (PreviewRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT blob, raw_size FROM previews WHERE px = ? AND py = ? AND zoom = ?`,
		pos.X, pos.Y, zoom,
	)
	var blob []byte
	var rawSize int
	if err := row.Scan(&blob, &rawSize); err != nil {
		if err == sql.ErrNoRows {
			return PreviewRecord{}, ErrNotFound
		}
		return PreviewRecord{}, fmt.Errorf("storage: failed to load preview %+v z%d: %w", pos, zoom, err)
	}
	return PreviewRecord{Pos: pos, Zoom: zoom, Compressed: blob, RawSize: rawSize}, nil
}

func (s *SQLiteStorage) SavePreview(ctx context.Context, rec PreviewRecord) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO previews (px, py, zoom, blob, compression, raw_size) VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (px, py, zoom) DO UPDATE SET blob = excluded.blob, raw_size = excluded.raw_size`,
		rec.Pos.X, rec.Pos.Y, rec.Zoom, rec.Compressed, rec.RawSize,
	); err != nil {
		return fmt.Errorf("storage: failed to save preview %+v z%d: %w", rec.Pos, rec.Zoom, err)
	}
	return nil
}

// ListChunkPositions returns the distinct (cx, cy) pairs with at least one
// saved snapshot, used to reseed the preview pyramid when a room reopens an
// existing database (see room.cpp's database.foreachChunk at startup).
func (s *SQLiteStorage) ListChunkPositions(ctx context.Context) ([]canvas.ChunkPos, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cx, cy FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list chunk positions: %w", err)
	}
	defer rows.Close()

	var out []canvas.ChunkPos
	for rows.Next() {
		var pos canvas.ChunkPos
		if err := rows.Scan(&pos.X, &pos.Y); err != nil {
			return nil, fmt.Errorf("storage: failed to scan chunk position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
