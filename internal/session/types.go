// Package session implements the per-connection protocol state machine:
// command dispatch, cursor-driven tools, chunk subscription streaming, and
// undo history.
package session

import (
	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/chunk"
	"github.com/olekolek1000/multipixel/internal/extension"
	"github.com/olekolek1000/multipixel/internal/preview"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

// Conn is the minimal transport contract a session needs. The real
// implementation wraps a gorilla/websocket connection; tests substitute an
// in-memory fake.
type Conn interface {
	ReadMessage() (data []byte, err error)
	WriteMessage(data []byte) error
	Close() error
}

// RoomHost is everything a session needs from its owning room, kept as an
// interface so this package never imports the room package (which imports
// this one): the room centralizes session-id and chunk ownership per
// spec.md §9's "Cyclic ownership" note.
type RoomHost interface {
	ChunkStore() *chunk.Store
	Preview() *preview.System
	ExtensionHost() extension.Host
	MaskCache() *MaskCache

	// Join assigns the session the smallest non-negative id not currently
	// in use, registers it, and returns the ids/nicknames of every other
	// currently-announced session (for the reciprocal user_create packets).
	Join(s *Session) (id uint16, others []PeerInfo, err error)
	Leave(s *Session)

	// Broadcast sends packet to every announced session in the room except
	// the one with id exceptID (BroadcastToAll excludes none).
	Broadcast(packet []byte, exceptID uint16)
}

// BroadcastToAll is passed as RoomHost.Broadcast's exceptID when no
// session should be excluded. Real session ids are assigned densely from
// 0, so this sentinel never collides with one in practice.
const BroadcastToAll = ^uint16(0)

// PeerInfo is the minimal snapshot of another session needed to build
// user_create packets during announce.
type PeerInfo struct {
	ID       uint16
	Nickname string
}

// GlobalPixel is a pixel write expressed in global coordinates, the unit
// undo snapshots are recorded in (spec.md §3).
type GlobalPixel struct {
	Pos   canvas.GlobalPos
	Color canvas.Color
}

// Tool mirrors spec.md §3's per-session tool struct.
type Tool struct {
	Size  uint8
	Color canvas.Color
	Kind  protocol.ToolKind
}
