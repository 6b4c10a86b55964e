package session

import (
	"context"
	"log/slog"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

func (s *Session) handleAnnounce(payload []byte) {
	if s.IsValid() {
		s.Kick("Already announced")
		return
	}

	ann, err := protocol.ParseAnnounce(payload)
	if err != nil {
		s.Kick("Invalid announcement")
		return
	}
	if !ValidRoomName(ann.RoomName) {
		s.Kick(`Room name must be 3-32 characters of (a-z), (A-Z), (0-9), "_", "-"`)
		return
	}
	if len(ann.Nickname) < 3 || len(ann.Nickname) > 32 {
		s.Kick("Invalid nickname length")
		return
	}

	id, others, err := s.host.Join(s)
	if err != nil {
		s.Kick("Failed to add you to the room")
		return
	}
	s.id.Store(uint32(id))
	s.nickname.Store(sanitizeNickname(ann.Nickname))

	s.PushPacket(protocol.YourID(id))
	s.valid.Store(true)

	s.host.Broadcast(protocol.UserCreate(s.ID(), s.Nickname()), s.ID())
	for _, peer := range others {
		s.PushPacket(protocol.UserCreate(peer.ID, peer.Nickname))
	}

	s.mu.Lock()
	s.tool = Tool{Size: 1, Kind: protocol.ToolBrush}
	s.mu.Unlock()

	s.host.ExtensionHost().OnUserJoin(s.ID(), s.Nickname())
}

// ValidRoomName reports whether name satisfies the announce handler's own
// room name rule (3-32 characters, alphanumeric plus "_"/"-"). Exported
// so the server package can apply the identical check before a room name
// ever reaches the filesystem, rather than trusting an unvalidated name
// long enough to open a storage handle.
func ValidRoomName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}
	return true
}

// sanitizeNickname blanks out characters that would let a nickname break
// out of an HTML chat line.
func sanitizeNickname(nick string) string {
	out := []byte(nick)
	for i, ch := range out {
		switch ch {
		case '<', '>', '&':
			out[i] = '_'
		}
	}
	return string(out)
}

func (s *Session) handleMessageText(payload []byte) {
	text := string(payload)
	if text == "" {
		return
	}
	if text[0] == '/' {
		s.host.ExtensionHost().OnCommand(s.ID(), text[1:], nil)
		return
	}
	slog.Info("session: chat", "id", s.ID(), "nick", s.Nickname(), "text", text)
	s.host.Broadcast(protocol.TextMessage(protocol.MessagePlain, "<"+s.Nickname()+"> "+text), BroadcastToAll)
	s.host.ExtensionHost().OnMessage(s.ID(), text)
}

func (s *Session) handleCursorPos(payload []byte) {
	pos, err := protocol.ParseCursorPos(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	s.mu.Lock()
	s.cursorPrev = s.cursorCur
	s.cursorCur = canvas.GlobalPos{X: pos.X, Y: pos.Y}
	s.mu.Unlock()
	s.updateCursor()
}

func (s *Session) handleCursorDown(payload []byte) {
	if s.host.ExtensionHost().OnCursorDown(s.ID()) {
		return // vetoed by the extension host
	}
	s.mu.Lock()
	s.cursorDown = true
	s.cursorJustClicked = true
	s.cursorPrev = s.cursorCur
	s.historyCreateSnapshotLocked()
	s.mu.Unlock()
	s.host.ExtensionHost().OnUserMouseDown(s.ID())
	s.updateCursor()
}

func (s *Session) handleCursorUp(payload []byte) {
	s.mu.Lock()
	s.cursorDown = false
	s.mu.Unlock()
	s.host.ExtensionHost().OnUserMouseUp(s.ID())
	s.updateCursor()
}

func (s *Session) handleUndo() {
	s.mu.Lock()
	s.historyUndoLocked()
	s.mu.Unlock()
}

func (s *Session) handleToolSize(payload []byte) {
	size, err := protocol.ParseToolSize(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	s.mu.Lock()
	s.tool.Size = size
	s.mu.Unlock()
}

func (s *Session) handleToolColor(payload []byte) {
	r, g, b, err := protocol.ParseToolColor(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	s.mu.Lock()
	s.tool.Color = canvas.Color{R: r, G: g, B: b}
	s.mu.Unlock()
}

func (s *Session) handleToolType(payload []byte) {
	kind, err := protocol.ParseToolType(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	s.mu.Lock()
	s.tool.Kind = kind
	s.mu.Unlock()
}

func (s *Session) handleBoundary(payload []byte) {
	b, err := protocol.ParseBoundary(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	if b.EndY < b.StartY {
		b.EndY = b.StartY
	}
	if b.EndX < b.StartX {
		b.EndX = b.StartX
	}
	// Chunk limit, matching the original engine's 100x100 cap per boundary.
	if b.EndX > b.StartX+100 {
		b.EndX = b.StartX + 100
	}
	if b.EndY > b.StartY+100 {
		b.EndY = b.StartY + 100
	}

	s.mu.Lock()
	s.boundary = b
	s.needsBoundaryTest = true
	s.mu.Unlock()
}

func (s *Session) handleChunksReceived(payload []byte) {
	n, err := protocol.ParseChunksReceived(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	s.mu.Lock()
	if n <= s.chunksReceived {
		s.mu.Unlock()
		s.Kick("Invalid packet")
		return
	}
	s.chunksReceived = n
	s.mu.Unlock()
}

func (s *Session) handlePreviewRequest(payload []byte) {
	req, err := protocol.ParsePreviewRequest(payload)
	if err != nil {
		s.Kick("Invalid packet")
		return
	}
	rec, err := s.host.Preview().GetTile(context.Background(), canvas.ChunkPos{X: req.X, Y: req.Y}, req.Zoom)
	if err != nil {
		return // not generated yet; client will ask again later
	}
	s.PushPacket(protocol.PreviewImage(req.X, req.Y, req.Zoom, rec.Compressed))
}
