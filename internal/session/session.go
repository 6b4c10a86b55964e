package session

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/chunk"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

// minZoom matches the boundary zoom threshold below which a client is
// considered too zoomed out to need chunk streaming.
const minZoom = 0.45

// linkedChunk is this package's equivalent of the C++ engine's
// LinkedChunk: a chunk this session is currently subscribed to, plus how
// long it has sat outside the session's boundary.
type linkedChunk struct {
	chunk               *chunk.Chunk
	outsideBoundaryTicks int
}

// historyCell is one undo snapshot: the pre-edit color of every pixel
// touched since the snapshot was opened.
type historyCell struct {
	pixels []GlobalPixel
}

// floodfillState tracks an in-progress flood fill, time-sliced across
// ticks so one huge fill can't stall the session loop.
type floodfillState struct {
	processing  bool
	toReplace   canvas.Color
	stack       []canvas.GlobalPos
	affected    map[canvas.ChunkPos]struct{}
	startX      int32
	startY      int32
}

// Session is one client connection's protocol state machine: it owns no
// chunks (only non-owning Subscriber handles into the store), and is
// itself a non-owning handle the chunk package pushes packets through.
type Session struct {
	id       atomic.Uint32 // assigned once by Join; read by other sessions' fanout
	nickname atomic.Value  // string, set once by announce
	conn     Conn
	host     RoomHost

	valid atomic.Bool // true once announce has succeeded

	mu sync.Mutex // guards everything below, mirroring mtx_access

	cursorCur, cursorPrev, cursorSent canvas.GlobalPos
	cursorDown                        bool
	cursorJustClicked                 bool

	boundary       protocol.Boundary
	needsBoundaryTest bool
	chunksSent     uint32
	chunksReceived uint32

	lastAccessedChunk *chunk.Chunk
	linked            []*linkedChunk

	history []historyCell

	flood floodfillState

	tool Tool

	inbox  *byteQueue
	outbox *byteQueue

	writerWake chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	stopped    chan struct{}
}

// New constructs a session bound to one connection. It is not yet
// announced, linked to a room, or running.
func New(conn Conn, host RoomHost) *Session {
	return &Session{
		conn:       conn,
		host:       host,
		inbox:      newByteQueue(),
		outbox:     newByteQueue(),
		writerWake: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
		tool:       Tool{Size: 1, Kind: protocol.ToolBrush},
	}
}

// SessionID implements chunk.Subscriber.
func (s *Session) SessionID() uint16 { return uint16(s.id.Load()) }

// ID returns the session's room-assigned id, zero before announce.
func (s *Session) ID() uint16 { return uint16(s.id.Load()) }

// Nickname returns the announced display name, empty before announce.
func (s *Session) Nickname() string {
	n, _ := s.nickname.Load().(string)
	return n
}

// IsValid reports whether announce has completed successfully.
func (s *Session) IsValid() bool { return s.valid.Load() }

// PushPacket implements chunk.Subscriber: queue a packet for the writer
// goroutine. Callable from any goroutine, including other sessions'
// broadcast fanout.
func (s *Session) PushPacket(packet []byte) {
	s.outbox.push(packet)
	s.wakeWriter()
}

func (s *Session) wakeWriter() {
	select {
	case s.writerWake <- struct{}{}:
	default:
	}
}

// pushIncomingMessage is called by the transport's reader loop for every
// frame received. A queue past 1000 pending messages is treated as flood
// or unrecoverable lag and ends the session (spec.md §4.3 "BackpressureExceeded").
func (s *Session) pushIncomingMessage(raw []byte) {
	if s.inbox.len() > 1000 {
		s.Kick("Packet flood (or lag) detected")
		return
	}
	s.inbox.push(raw)
}

// Kick sends a kick packet naming reason and stops the session.
func (s *Session) Kick(reason string) {
	s.PushPacket(protocol.Kick(reason))
	s.stop()
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run drives the session until the connection closes, the context is
// cancelled, or the session is kicked. It starts the reader and writer
// goroutines and then runs the 20Hz engine loop itself, matching the
// three-goroutine split (reader/writer/runner) the original engine used
// per OS thread.
func (s *Session) Run(ctx context.Context) {
	defer close(s.stopped)
	defer s.leaveRoom()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	ticker := time.NewTicker(50 * time.Millisecond) // 20 Hz
	defer ticker.Stop()

	seconds := 0
	for {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.stopCh:
			_ = s.conn.Close()
			wg.Wait()
			return
		case <-ticker.C:
			s.tick(seconds)
			seconds++
		}
		// Drain any inbound messages as fast as they arrive, independent of
		// the tick boundary, so drawing feels responsive.
		for {
			msgs := s.inbox.drain()
			if len(msgs) == 0 {
				break
			}
			for _, m := range msgs {
				s.handleMessage(m)
				if s.stoppedSignaled() {
					break
				}
			}
		}
	}
}

func (s *Session) stoppedSignaled() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			s.stop()
			return
		}
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.pushIncomingMessage(data)
	}
}

func (s *Session) writeLoop() {
	for {
		for {
			packets := s.outbox.drain()
			if len(packets) == 0 {
				break
			}
			for _, p := range packets {
				if err := s.conn.WriteMessage(p); err != nil {
					s.stop()
					return
				}
			}
		}
		select {
		case <-s.stopCh:
			return
		case <-s.writerWake:
		}
	}
}

func (s *Session) leaveRoom() {
	if s.host == nil {
		return
	}
	s.unsubscribeAllChunks()
	if s.IsValid() {
		s.host.ExtensionHost().OnUserLeave(s.ID())
	}
	s.host.Leave(s)
}

// unsubscribeAllChunks drops every chunk this session linked, signaling
// the store so chunks with no other subscribers become eligible for GC.
func (s *Session) unsubscribeAllChunks() {
	s.mu.Lock()
	linked := s.linked
	s.linked = nil
	s.lastAccessedChunk = nil
	s.mu.Unlock()

	for _, lc := range linked {
		s.host.ChunkStore().Unsubscribe(s, lc.chunk.Position())
	}
}

// tick runs the 20Hz periodic work: cursor broadcast, boundary expiry,
// floodfill progress, and chunk streaming.
func (s *Session) tick(counter int) {
	if !s.IsValid() {
		return
	}

	s.mu.Lock()
	sent := s.cursorSent
	cur := s.cursorCur
	s.mu.Unlock()
	if sent != cur {
		s.mu.Lock()
		s.cursorSent = cur
		s.mu.Unlock()
		s.host.Broadcast(protocol.UserCursorPos(s.ID(), cur), s.ID())
	}

	if counter%20 == 0 { // once per second
		s.expireOutOfBoundaryChunks()
	}

	s.tickFloodfill()
	s.performBoundaryTest()
}

// handleMessage parses and dispatches one client frame.
func (s *Session) handleMessage(raw []byte) {
	if len(raw) < 2 {
		s.Kick("Invalid packet")
		return
	}
	cmd := protocol.ClientCommand(binary.BigEndian.Uint16(raw[:2]))
	payload := raw[2:]

	if !s.IsValid() && cmd != protocol.CmdAnnounce {
		s.Kick("Announcement packet expected")
		return
	}

	switch cmd {
	case protocol.CmdAnnounce:
		s.handleAnnounce(payload)
	case protocol.CmdMessage:
		s.handleMessageText(payload)
	case protocol.CmdCursorPos:
		s.handleCursorPos(payload)
	case protocol.CmdCursorDown:
		s.handleCursorDown(payload)
	case protocol.CmdCursorUp:
		s.handleCursorUp(payload)
	case protocol.CmdUndo:
		s.handleUndo()
	case protocol.CmdToolSize:
		s.handleToolSize(payload)
	case protocol.CmdToolColor:
		s.handleToolColor(payload)
	case protocol.CmdToolType:
		s.handleToolType(payload)
	case protocol.CmdBoundary:
		s.handleBoundary(payload)
	case protocol.CmdChunksReceived:
		s.handleChunksReceived(payload)
	case protocol.CmdPreviewRequest:
		s.handlePreviewRequest(payload)
	case protocol.CmdPing:
		s.PushPacket(protocol.Pong())
	default:
		slog.Warn("session: unknown command", "id", s.ID(), "cmd", cmd)
		s.Kick("Got unknown packet")
	}
}

// --- chunk linking (non-owning handles into the store) ---

func (s *Session) linkChunk(c *chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lc := range s.linked {
		if lc.chunk == c {
			return
		}
	}
	s.linked = append(s.linked, &linkedChunk{chunk: c})
}

func (s *Session) unlinkChunk(c *chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAccessedChunk == c {
		s.lastAccessedChunk = nil
	}
	for i, lc := range s.linked {
		if lc.chunk == c {
			s.linked = append(s.linked[:i], s.linked[i+1:]...)
			return
		}
	}
}

func (s *Session) isChunkLinkedLocked(pos canvas.ChunkPos) bool {
	for _, lc := range s.linked {
		if lc.chunk.Position() == pos {
			return true
		}
	}
	return false
}

func (s *Session) getChunkCachedLocked(pos canvas.ChunkPos) *chunk.Chunk {
	if s.lastAccessedChunk != nil && s.lastAccessedChunk.Position() == pos {
		return s.lastAccessedChunk
	}
	for _, lc := range s.linked {
		if lc.chunk.Position() == pos {
			s.lastAccessedChunk = lc.chunk
			return lc.chunk
		}
	}
	return nil
}

// --- pixel IO through linked chunks, with undo recording ---

// getPixelGlobalLocked reads through a chunk this session is already
// linked to. Unlinked coordinates (outside the session's boundary) return
// ok=false; callers treat that as "nothing to do" rather than loading the
// chunk, matching the original engine's behavior.
func (s *Session) getPixelGlobalLocked(pos canvas.GlobalPos) (canvas.Color, bool) {
	c := s.getChunkCachedLocked(canvas.GlobalToChunk(pos))
	if c == nil {
		return canvas.Color{}, false
	}
	return c.GetPixel(canvas.GlobalToLocal(pos)), true
}

// setPixelsGlobal writes a batch of pixels immediately (used by the brush)
// or queues them for the next flush (used by floodfill), recording the
// pre-edit colors into the open undo snapshot.
func (s *Session) setPixelsGlobal(pixels []GlobalPixel, queued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPixelsGlobalLocked(pixels, queued)
}

func (s *Session) setPixelsGlobalLocked(pixels []GlobalPixel, queued bool) {
	byChunk := make(map[canvas.ChunkPos][]protocol.PixelRecord)
	order := make([]canvas.ChunkPos, 0)
	for _, px := range pixels {
		cp := canvas.GlobalToChunk(px.Pos)
		if _, ok := byChunk[cp]; !ok {
			order = append(order, cp)
		}
		byChunk[cp] = append(byChunk[cp], protocol.PixelRecord{Pos: canvas.GlobalToLocal(px.Pos), Color: px.Color})
	}

	for _, cp := range order {
		c := s.getChunkCachedLocked(cp)
		if c == nil {
			continue
		}
		recs := byChunk[cp]
		var pre []chunk.PreWriteColor
		if queued {
			pre = c.QueuePixels(recs)
		} else {
			pre = c.WritePixelsImmediate(recs)
		}
		if len(pre) == 0 {
			continue
		}
		snapshot := make([]GlobalPixel, len(pre))
		for i, p := range pre {
			snapshot[i] = GlobalPixel{Pos: canvas.ChunkLocalToGlobal(cp, p.Pos), Color: p.Color}
		}
		s.historyAddPixelsLocked(snapshot)
	}
}

// --- undo history ---

func (s *Session) historyCreateSnapshotLocked() {
	if len(s.history) >= 10 {
		s.history = s.history[1:]
	}
	s.history = append(s.history, historyCell{})
}

func (s *Session) historyAddPixelsLocked(pixels []GlobalPixel) {
	if len(s.history) == 0 {
		s.historyCreateSnapshotLocked()
	}
	back := &s.history[len(s.history)-1]
	back.pixels = append(back.pixels, pixels...)
}

func (s *Session) historyUndoLocked() {
	if len(s.history) == 0 {
		return
	}
	back := s.history[len(s.history)-1]
	s.setPixelsGlobalLocked(back.pixels, false)
	s.history = s.history[:len(s.history)-1]
}
