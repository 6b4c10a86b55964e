package server

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/olekolek1000/multipixel/internal/protocol"
)

type fakeConn struct {
	frames [][]byte
	i      int
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if c.i >= len(c.frames) {
		return nil, errors.New("no more frames")
	}
	f := c.frames[c.i]
	c.i++
	return f, nil
}

func (c *fakeConn) WriteMessage([]byte) error { return nil }
func (c *fakeConn) Close() error              { return nil }

func announceFrame(room, nick string) []byte {
	body := make([]byte, 0, 2+len(room)+len(nick))
	body = append(body, uint8(len(room)))
	body = append(body, room...)
	body = append(body, uint8(len(nick)))
	body = append(body, nick...)
	frame := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(frame, uint16(protocol.CmdAnnounce))
	return append(frame, body...)
}

func TestPeekAnnouncedRoomExtractsRoomName(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{announceFrame("myroom", "alice")}}
	name, first, err := peekAnnouncedRoom(conn)
	if err != nil {
		t.Fatalf("peekAnnouncedRoom: %v", err)
	}
	if name != "myroom" {
		t.Fatalf("expected room name %q, got %q", "myroom", name)
	}
	if len(first) == 0 {
		t.Fatalf("expected the peeked frame to be returned for replay")
	}
}

func TestPeekAnnouncedRoomRejectsMalformedFrame(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{{0xFF}}}
	_, _, err := peekAnnouncedRoom(conn)
	if err == nil {
		t.Fatalf("expected an error for a too-short frame, got none")
	}
}

func TestPeekAnnouncedRoomRejectsWrongCommand(t *testing.T) {
	frame := make([]byte, 2)
	binary.BigEndian.PutUint16(frame, uint16(protocol.CmdPing))
	conn := &fakeConn{frames: [][]byte{frame}}
	_, _, err := peekAnnouncedRoom(conn)
	if err == nil {
		t.Fatalf("expected an error for a non-announce first frame, got none")
	}
}

func TestPeekAnnouncedRoomRejectsPathTraversalRoomName(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{announceFrame("../../tmp/evil", "alice")}}
	_, _, err := peekAnnouncedRoom(conn)
	if err == nil {
		t.Fatalf("expected an error for a room name outside the allowed charset, got none")
	}
}

func TestPeekAnnouncedRoomRejectsTooShortRoomName(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{announceFrame("ab", "alice")}}
	_, _, err := peekAnnouncedRoom(conn)
	if err == nil {
		t.Fatalf("expected an error for a too-short room name, got none")
	}
}

func TestReplayConnReplaysFirstFrameOnce(t *testing.T) {
	inner := &fakeConn{frames: [][]byte{{1, 2, 3}}}
	rc := &replayConn{Conn: inner, first: []byte{9, 9}}

	first, err := rc.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(first) != 2 || first[0] != 9 {
		t.Fatalf("expected the buffered first frame to be replayed, got %v", first)
	}

	second, err := rc.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("expected the second read to fall through to the wrapped Conn, got %v", second)
	}
}
