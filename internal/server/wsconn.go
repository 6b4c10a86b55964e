package server

import (
	"encoding/binary"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/olekolek1000/multipixel/internal/protocol"
	"github.com/olekolek1000/multipixel/internal/session"
)

// errNoRoomAnnounced covers every way a first frame fails to name a valid
// room: too short, not an announce, unparseable, or a name that fails
// session.ValidRoomName. The caller just closes the connection; there is
// no session to Kick through yet, since no room (and therefore no
// RoomHost) has been resolved.
var errNoRoomAnnounced = errors.New("server: first frame did not announce a valid room")

// wsConn adapts a *websocket.Conn to session.Conn, always sending binary
// frames since the wire protocol is a packed binary format, not text.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

var _ session.Conn = (*wsConn)(nil)

// replayConn hands back a buffered first frame before falling through to
// the wrapped Conn, used to return an already-read announce frame to the
// session after the server peeked it to resolve a room name.
type replayConn struct {
	session.Conn
	first    []byte
	replayed bool
}

func (c *replayConn) ReadMessage() ([]byte, error) {
	if !c.replayed {
		c.replayed = true
		return c.first, nil
	}
	return c.Conn.ReadMessage()
}

// peekAnnouncedRoom reads the connection's first frame and extracts the
// room name from it if it is a well-formed announce packet naming a room
// that passes the same validation handleAnnounce applies, returning the
// frame so the caller can hand it back to the session unconsumed. The
// room name is what getOrCreateRoom joins onto -data-dir to build a
// filesystem path, so it must be validated here, before a room (and its
// on-disk file) is ever created for it — an unvalidated name is never
// returned, and the caller closes the connection instead of opening
// anything.
func peekAnnouncedRoom(conn session.Conn) (roomName string, first []byte, err error) {
	first, err = conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	if len(first) < 2 {
		return "", nil, errNoRoomAnnounced
	}
	cmd := protocol.ClientCommand(binary.BigEndian.Uint16(first[:2]))
	if cmd != protocol.CmdAnnounce {
		return "", nil, errNoRoomAnnounced
	}
	ann, perr := protocol.ParseAnnounce(first[2:])
	if perr != nil || !session.ValidRoomName(ann.RoomName) {
		return "", nil, errNoRoomAnnounced
	}
	return ann.RoomName, first, nil
}
