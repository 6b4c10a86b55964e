// Package protocol defines the binary wire format: client command ids,
// server packet ids, and the big-endian reader/writer helpers used to
// parse and build them. Framing (message boundaries, close detection) is
// the websocket transport's job; this package only deals with the bytes
// inside one message.
package protocol

// ClientCommand identifies the first two big-endian bytes of a
// client-to-server message.
type ClientCommand uint16

const (
	CmdMessage         ClientCommand = 1
	CmdAnnounce        ClientCommand = 2
	CmdPing            ClientCommand = 4
	CmdCursorPos       ClientCommand = 100
	CmdCursorDown      ClientCommand = 101
	CmdCursorUp        ClientCommand = 102
	CmdBoundary        ClientCommand = 103
	CmdChunksReceived  ClientCommand = 104
	CmdPreviewRequest  ClientCommand = 105
	CmdToolSize        ClientCommand = 200
	CmdToolColor       ClientCommand = 201
	CmdToolType        ClientCommand = 202
	CmdUndo            ClientCommand = 203
)

// ServerPacket identifies the first two big-endian bytes of a
// server-to-client message.
type ServerPacket uint16

const (
	PktMessage        ServerPacket = 1
	PktYourID         ServerPacket = 2
	PktKick           ServerPacket = 3
	PktPong           ServerPacket = 4
	PktChunkImage     ServerPacket = 100
	PktChunkPixelPack ServerPacket = 101
	PktChunkCreate    ServerPacket = 110
	PktChunkRemove    ServerPacket = 111
	PktPreviewImage   ServerPacket = 200
	PktUserCreate     ServerPacket = 1000
	PktUserRemove     ServerPacket = 1001
	PktUserCursorPos  ServerPacket = 1002
)

// ToolKind selects which tool a session's drawing input is routed through.
type ToolKind uint8

const (
	ToolBrush    ToolKind = 0
	ToolFloodFill ToolKind = 1
)

// MessageType distinguishes plain text from HTML-formatted chat messages.
type MessageType uint8

const (
	MessagePlain MessageType = 0
	MessageHTML  MessageType = 1
)
