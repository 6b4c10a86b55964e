package protocol

import "fmt"

// Announce is the decoded payload of CmdAnnounce.
type Announce struct {
	RoomName string
	Nickname string
}

// ParseAnnounce decodes {u8 room_name_len, room_name, u8 nickname_len, nickname}.
func ParseAnnounce(payload []byte) (Announce, error) {
	r := NewReader(payload)
	a := Announce{RoomName: r.String8(), Nickname: r.String8()}
	if !r.AtEnd() {
		return Announce{}, ErrMalformed
	}
	return a, r.Err()
}

// CursorPos is the decoded payload of CmdCursorPos.
type CursorPos struct {
	X, Y int32
}

func ParseCursorPos(payload []byte) (CursorPos, error) {
	r := NewReader(payload)
	p := CursorPos{X: r.S32(), Y: r.S32()}
	if !r.AtEnd() {
		return CursorPos{}, ErrMalformed
	}
	return p, r.Err()
}

// Boundary is the decoded payload of CmdBoundary, in chunk coordinates.
type Boundary struct {
	StartX, StartY, EndX, EndY int32
	Zoom                       float32
}

func ParseBoundary(payload []byte) (Boundary, error) {
	r := NewReader(payload)
	b := Boundary{StartX: r.S32(), StartY: r.S32(), EndX: r.S32(), EndY: r.S32(), Zoom: r.F32()}
	if !r.AtEnd() {
		return Boundary{}, ErrMalformed
	}
	return b, r.Err()
}

// ParseChunksReceived decodes the u32 cumulative count of CmdChunksReceived.
func ParseChunksReceived(payload []byte) (uint32, error) {
	r := NewReader(payload)
	n := r.U32()
	if !r.AtEnd() {
		return 0, ErrMalformed
	}
	return n, r.Err()
}

// PreviewRequest is the decoded payload of CmdPreviewRequest.
type PreviewRequest struct {
	X, Y int32
	Zoom uint8
}

func ParsePreviewRequest(payload []byte) (PreviewRequest, error) {
	r := NewReader(payload)
	p := PreviewRequest{X: r.S32(), Y: r.S32(), Zoom: r.U8()}
	if !r.AtEnd() {
		return PreviewRequest{}, ErrMalformed
	}
	return p, r.Err()
}

// ParseToolSize decodes the u8 size of CmdToolSize, rejecting values
// outside 1..8.
func ParseToolSize(payload []byte) (uint8, error) {
	r := NewReader(payload)
	s := r.U8()
	if !r.AtEnd() {
		return 0, ErrMalformed
	}
	if s < 1 || s > 8 {
		return 0, fmt.Errorf("%w: tool size %d out of range", ErrMalformed, s)
	}
	return s, r.Err()
}

// ParseToolColor decodes the r, g, b bytes of CmdToolColor.
func ParseToolColor(payload []byte) (r8, g8, b8 uint8, err error) {
	r := NewReader(payload)
	r8, g8, b8 = r.U8(), r.U8(), r.U8()
	if !r.AtEnd() {
		return 0, 0, 0, ErrMalformed
	}
	return r8, g8, b8, r.Err()
}

// ParseToolType decodes the tool kind byte of CmdToolType.
func ParseToolType(payload []byte) (ToolKind, error) {
	r := NewReader(payload)
	v := r.U8()
	if !r.AtEnd() {
		return 0, ErrMalformed
	}
	if v != uint8(ToolBrush) && v != uint8(ToolFloodFill) {
		return 0, fmt.Errorf("%w: unknown tool type %d", ErrMalformed, v)
	}
	return ToolKind(v), r.Err()
}
