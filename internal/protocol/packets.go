package protocol

import "github.com/olekolek1000/multipixel/internal/canvas"

// PixelRecord is one entry of a pixel-pack: a local position plus the new
// color, encoded as {u8 x, u8 y, u8 r, u8 g, u8 b}.
type PixelRecord struct {
	Pos   canvas.LocalPos
	Color canvas.Color
}

// EncodePixelPack serializes a batch of pixel deltas for inclusion in a
// chunk_pixel_pack payload (raw, pre-LZ4).
func EncodePixelPack(records []PixelRecord) []byte {
	out := make([]byte, 0, len(records)*5)
	for _, rec := range records {
		out = append(out, rec.Pos.X, rec.Pos.Y, rec.Color.R, rec.Color.G, rec.Color.B)
	}
	return out
}

// DecodePixelPack is the inverse of EncodePixelPack, used by tests that
// assert on broadcast contents.
func DecodePixelPack(raw []byte) []PixelRecord {
	n := len(raw) / 5
	out := make([]PixelRecord, 0, n)
	for i := 0; i < n; i++ {
		b := raw[i*5 : i*5+5]
		out = append(out, PixelRecord{
			Pos:   canvas.LocalPos{X: b[0], Y: b[1]},
			Color: canvas.Color{R: b[2], G: b[3], B: b[4]},
		})
	}
	return out
}

// YourID builds the your_id packet sent once, right after a successful
// announce.
func YourID(id uint16) []byte {
	return NewWriter(PktYourID).U16(id).Build()
}

// Kick builds the kick packet; the session closes the connection
// immediately after sending it.
func Kick(reason string) []byte {
	return NewWriter(PktKick).Bytes([]byte(reason)).Build()
}

// Pong replies to a client ping.
func Pong() []byte {
	return NewWriter(PktPong).Build()
}

// TextMessage builds a chat message packet.
func TextMessage(kind MessageType, text string) []byte {
	return NewWriter(PktMessage).U8(uint8(kind)).Bytes([]byte(text)).Build()
}

// ChunkImage builds the full-tile image packet sent on subscribe and on
// bulk-override flush.
func ChunkImage(pos canvas.ChunkPos, rawSize uint32, lz4Data []byte) []byte {
	return NewWriter(PktChunkImage).S32(pos.X).S32(pos.Y).U32(rawSize).Bytes(lz4Data).Build()
}

// ChunkPixelPack builds a compressed delta broadcast.
func ChunkPixelPack(pos canvas.ChunkPos, pixelCount uint32, rawSize uint32, lz4Data []byte) []byte {
	return NewWriter(PktChunkPixelPack).S32(pos.X).S32(pos.Y).U32(pixelCount).U32(rawSize).Bytes(lz4Data).Build()
}

// ChunkCreate announces that a chunk now exists in the client's view.
func ChunkCreate(pos canvas.ChunkPos) []byte {
	return NewWriter(PktChunkCreate).S32(pos.X).S32(pos.Y).Build()
}

// ChunkRemove announces that a chunk has left the client's view.
func ChunkRemove(pos canvas.ChunkPos) []byte {
	return NewWriter(PktChunkRemove).S32(pos.X).S32(pos.Y).Build()
}

// PreviewImage replies to a preview_request.
func PreviewImage(px, py int32, zoom uint8, lz4Data []byte) []byte {
	return NewWriter(PktPreviewImage).S32(px).S32(py).U8(zoom).Bytes(lz4Data).Build()
}

// UserCreate announces a new session to the room (or an existing session
// to a newly-announced one).
func UserCreate(id uint16, nickname string) []byte {
	return NewWriter(PktUserCreate).U16(id).Bytes([]byte(nickname)).Build()
}

// UserRemove announces that a session has left.
func UserRemove(id uint16) []byte {
	return NewWriter(PktUserRemove).U16(id).Build()
}

// UserCursorPos broadcasts a session's current cursor position.
func UserCursorPos(id uint16, pos canvas.GlobalPos) []byte {
	return NewWriter(PktUserCursorPos).U16(id).S32(pos.X).S32(pos.Y).Build()
}
