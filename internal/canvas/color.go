// Package canvas defines the coordinate spaces and color type shared by
// every other package: global pixel positions, chunk positions, and the
// local position of a pixel inside its chunk.
package canvas

// Color is a pixel's RGB value. The zero value is black; BlankColor is the
// default fill of a freshly-allocated chunk.
type Color struct {
	R, G, B uint8
}

// BlankColor is the default color of an unpainted pixel.
var BlankColor = Color{255, 255, 255}

// ChunkSize is the width and height, in pixels, of one resident chunk.
const ChunkSize = 256

// GlobalPos addresses a single pixel on the unbounded canvas.
type GlobalPos struct {
	X, Y int32
}

// ChunkPos addresses a 256x256 tile. Chunk (cx,cy) covers pixels
// x in [cx*256, cx*256+255], y analogous.
type ChunkPos struct {
	X, Y int32
}

// LocalPos is a pixel's position inside its chunk, always in [0,255]^2.
type LocalPos struct {
	X, Y uint8
}

// GlobalToChunk floors the division by ChunkSize so that negative
// coordinates map consistently: pixel -1 lies in chunk -1, not chunk 0.
func GlobalToChunk(p GlobalPos) ChunkPos {
	return ChunkPos{X: FloorDiv(p.X, ChunkSize), Y: FloorDiv(p.Y, ChunkSize)}
}

// GlobalToLocal takes the Euclidean remainder mod ChunkSize, always
// non-negative.
func GlobalToLocal(p GlobalPos) LocalPos {
	return LocalPos{X: uint8(FloorMod(p.X, ChunkSize)), Y: uint8(FloorMod(p.Y, ChunkSize))}
}

// ChunkLocalToGlobal is the inverse of GlobalToChunk+GlobalToLocal: it
// round-trips for every global position.
func ChunkLocalToGlobal(c ChunkPos, l LocalPos) GlobalPos {
	return GlobalPos{X: c.X*ChunkSize + int32(l.X), Y: c.Y*ChunkSize + int32(l.Y)}
}

// FloorDiv is integer division rounding toward negative infinity, unlike
// Go's native truncating division. Used for both the global-to-chunk
// mapping and the preview pyramid's child-to-parent mapping.
func FloorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod is the Euclidean remainder matching FloorDiv, always
// non-negative when b is positive.
func FloorMod(a, b int32) int32 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
