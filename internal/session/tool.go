package session

import (
	"math"

	"github.com/olekolek1000/multipixel/internal/canvas"
	"github.com/olekolek1000/multipixel/internal/protocol"
)

// maxStrokeSegment bounds how many pixels a single cursor_pos step may
// stamp; anything longer is treated as a deliberate attempt to grief the
// server (or a client/network glitch) and cancels the stroke, grounded on
// the original brush.rs tool's "too much pixels at one iteration" guard.
const maxStrokeSegment = 300

// updateCursor advances whichever tool is active using the most recent
// cursor_pos update. It is the dispatch point both handleCursorPos and
// handleCursorDown/Up funnel through.
func (s *Session) updateCursor() {
	s.mu.Lock()
	kind := s.tool.Kind
	s.mu.Unlock()

	switch kind {
	case protocol.ToolBrush:
		s.updateBrush()
	case protocol.ToolFloodFill:
		s.triggerFloodfill()
	}

	s.mu.Lock()
	s.cursorJustClicked = false
	s.mu.Unlock()
}

// updateBrush interpolates between the previous and current cursor
// positions and stamps the brush mask along the segment.
func (s *Session) updateBrush() {
	s.mu.Lock()
	down := s.cursorDown
	prev, cur := s.cursorPrev, s.cursorCur
	size := s.tool.Size
	col := s.tool.Color
	s.mu.Unlock()

	if !down {
		return
	}

	iters := strokeDistance(prev, cur)
	if iters == 0 {
		iters = 1
	}
	if iters > maxStrokeSegment {
		s.mu.Lock()
		s.cursorDown = false
		s.mu.Unlock()
		return
	}

	maskCache := s.host.MaskCache()
	filled := maskCache.getFilled(size)
	outline := maskCache.getOutline(size)

	var pixels []GlobalPixel
	for i := int32(0); i <= iters; i++ {
		alpha := float64(i) / float64(iters)
		x := lerp(alpha, prev.X, cur.X)
		y := lerp(alpha, prev.Y, cur.Y)

		switch size {
		case 1:
			pixels = append(pixels, GlobalPixel{Pos: canvas.GlobalPos{X: x, Y: y}, Color: col})
		case 2:
			pixels = append(pixels,
				GlobalPixel{Pos: canvas.GlobalPos{X: x, Y: y}, Color: col},
				GlobalPixel{Pos: canvas.GlobalPos{X: x - 1, Y: y}, Color: col},
				GlobalPixel{Pos: canvas.GlobalPos{X: x + 1, Y: y}, Color: col},
				GlobalPixel{Pos: canvas.GlobalPos{X: x, Y: y - 1}, Color: col},
				GlobalPixel{Pos: canvas.GlobalPos{X: x, Y: y + 1}, Color: col},
			)
		default:
			shape := outline
			if i == 0 {
				shape = filled
			}
			half := int32(size) / 2
			for yy := 0; yy < shape.size; yy++ {
				for xx := 0; xx < shape.size; xx++ {
					if !shape.data[yy*shape.size+xx] {
						continue
					}
					pixels = append(pixels, GlobalPixel{
						Pos:   canvas.GlobalPos{X: x + int32(xx) - half, Y: y + int32(yy) - half},
						Color: col,
					})
				}
			}
		}
	}

	s.setPixelsGlobal(pixels, false)
}

// strokeDistance is the pixel count to interpolate between two cursor
// positions: the Chebyshev-adjacent distance max(|dx|,|dy|).
func strokeDistance(a, b canvas.GlobalPos) int32 {
	dx := abs32(b.X - a.X)
	dy := abs32(b.Y - a.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func lerp(alpha float64, a, b int32) int32 {
	return a + int32(math.Round(alpha*float64(b-a)))
}
