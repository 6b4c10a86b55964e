package session

import (
	"math"
	"sync"
)

// brushMask is a precomputed circular stamp, cached per (size, filled)
// pair as spec.md §4.3 requires. Grounded on original_source's
// tool/brush.rs BrushShape: data[y*size+x] is 1 where the pixel should be
// stamped.
type brushMask struct {
	size int
	data []bool
}

func newBrushMask(size int, filled bool) *brushMask {
	data := make([]bool, size*size)
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := center - float64(x)
			dy := center - float64(y)
			dist := math.Sqrt(dx*dx + dy*dy)
			if filled {
				data[y*size+x] = dist <= center
			} else {
				data[y*size+x] = dist <= center && dist >= center-2
			}
		}
	}
	return &brushMask{size: size, data: data}
}

// MaskCache caches circular brush masks per (size, filled), shared by
// every session in a room (spec.md §3: "Room owns... a brush-shape
// cache"). The room constructs one and hands it back to each session via
// RoomHost.
type MaskCache struct {
	mu      sync.Mutex
	filled  map[uint8]*brushMask
	outline map[uint8]*brushMask
}

func NewMaskCache() *MaskCache {
	return &MaskCache{filled: make(map[uint8]*brushMask), outline: make(map[uint8]*brushMask)}
}

func (c *MaskCache) getFilled(size uint8) *brushMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.filled[size]; ok {
		return m
	}
	m := newBrushMask(int(size), true)
	c.filled[size] = m
	return m
}

func (c *MaskCache) getOutline(size uint8) *brushMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.outline[size]; ok {
		return m
	}
	m := newBrushMask(int(size), false)
	c.outline[size] = m
	return m
}
