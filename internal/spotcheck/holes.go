package spotcheck

import (
	"strconv"
	"sync"
)

// FindHoles looks at the trailing window of the ascending known-good id
// list and returns the ids absent from it that form runs of at most
// maxRun consecutive ids. Longer runs are treated as legitimate gaps.
//
// The window covers the last min(windowCap, 2*len(good)/3) known ids.
func FindHoles(good []int, windowCap, maxRun int) []int {
	n := min(windowCap, 2*len(good)/3)
	if n < 2 || maxRun <= 0 {
		return nil
	}
	window := good[len(good)-n:]

	var holes []int
	for i := 1; i < len(window); i++ {
		gap := window[i] - window[i-1] - 1
		if gap <= 0 || gap > maxRun {
			continue
		}
		for id := window[i-1] + 1; id < window[i]; id++ {
			holes = append(holes, id)
		}
	}
	return holes
}

// HoleCache remembers flagged holes for the sampler's lifetime so a hole
// is reported once. It is cleared when it grows past factor times the
// number of distinct categories checked.
type HoleCache struct {
	mu         sync.Mutex
	factor     int
	seen       map[string]struct{}
	categories map[string]struct{}
}

// NewHoleCache returns an empty cache.
func NewHoleCache(factor int) *HoleCache {
	if factor <= 0 {
		factor = 1
	}
	return &HoleCache{
		factor:     factor,
		seen:       make(map[string]struct{}),
		categories: make(map[string]struct{}),
	}
}

// Filter returns the holes of cat not reported before and remembers them.
func (c *HoleCache) Filter(cat string, holes []int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.categories[cat] = struct{}{}

	var fresh []int
	for _, id := range holes {
		key := cat + "/" + strconv.Itoa(id)
		if _, ok := c.seen[key]; ok {
			continue
		}
		c.seen[key] = struct{}{}
		fresh = append(fresh, id)
	}

	if len(c.seen) > c.factor*len(c.categories) {
		clear(c.seen)
	}
	return fresh
}

// Len returns the number of remembered holes.
func (c *HoleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
