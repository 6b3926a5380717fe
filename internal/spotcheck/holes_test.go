package spotcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rangeExcept(lo, hi int, skip ...int) []int {
	skipped := make(map[int]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	var ids []int
	for i := lo; i <= hi; i++ {
		if !skipped[i] {
			ids = append(ids, i)
		}
	}
	return ids
}

func TestFindHoles(t *testing.T) {
	skip := []int{50, 60, 61}
	for id := 70; id < 80; id++ {
		skip = append(skip, id)
	}
	good := rangeExcept(1, 100, skip...)

	// the ten-id run is a legitimate gap; singles and pairs are holes
	assert.Equal(t, []int{50, 60, 61}, FindHoles(good, 200, 3))

	// a narrow window only sees the tail
	assert.Empty(t, FindHoles(good, 10, 3))

	assert.Nil(t, FindHoles([]int{1, 3}, 200, 3))
}

func TestFindHolesWindowIsTwoThirds(t *testing.T) {
	// 30 ids with a hole at 5: window is the last 20 ids, which start at 12
	good := rangeExcept(1, 31, 5)
	assert.Empty(t, FindHoles(good, 200, 3))

	good = rangeExcept(1, 31, 25)
	assert.Equal(t, []int{25}, FindHoles(good, 200, 3))
}

func TestHoleCache(t *testing.T) {
	c := NewHoleCache(4)

	assert.Equal(t, []int{5, 6}, c.Filter("group", []int{5, 6}))
	assert.Empty(t, c.Filter("group", []int{5, 6}))
	assert.Equal(t, []int{5}, c.Filter("subject", []int{5}))
	assert.Equal(t, 3, c.Len())

	// nine entries over two categories exceed 4*2 and clear the cache
	assert.Equal(t, []int{7, 8, 9, 10, 11, 12}, c.Filter("group", []int{7, 8, 9, 10, 11, 12}))
	assert.Equal(t, 0, c.Len())

	// after the clear, old holes are reported again
	assert.Equal(t, []int{5}, c.Filter("group", []int{5}))
}
