package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bgm-archive/archiver/internal/schema"
	"github.com/bgm-archive/archiver/internal/store"
)

func TestReconcileLikesZeroesMissingCounters(t *testing.T) {
	stored := map[store.LikeKey]int{{PostID: 1, Value: 2}: 5}
	got := ReconcileLikes(stored, nil)
	assert.Equal(t, []schema.Like{{PostID: 1, Value: 2, Total: 0}}, got)
}

func TestReconcileLikesKeepsArtifactCounters(t *testing.T) {
	stored := map[store.LikeKey]int{
		{PostID: 1, Value: 2}: 5,
		{PostID: 3, Value: 1}: 0,
		{PostID: 2, Value: 9}: 4,
	}
	likes := []schema.Like{{PostID: 1, Value: 2, Total: 7}}

	got := ReconcileLikes(stored, likes)
	assert.Equal(t, []schema.Like{
		{PostID: 1, Value: 2, Total: 7},
		{PostID: 2, Value: 9, Total: 0},
	}, got)
}

func TestDeletedReplies(t *testing.T) {
	posts := []schema.Post{{ID: 10}, {ID: 12}}
	assert.Equal(t, []int64{11, 13}, DeletedReplies([]int64{13, 10, 11, 12}, posts))
	assert.Empty(t, DeletedReplies([]int64{10}, posts))
}
