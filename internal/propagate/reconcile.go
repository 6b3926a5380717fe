package propagate

import (
	"cmp"
	"slices"

	"github.com/bgm-archive/archiver/internal/schema"
	"github.com/bgm-archive/archiver/internal/store"
)

// ReconcileLikes returns the likes to write for a topic: every like of
// the artifact, plus a zero total for each stored non-zero counter the
// artifact no longer carries.
func ReconcileLikes(stored map[store.LikeKey]int, likes []schema.Like) []schema.Like {
	present := make(map[store.LikeKey]bool, len(likes))
	out := make([]schema.Like, 0, len(likes))
	for _, l := range likes {
		present[store.LikeKey{PostID: l.PostID, Value: l.Value}] = true
		out = append(out, l)
	}
	for k, total := range stored {
		if present[k] || total == 0 {
			continue
		}
		out = append(out, schema.Like{PostID: k.PostID, Value: k.Value, Total: 0})
	}

	slices.SortFunc(out, func(a, b schema.Like) int {
		if c := cmp.Compare(a.PostID, b.PostID); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}

// DeletedReplies returns the stored post ids missing from posts, ascending.
func DeletedReplies(stored []int64, posts []schema.Post) []int64 {
	seen := make(map[int64]bool, len(posts))
	for _, p := range posts {
		seen[p.ID] = true
	}

	var gone []int64
	for _, id := range stored {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	slices.Sort(gone)
	return gone
}
