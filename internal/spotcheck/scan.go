package spotcheck

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/schema"
)

// ScanResult is the classification of one category's id space.
type ScanResult struct {
	// MaxID is the largest id with an artifact
	MaxID int

	// Hidden marks ids that are missing, hidden or empty
	Hidden *Mask

	// Good lists ids with visible content, ascending
	Good []int

	// Full reports whether every artifact was parsed
	Full bool
}

// listIDs returns the ids with an artifact under root/cat, ascending.
func listIDs(root, cat, ext string) ([]int, error) {
	dir := filepath.Join(root, cat)
	var ids []int

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		ref, ok := category.ParsePath(filepath.ToSlash(rel))
		if ok && ref.Category == cat && ref.Ext == ext {
			ids = append(ids, ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", cat, err)
	}

	sort.Ints(ids)
	return ids, nil
}

// isHidden reports whether the artifact for id carries no visible content.
// Unreadable artifacts count as hidden.
func isHidden(root, cat, ext string, id int) bool {
	path := filepath.Join(root, filepath.FromSlash(category.Path(cat, id, ext)))
	if _, err := os.Stat(path); err != nil {
		return true
	}
	topic, err := schema.ReadTopicFile(path)
	if err != nil {
		return true
	}
	return topic.IsEmpty()
}

// FullScan parses every artifact of the category.
func FullScan(root, cat, ext string) (ScanResult, error) {
	ids, err := listIDs(root, cat, ext)
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Hidden: NewMask(0), Full: true}
	if len(ids) > 0 {
		res.MaxID = ids[len(ids)-1]
	}
	res.Hidden.Set(0)

	next := 0
	for id := 1; id <= res.MaxID; id++ {
		if next < len(ids) && ids[next] == id {
			next++
			if isHidden(root, cat, ext, id) {
				res.Hidden.Set(id)
			} else {
				res.Good = append(res.Good, id)
			}
			continue
		}
		res.Hidden.Set(id)
	}

	res.Hidden.Grow(res.MaxID)
	return res, nil
}

// PartialScan parses only the visited ids and merges the result into old.
// Unvisited ids without an artifact are hidden wherever they fall; old's
// length is rounded up to whole words and says nothing about the last max id.
func PartialScan(root, cat, ext string, old *Mask, visited []int) (ScanResult, error) {
	ids, err := listIDs(root, cat, ext)
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{}
	if len(ids) > 0 {
		res.MaxID = ids[len(ids)-1]
	}
	present := make(map[int]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	seen := NewMask(0)
	fresh := NewMask(0)
	for _, id := range visited {
		if id <= 0 {
			continue
		}
		seen.Set(id)
		if !present[id] || isHidden(root, cat, ext, id) {
			fresh.Set(id)
		}
		if id > res.MaxID {
			res.MaxID = id
		}
	}

	res.Hidden = Merge(old, fresh, seen)
	for id := 1; id <= res.MaxID; id++ {
		if !seen.Test(id) && !present[id] {
			res.Hidden.Set(id)
		}
	}
	res.Hidden.Set(0)
	res.Hidden.Grow(res.MaxID)

	for _, id := range ids {
		if !res.Hidden.Test(id) {
			res.Good = append(res.Good, id)
		}
	}
	return res, nil
}
