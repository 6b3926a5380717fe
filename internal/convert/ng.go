package convert

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// NGFile is the per-category file of ids whose conversion failed.
const NGFile = "ng.txt"

// ReadNG returns the ids recorded in an NG file. A missing file is empty.
func ReadNG(path string) ([]int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var ids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q in %s: %w", line, path, err)
		}
		ids = append(ids, id)
	}
	return ids, scanner.Err()
}

// MergeNG adds ids to the NG file at path. The file stays sorted and
// free of duplicates, and is only rewritten when the set grows. Returns
// whether the file changed.
func MergeNG(path string, ids []int) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	existing, err := ReadNG(path)
	if err != nil {
		return false, err
	}

	set := make(map[int]struct{}, len(existing)+len(ids))
	for _, id := range existing {
		set[id] = struct{}{}
	}
	before := len(set)
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if len(set) == before {
		return false, nil
	}

	merged := make([]int, 0, len(set))
	for id := range set {
		merged = append(merged, id)
	}
	slices.Sort(merged)

	var b strings.Builder
	for _, id := range merged {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create NG directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
