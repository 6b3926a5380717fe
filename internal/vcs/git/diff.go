package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/bgm-archive/archiver/internal/vcs"
)

// Diff returns the path-level differences between the trees of commits a
// and b. Renames are reported as a deletion plus an addition.
func (g *Git) Diff(ctx context.Context, a, b string) ([]vcs.Change, error) {
	output, err := vcs.ExecContext(ctx, defaultTimeout, g.repoRoot,
		"git", "diff-tree", "-r", "--no-renames", "--name-status", "-z", a, b)
	if err != nil {
		if vcs.GetExitCode(err) == 128 {
			return nil, fmt.Errorf("%w: diff %s %s: %v", vcs.ErrRefNotFound, a, b, err)
		}
		return nil, fmt.Errorf("git diff-tree failed: %w", err)
	}

	return parseNameStatus(string(output))
}

// parseNameStatus parses `--name-status -z` output: NUL-separated
// status, path pairs.
func parseNameStatus(output string) ([]vcs.Change, error) {
	fields := strings.Split(strings.TrimSuffix(output, "\x00"), "\x00")
	if len(fields) == 1 && fields[0] == "" {
		return nil, nil
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("unexpected diff-tree output: %d fields", len(fields))
	}

	changes := make([]vcs.Change, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		changes = append(changes, vcs.Change{
			Path: fields[i+1],
			Kind: parseChangeKind(fields[i]),
		})
	}
	return changes, nil
}

// parseChangeKind maps git status letters onto the three change kinds.
// Type changes and unmerged entries count as modifications.
func parseChangeKind(code string) vcs.ChangeKind {
	switch {
	case strings.HasPrefix(code, "A"):
		return vcs.ChangeAdded
	case strings.HasPrefix(code, "D"):
		return vcs.ChangeDeleted
	default:
		return vcs.ChangeModified
	}
}

// Show returns the content of path as of commit.
func (g *Git) Show(ctx context.Context, commit, path string) ([]byte, error) {
	output, err := vcs.ExecContext(ctx, defaultTimeout, g.repoRoot,
		"git", "cat-file", "blob", commit+":"+path)
	if err != nil {
		if vcs.GetExitCode(err) == 128 {
			return nil, fmt.Errorf("%w: %s:%s", vcs.ErrPathNotFound, commit, path)
		}
		return nil, fmt.Errorf("git cat-file failed: %w", err)
	}
	return output, nil
}
