package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bgm-archive/archiver/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if _, err := exec.LookPath("git"); err != nil {
		return vcs.ErrVCSNotAvailable
	}

	cmd := exec.Command("git", "rev-parse", "--git-dir", "--show-toplevel")
	cmd.Dir = absPath

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: %s", vcs.ErrNotInVCS, absPath)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	gitDir := strings.TrimSpace(lines[0])
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	g.vcsDir = gitDir
	g.repoRoot = normalizeRepoRoot(strings.TrimSpace(lines[1]))

	return nil
}

// normalizeRepoRoot resolves symlinks so cache keys and path joins agree
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}

// Stats reports the object store size and the current HEAD.
// An empty repository reports a zero Head.
func (g *Git) Stats(ctx context.Context) (vcs.RepoStats, error) {
	output, err := g.Exec(ctx, "count-objects", "-v")
	if err != nil {
		return vcs.RepoStats{}, err
	}

	kv := vcs.ParseKeyValue(output)
	stats := vcs.RepoStats{
		Objects: vcs.ParseKeyInt(kv, "count") + vcs.ParseKeyInt(kv, "in-pack"),
		// count-objects reports sizes in KiB
		SizeBytes:   vcs.ParseKeyInt(kv, "size") * 1024,
		PackedBytes: vcs.ParseKeyInt(kv, "size-pack") * 1024,
		Packs:       vcs.ParseKeyInt(kv, "packs"),
	}

	if head, err := g.Resolve(ctx, "HEAD"); err == nil {
		stats.Head = head
	}

	return stats, nil
}
