package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bgm-archive/archiver/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes
// If paths are specified, only checks those paths
func (g *Git) HasChanges(paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Add stages paths. Paths removed from the working tree are staged as
// deletions, so callers do not need a separate rm step.
func (g *Git) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "-A", "--"}, paths...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git add failed: %w\n%s", err, string(output))
	}

	return nil
}

// Commit creates a commit with the specified options
func (g *Git) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("commit message is required")
	}

	// Stage files if paths specified
	if len(opts.Paths) > 0 {
		if err := g.Add(ctx, opts.Paths); err != nil {
			return err
		}
	}

	// -F - keeps multi-line messages byte for byte
	args := []string{"commit", "--cleanup=verbatim", "-F", "-"}

	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}

	if opts.NoGPGSign {
		args = append(args, "--no-gpg-sign")
	}

	if opts.NoVerify {
		args = append(args, "--no-verify")
	}

	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot
	cmd.Stdin = strings.NewReader(opts.Message)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return fmt.Errorf("git commit failed: %w", vcs.ErrNothingToCommit)
		}
		return fmt.Errorf("git commit failed: %w\n%s", err, string(output))
	}

	return nil
}
