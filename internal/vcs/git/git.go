package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bgm-archive/archiver/internal/vcs"
)

// defaultTimeout bounds single git invocations that are not streamed.
const defaultTimeout = 2 * time.Minute

// Git implements vcs.Repository for git repositories.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path
	vcsDir string
}

var _ vcs.Repository = (*Git)(nil)

// New creates a new Git instance for the given repository.
// The path should be somewhere within a git repository.
func New(path string) (*Git, error) {
	g := &Git{}

	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Version returns the git version string
func (g *Git) Version() (string, error) {
	cmd := exec.Command("git", "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	// Output format: "git version 2.39.0"
	return strings.TrimPrefix(strings.TrimSpace(string(output)), "git version "), nil
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() (string, error) {
	if g.repoRoot == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.repoRoot, nil
}

// VCSDir returns the .git directory path
func (g *Git) VCSDir() (string, error) {
	if g.vcsDir == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.vcsDir, nil
}

// Exec executes a raw git command in the repository root.
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	output, err := vcs.ExecContext(ctx, defaultTimeout, g.repoRoot, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return output, nil
}
