// Package testutil builds throwaway git repositories for package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// GitRepo is a scratch repository in a test temp directory.
type GitRepo struct {
	t   testing.TB
	Dir string
}

// NewGitRepo initializes an empty repository with a local identity.
func NewGitRepo(t testing.TB) *GitRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	r := &GitRepo{t: t, Dir: t.TempDir()}
	r.Run("init", "-q")
	r.Run("config", "user.name", "Test User")
	r.Run("config", "user.email", "test@example.com")
	r.Run("config", "commit.gpgsign", "false")
	return r
}

// Commit writes files and commits them with message, returning the new
// commit id. An empty content removes the file.
func (r *GitRepo) Commit(message string, files map[string]string) string {
	r.t.Helper()

	for path, content := range files {
		full := filepath.Join(r.Dir, filepath.FromSlash(path))
		if content == "" {
			if err := os.Remove(full); err != nil {
				r.t.Fatalf("failed to remove %s: %v", path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			r.t.Fatalf("failed to create dir for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			r.t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	r.Run("add", "-A")
	r.Run("commit", "-q", "--allow-empty", "--cleanup=verbatim", "-m", message)
	return r.Head()
}

// Head returns the current HEAD commit id.
func (r *GitRepo) Head() string {
	r.t.Helper()
	return strings.TrimSpace(r.Run("rev-parse", "HEAD"))
}

// Subject returns the subject line of ref.
func (r *GitRepo) Subject(ref string) string {
	r.t.Helper()
	return strings.TrimSpace(r.Run("log", "-1", "--format=%s", ref))
}

// CountCommits returns the number of commits on HEAD.
func (r *GitRepo) CountCommits() int {
	r.t.Helper()
	n, err := strconv.Atoi(strings.TrimSpace(r.Run("rev-list", "--count", "HEAD")))
	if err != nil {
		r.t.Fatalf("failed to count commits: %v", err)
	}
	return n
}

// Run executes git in the repository and returns combined output.
func (r *GitRepo) Run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

// ReadFile reads a working tree file, failing the test when absent.
func (r *GitRepo) ReadFile(path string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, filepath.FromSlash(path)))
	if err != nil {
		r.t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// Exists reports whether a working tree file exists.
func (r *GitRepo) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(r.Dir, filepath.FromSlash(path)))
	return err == nil
}
