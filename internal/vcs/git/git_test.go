package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/bgm-archive/archiver/internal/vcs"
)

// setupTestRepo creates a temporary git repository for testing
func setupTestRepo(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = tmpDir
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	// Configure git user for commits
	exec.Command("git", "-C", tmpDir, "config", "user.name", "Test User").Run()
	exec.Command("git", "-C", tmpDir, "config", "user.email", "test@example.com").Run()
	exec.Command("git", "-C", tmpDir, "config", "commit.gpgsign", "false").Run()

	return tmpDir
}

// commitFiles writes files (empty content deletes) and commits them,
// returning the new commit id.
func commitFiles(t *testing.T, dir, message string, files map[string]string) string {
	t.Helper()

	for path, content := range files {
		full := filepath.Join(dir, path)
		if content == "" {
			if err := os.Remove(full); err != nil {
				t.Fatalf("failed to remove %s: %v", path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-q", "--allow-empty", "-m", message)
	return strings.TrimSpace(run(t, dir, "rev-parse", "HEAD"))
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

func collect(t *testing.T, g *Git, from, to string) []vcs.Commit {
	t.Helper()
	var commits []vcs.Commit
	for c, err := range g.Log(context.Background(), from, to) {
		if err != nil {
			t.Fatalf("Log(%q, %q) failed: %v", from, to, err)
		}
		commits = append(commits, c)
	}
	return commits
}

func TestNew(t *testing.T) {
	repoPath := setupTestRepo(t)

	g, err := New(repoPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if g.Name() != vcs.TypeGit {
		t.Errorf("Name() = %v, want %v", g.Name(), vcs.TypeGit)
	}

	root, err := g.RepoRoot()
	if err != nil {
		t.Fatalf("RepoRoot() failed: %v", err)
	}
	want, _ := filepath.EvalSymlinks(repoPath)
	if root != want {
		t.Errorf("RepoRoot() = %s, want %s", root, want)
	}
}

func TestNewOutsideRepository(t *testing.T) {
	_, err := New(t.TempDir())
	if !errors.Is(err, vcs.ErrNotInVCS) {
		t.Errorf("expected ErrNotInVCS, got %v", err)
	}
}

func TestOpenUsesRegisteredImplementation(t *testing.T) {
	repoPath := setupTestRepo(t)

	repo, err := vcs.Open(repoPath)
	if err != nil {
		t.Fatalf("vcs.Open() failed: %v", err)
	}
	if _, ok := repo.(*Git); !ok {
		t.Errorf("vcs.Open() returned %T, want *Git", repo)
	}
}

func TestLogExclusiveOldestFirst(t *testing.T) {
	repoPath := setupTestRepo(t)
	c0 := commitFiles(t, repoPath, "init archive", map[string]string{"README": "archive"})
	c1 := commitFiles(t, repoPath, "GROUP title | 1000", map[string]string{"group/00/00/5.html": "v1"})
	c2 := commitFiles(t, repoPath, "GROUP title | 2000\n\nsecond line", map[string]string{"group/00/00/5.html": "v2"})

	g, err := New(repoPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	commits := collect(t, g, c0, "HEAD")
	if len(commits) != 2 {
		t.Fatalf("Log() returned %d commits, want 2", len(commits))
	}
	if commits[0].Hash != c1 || commits[1].Hash != c2 {
		t.Errorf("Log() order = [%s %s], want [%s %s]", commits[0].Hash, commits[1].Hash, c1, c2)
	}
	if commits[1].Message != "GROUP title | 2000\n\nsecond line" {
		t.Errorf("Message = %q", commits[1].Message)
	}
	if commits[1].Subject() != "GROUP title | 2000" {
		t.Errorf("Subject() = %q", commits[1].Subject())
	}
	if len(commits[1].Parents) != 1 || commits[1].Parents[0] != c1 {
		t.Errorf("Parents = %v, want [%s]", commits[1].Parents, c1)
	}
	if commits[0].Tree == "" || commits[0].CommitTime.IsZero() {
		t.Errorf("Tree/CommitTime not populated: %+v", commits[0])
	}
}

func TestLogEmptyFromIncludesRoot(t *testing.T) {
	repoPath := setupTestRepo(t)
	c0 := commitFiles(t, repoPath, "init", map[string]string{"README": "x"})
	commitFiles(t, repoPath, "GROUP a | 1", map[string]string{"group/00/00/1.html": "x"})

	g, _ := New(repoPath)

	commits := collect(t, g, "", "HEAD")
	if len(commits) != 2 || commits[0].Hash != c0 {
		t.Errorf("Log(\"\", HEAD) = %d commits starting %v, want 2 starting %s", len(commits), commits, c0)
	}
}

func TestLogSameBoundsIsEmpty(t *testing.T) {
	repoPath := setupTestRepo(t)
	c0 := commitFiles(t, repoPath, "init", map[string]string{"README": "x"})

	g, _ := New(repoPath)

	if commits := collect(t, g, c0, c0); len(commits) != 0 {
		t.Errorf("Log(c, c) returned %d commits, want 0", len(commits))
	}
	if commits := collect(t, g, "HEAD", c0); len(commits) != 0 {
		t.Errorf("Log(HEAD, c) returned %d commits, want 0", len(commits))
	}
}

func TestLogUnresolvableRefIsFatal(t *testing.T) {
	repoPath := setupTestRepo(t)
	commitFiles(t, repoPath, "init", map[string]string{"README": "x"})

	g, _ := New(repoPath)

	var got error
	for _, err := range g.Log(context.Background(), "0123456789abcdef0123456789abcdef01234567", "HEAD") {
		got = err
	}
	if !errors.Is(got, vcs.ErrRefNotFound) {
		t.Fatalf("expected ErrRefNotFound, got %v", got)
	}
	if !vcs.IsFatal(got) {
		t.Error("unresolvable ref should be fatal")
	}
}

func TestLogStopsEarly(t *testing.T) {
	repoPath := setupTestRepo(t)
	commitFiles(t, repoPath, "init", map[string]string{"README": "x"})
	first := commitFiles(t, repoPath, "GROUP a | 1", map[string]string{"a.html": "1"})
	commitFiles(t, repoPath, "GROUP b | 2", map[string]string{"b.html": "2"})
	commitFiles(t, repoPath, "GROUP c | 3", map[string]string{"c.html": "3"})

	g, _ := New(repoPath)
	root, _ := g.FirstCommit(context.Background())

	seen := 0
	for c, err := range g.Log(context.Background(), root, "HEAD") {
		if err != nil {
			t.Fatalf("Log() failed: %v", err)
		}
		seen++
		if c.Hash != first {
			t.Errorf("first commit = %s, want %s", c.Hash, first)
		}
		break
	}
	if seen != 1 {
		t.Errorf("saw %d commits, want 1", seen)
	}
}

func TestDiffKinds(t *testing.T) {
	repoPath := setupTestRepo(t)
	c0 := commitFiles(t, repoPath, "init", map[string]string{
		"group/00/00/1.html": "one",
		"group/00/00/2.html": "two",
	})
	c1 := commitFiles(t, repoPath, "GROUP x | 1", map[string]string{
		"group/00/00/1.html": "one changed",
		"group/00/00/2.html": "",
		"group/00/00/3.html": "three",
	})

	g, _ := New(repoPath)

	changes, err := g.Diff(context.Background(), c0, c1)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	got := make(map[string]vcs.ChangeKind)
	for _, c := range changes {
		got[c.Path] = c.Kind
	}
	want := map[string]vcs.ChangeKind{
		"group/00/00/1.html": vcs.ChangeModified,
		"group/00/00/2.html": vcs.ChangeDeleted,
		"group/00/00/3.html": vcs.ChangeAdded,
	}
	if len(got) != len(want) {
		t.Fatalf("Diff() = %v, want %v", got, want)
	}
	for path, kind := range want {
		if got[path] != kind {
			t.Errorf("Diff()[%s] = %s, want %s", path, got[path], kind)
		}
	}

	if changes, err := g.Diff(context.Background(), c1, c1); err != nil || len(changes) != 0 {
		t.Errorf("Diff(c, c) = %v, %v; want empty", changes, err)
	}
}

func TestChangedFileCompleteness(t *testing.T) {
	repoPath := setupTestRepo(t)
	a := commitFiles(t, repoPath, "init", map[string]string{"keep.html": "k", "gone.html": "g"})
	commitFiles(t, repoPath, "GROUP 1 | 1", map[string]string{"x.html": "x1", "keep.html": "k2"})
	commitFiles(t, repoPath, "GROUP 2 | 2", map[string]string{"y.html": "y1", "gone.html": ""})
	commitFiles(t, repoPath, "GROUP 3 | 3", map[string]string{"x.html": "x2", "tmp.html": "t"})
	b := commitFiles(t, repoPath, "GROUP 4 | 4", map[string]string{"tmp.html": ""})

	g, _ := New(repoPath)
	ctx := context.Background()

	direct, err := g.Diff(ctx, a, b)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}
	want := vcs.ChangedPaths(direct)
	sort.Strings(want)

	union := make(map[string]bool)
	prev := a
	for c, err := range g.Log(ctx, a, b) {
		if err != nil {
			t.Fatalf("Log() failed: %v", err)
		}
		changes, err := g.Diff(ctx, prev, c.Hash)
		if err != nil {
			t.Fatalf("Diff() failed: %v", err)
		}
		for _, ch := range changes {
			if ch.Kind == vcs.ChangeDeleted {
				delete(union, ch.Path)
			} else {
				union[ch.Path] = true
			}
		}
		prev = c.Hash
	}

	var got []string
	for p := range union {
		got = append(got, p)
	}
	sort.Strings(got)

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("union of steps = %v, direct diff = %v", got, want)
	}
}

func TestShow(t *testing.T) {
	repoPath := setupTestRepo(t)
	c0 := commitFiles(t, repoPath, "init", map[string]string{"group/00/00/5.html": "<html>v1</html>"})
	commitFiles(t, repoPath, "GROUP t | 1", map[string]string{"group/00/00/5.html": "<html>v2</html>"})

	g, _ := New(repoPath)
	ctx := context.Background()

	data, err := g.Show(ctx, c0, "group/00/00/5.html")
	if err != nil {
		t.Fatalf("Show() failed: %v", err)
	}
	if string(data) != "<html>v1</html>" {
		t.Errorf("Show() = %q", data)
	}

	_, err = g.Show(ctx, c0, "missing.html")
	if !errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("expected ErrPathNotFound, got %v", err)
	}
}

func TestFirstCommitAndAncestry(t *testing.T) {
	repoPath := setupTestRepo(t)
	g, _ := New(repoPath)
	ctx := context.Background()

	if _, err := g.FirstCommit(ctx); !errors.Is(err, vcs.ErrEmptyRepository) {
		t.Errorf("FirstCommit() on empty repo = %v, want ErrEmptyRepository", err)
	}

	c0 := commitFiles(t, repoPath, "init", map[string]string{"README": "x"})
	c1 := commitFiles(t, repoPath, "GROUP a | 1", map[string]string{"a.html": "a"})

	first, err := g.FirstCommit(ctx)
	if err != nil {
		t.Fatalf("FirstCommit() failed: %v", err)
	}
	if first != c0 {
		t.Errorf("FirstCommit() = %s, want %s", first, c0)
	}

	if ok, err := g.IsAncestor(ctx, c0, c1); err != nil || !ok {
		t.Errorf("IsAncestor(c0, c1) = %v, %v; want true", ok, err)
	}
	if ok, err := g.IsAncestor(ctx, c1, c0); err != nil || ok {
		t.Errorf("IsAncestor(c1, c0) = %v, %v; want false", ok, err)
	}
	if ok, err := g.IsAncestor(ctx, c1, c1); err != nil || !ok {
		t.Errorf("IsAncestor(c1, c1) = %v, %v; want true", ok, err)
	}

	n, err := g.CountCommits(ctx, c0, "HEAD")
	if err != nil || n != 1 {
		t.Errorf("CountCommits() = %d, %v; want 1", n, err)
	}
}

func TestCommitKeepsMessageVerbatim(t *testing.T) {
	repoPath := setupTestRepo(t)
	commitFiles(t, repoPath, "init", map[string]string{"README": "x"})

	g, _ := New(repoPath)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(repoPath, "out.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := g.Add(ctx, []string{"out.json"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	msg := "GROUP # not a comment | 1700000000000"
	if err := g.Commit(ctx, vcs.CommitOptions{Message: msg}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	commits := collect(t, g, "HEAD~1", "HEAD")
	if len(commits) != 1 || commits[0].Message != msg {
		t.Errorf("commit message = %q, want %q", commits[0].Message, msg)
	}

	err := g.Commit(ctx, vcs.CommitOptions{Message: "nothing"})
	if !errors.Is(err, vcs.ErrNothingToCommit) {
		t.Errorf("expected ErrNothingToCommit, got %v", err)
	}
}

func TestAddStagesRemovals(t *testing.T) {
	repoPath := setupTestRepo(t)
	commitFiles(t, repoPath, "init", map[string]string{"group/00/00/1.json": "{}"})

	g, _ := New(repoPath)
	ctx := context.Background()

	if err := os.Remove(filepath.Join(repoPath, "group/00/00/1.json")); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if err := g.Add(ctx, []string{"group/00/00/1.json"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := g.Commit(ctx, vcs.CommitOptions{Message: "GROUP rm | 1"}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	changed, err := g.HasChanges()
	if err != nil {
		t.Fatalf("HasChanges() failed: %v", err)
	}
	if changed {
		t.Error("expected clean working tree after committing removal")
	}
}

func TestStats(t *testing.T) {
	repoPath := setupTestRepo(t)
	head := commitFiles(t, repoPath, "init", map[string]string{"README": "archive"})

	g, _ := New(repoPath)

	stats, err := g.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Head != head {
		t.Errorf("Head = %s, want %s", stats.Head, head)
	}
	if stats.Objects == 0 {
		t.Error("expected some objects")
	}
}
