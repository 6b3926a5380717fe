// Package vcs defines the version control operations the archive pipeline
// depends on.
//
// Archives live in plain git repositories: the HTML capture repository is
// read through the walker and diff primitives, the JSON repository is both
// read (by the database propagator) and written (by the converter).
//
// # Usage
//
//	repo, err := vcs.Open("/srv/archive/html")
//	if err != nil {
//	    return err
//	}
//	for c, err := range repo.Log(ctx, from, "HEAD") {
//	    ...
//	}
//
// # Implementations
//
//   - internal/vcs/git: git CLI implementation
package vcs

import (
	"context"
	"iter"
	"time"
)

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git repository
	TypeGit Type = "git"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// Repository is the set of history operations used by the walkers.
//
// All history-reading methods take commit references that the backend
// resolves itself; an unresolvable reference is reported as ErrRefNotFound.
type Repository interface {
	// Name returns the VCS type
	Name() Type

	// RepoRoot returns the working tree root
	RepoRoot() (string, error)

	// ===================
	// History
	// ===================

	// Log yields the commits reachable from `to` and not from `from`,
	// oldest first. The lower bound is exclusive. An empty `from` starts
	// at the root commit. The sequence is produced lazily and cannot be
	// resumed; callers keep their own cursor.
	Log(ctx context.Context, from, to string) iter.Seq2[Commit, error]

	// Diff returns the paths that differ between the trees of a and b.
	Diff(ctx context.Context, a, b string) ([]Change, error)

	// Show returns the content of path as of commit.
	Show(ctx context.Context, commit, path string) ([]byte, error)

	// Resolve returns the full commit id for ref.
	Resolve(ctx context.Context, ref string) (string, error)

	// FirstCommit returns the oldest root commit reachable from HEAD.
	FirstCommit(ctx context.Context) (string, error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	// A commit is its own ancestor.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// CountCommits counts commits reachable from `to` and not from `from`.
	CountCommits(ctx context.Context, from, to string) (int, error)

	// Stats reports object store size and HEAD.
	Stats(ctx context.Context) (RepoStats, error)

	// ===================
	// Working tree
	// ===================

	// Add stages paths, including removals.
	Add(ctx context.Context, paths []string) error

	// HasChanges returns true if there are uncommitted changes.
	HasChanges(paths ...string) (bool, error)

	// Commit creates a commit with the specified options.
	Commit(ctx context.Context, opts CommitOptions) error
}

// Commit is one entry of the commit log.
type Commit struct {
	// Hash is the full commit id
	Hash string

	// Tree is the root tree id
	Tree string

	// Parents lists parent commit ids, first parent first
	Parents []string

	// Message is the full commit message without trailing newlines
	Message string

	AuthorTime time.Time
	CommitTime time.Time
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// ChangeKind classifies a path difference between two trees.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "A"
	ChangeModified ChangeKind = "M"
	ChangeDeleted  ChangeKind = "D"
)

// Change is one path-level difference between two trees.
type Change struct {
	Path string
	Kind ChangeKind
}

// ChangedPaths returns the paths of changes that still exist in the newer
// tree. Deletions are excluded.
func ChangedPaths(changes []Change) []string {
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.Kind != ChangeDeleted {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// DeletedPaths returns only the deleted paths.
func DeletedPaths(changes []Change) []string {
	var paths []string
	for _, c := range changes {
		if c.Kind == ChangeDeleted {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// RepoStats describes the size and tip of a repository.
type RepoStats struct {
	Head        string
	Objects     int64
	SizeBytes   int64
	PackedBytes int64
	Packs       int64
}

// TotalBytes is the loose plus packed object size.
func (s RepoStats) TotalBytes() int64 {
	return s.SizeBytes + s.PackedBytes
}

// CommitOptions configures a commit operation
type CommitOptions struct {
	// Message is the commit message (required)
	Message string

	// Paths limits the commit to specific paths
	// If empty, commits all staged changes
	Paths []string

	// Author overrides the commit author (format: "Name <email>")
	Author string

	// AllowEmpty allows creating a commit with no changes
	AllowEmpty bool

	// NoVerify skips pre-commit hooks
	NoVerify bool

	// NoGPGSign disables GPG signing
	NoGPGSign bool
}
