package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, vcs.ErrRefNotFound) {
//	    // configuration problem, do not retry
//	}
var (
	// ErrNotInVCS is returned when a configured repository path is not
	// inside a git repository.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrRefNotFound is returned when a commit reference cannot be
	// resolved to a commit.
	ErrRefNotFound = errors.New("reference not found")

	// ErrPathNotFound is returned when a path does not exist in the
	// requested commit's tree.
	ErrPathNotFound = errors.New("path not found in commit")

	// ErrEmptyRepository is returned when history is requested from a
	// repository without commits.
	ErrEmptyRepository = errors.New("repository has no commits")

	// ErrNothingToCommit is returned when a commit is requested with
	// nothing staged and AllowEmpty unset.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsFatal returns true if the error is a configuration problem that no
// retry will fix. Runs hitting a fatal error stop before advancing any
// watermark.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Not in VCS means we can't do anything
	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	// Binary not available means we can't execute commands
	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	// A watermark or configured ref that does not resolve
	if errors.Is(err, ErrRefNotFound) {
		return true
	}

	return errors.Is(err, ErrEmptyRepository)
}
