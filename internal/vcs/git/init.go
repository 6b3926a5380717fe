// Package git provides a git CLI implementation of vcs.Repository.
//
// Every operation shells out to the git binary in the repository root.
// History reads (log, diff-tree, show) never touch the working tree, so a
// source archive can be walked while its capture process keeps committing.
// The package registers itself with vcs.Open on import.
//
// Usage:
//
//	import _ "github.com/bgm-archive/archiver/internal/vcs/git" // Auto-registers via init()
//
//	repo, err := vcs.Open("/srv/archive/html")
package git

import "github.com/bgm-archive/archiver/internal/vcs"

// init registers the git implementation with vcs.Open.
func init() {
	vcs.Register(vcs.TypeGit, func(path string) (vcs.Repository, error) {
		return New(path)
	})
}
