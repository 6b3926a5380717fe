package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Constructor creates a Repository for a given path inside a working tree.
// Implementations register themselves with the registry using Register().
type Constructor func(path string) (Repository, error)

// registry maps VCS types to their constructors
var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex

	// opened caches repositories by working tree root
	opened sync.Map
)

// Register registers a VCS implementation constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, open)
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a constructor is registered for the given type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// UnregisterAll clears all registered constructors and the open cache.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Type]Constructor)
	ResetCache()
}

// ResetCache forgets every repository returned by Open.
func ResetCache() {
	opened.Range(func(key, _ any) bool {
		opened.Delete(key)
		return true
	})
}

// Open returns the repository containing path. Instances are cached by
// repository root, so pipelines sharing a repository share one value.
//
// Returns ErrNotInVCS if path is not inside a repository and
// ErrVCSNotAvailable if no implementation is registered for it.
func Open(path string) (Repository, error) {
	root, t, err := Detect(path)
	if err != nil {
		return nil, err
	}

	if cached, ok := opened.Load(root); ok {
		return cached.(Repository), nil
	}

	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: no implementation registered for %s", ErrVCSNotAvailable, t)
	}

	repo, err := constructor(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s repository at %s: %w", t, root, err)
	}

	actual, _ := opened.LoadOrStore(root, repo)
	return actual.(Repository), nil
}

// Detect walks up from path until it finds a .git directory or file and
// returns the working tree root.
func Detect(path string) (string, Type, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}

	current := absPath
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			if resolved, err := filepath.EvalSymlinks(current); err == nil {
				current = resolved
			}
			return current, TypeGit, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", "", fmt.Errorf("%w: %s", ErrNotInVCS, absPath)
		}
		current = parent
	}
}
