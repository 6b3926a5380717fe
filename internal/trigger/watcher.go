// Package trigger starts conversion runs when a source repository's refs
// move, as an alternative to HTTP triggers.
package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FireFunc is called once per debounced burst of ref updates.
type FireFunc func(ctx context.Context, name string)

// Watcher watches the git directories of named repositories and fires
// when a branch ref or HEAD changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	fire     FireFunc
	logger   *zap.Logger

	mu      sync.Mutex
	dirs    map[string]string // watched dir -> repository name
	queue   map[string]time.Time
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a Watcher. It must be started with Start.
func New(debounce time.Duration, fire FireFunc, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher:  fw,
		debounce: debounce,
		fire:     fire,
		logger:   logger.Named("trigger"),
		dirs:     make(map[string]string),
		queue:    make(map[string]time.Time),
	}, nil
}

// Add watches the repository rooted at root under name.
func (w *Watcher) Add(name, root string) error {
	gitDir := filepath.Join(root, ".git")
	heads := filepath.Join(gitDir, "refs", "heads")

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.watcher.Add(gitDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", gitDir, err)
	}
	if err := w.watcher.Add(heads); err != nil {
		_ = w.watcher.Remove(gitDir)
		return fmt.Errorf("failed to watch %s: %w", heads, err)
	}
	w.dirs[gitDir] = name
	w.dirs[heads] = name
	return nil
}

// Start begins processing events until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.processQueue(ctx)
	return nil
}

// Stop stops watching and waits for in-flight fires to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if name, ok := w.repoFor(event); ok {
				w.mu.Lock()
				w.queue[name] = time.Now()
				w.mu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// processQueue fires repositories whose last event is older than the
// debounce interval.
func (w *Watcher) processQueue(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range w.due(time.Now()) {
				w.logger.Info("refs moved, triggering run", zap.String("repo", name))
				w.fire(ctx, name)
			}
		}
	}
}

func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var names []string
	for name, at := range w.queue {
		if now.Sub(at) < w.debounce {
			continue
		}
		names = append(names, name)
		delete(w.queue, name)
	}
	return names
}

// repoFor maps a ref update to its repository. Lock files, the index and
// object writes are ignored.
func (w *Watcher) repoFor(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	base := filepath.Base(event.Name)
	if strings.HasSuffix(base, ".lock") {
		return "", false
	}

	dir := filepath.Dir(event.Name)
	w.mu.Lock()
	name, ok := w.dirs[dir]
	w.mu.Unlock()
	if !ok {
		return "", false
	}

	if filepath.Base(dir) == "heads" {
		return name, true
	}
	return name, base == "HEAD" || base == "packed-refs"
}
