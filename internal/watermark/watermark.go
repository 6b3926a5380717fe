// Package watermark records, per scope, the last commit a pipeline stage
// has fully processed.
//
// Scope keys name the stage and the repository:
//
//	convert:<pair>   HTML commits converted into the JSON repository
//	cache:<repo-id>  commits indexed by the commit/file cache
//	db:<pair>        JSON commits propagated into the database
//
// Every stage walks Log(Current, HEAD) with an exclusive lower bound, so
// a watermark names a commit that must not be processed again.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/vcs"
)

// ErrRegression is returned when an advance would move a watermark to a
// commit that does not descend from the stored one.
var ErrRegression = errors.New("watermark would move backwards")

// Store persists one commit id per scope key.
type Store interface {
	// Get returns the stored commit and whether one exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set overwrites the stored commit.
	Set(ctx context.Context, key, commit string) error
}

// Key helpers for the three scopes.
func ConvertKey(pair string) string { return "convert:" + pair }
func CacheKey(repoID string) string { return "cache:" + repoID }
func DBKey(pair string) string      { return "db:" + pair }

// Scope returns the stage part of a key, e.g. "convert".
func Scope(key string) string {
	scope, _, _ := strings.Cut(key, ":")
	return scope
}

// Tracker binds a store and key to the repository the commits live in.
type Tracker struct {
	store  Store
	key    string
	repo   vcs.Repository
	logger *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store Store, key string, repo vcs.Repository, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		key:    key,
		repo:   repo,
		logger: logger.With(zap.String("watermark", key)),
	}
}

// Key returns the scope key.
func (t *Tracker) Key() string {
	return t.key
}

// Current returns the stored watermark, defaulting to the repository's
// first commit.
func (t *Tracker) Current(ctx context.Context) (string, error) {
	commit, ok, err := t.store.Get(ctx, t.key)
	if err != nil {
		return "", fmt.Errorf("failed to read watermark %s: %w", t.key, err)
	}
	if ok {
		return commit, nil
	}

	first, err := t.repo.FirstCommit(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to default watermark %s: %w", t.key, err)
	}
	return first, nil
}

// Advance moves the watermark to commit. The stored commit must be an
// ancestor of the new one.
func (t *Tracker) Advance(ctx context.Context, commit string) error {
	prev, ok, err := t.store.Get(ctx, t.key)
	if err != nil {
		return fmt.Errorf("failed to read watermark %s: %w", t.key, err)
	}
	if ok && prev == commit {
		return nil
	}
	if ok {
		forward, err := t.repo.IsAncestor(ctx, prev, commit)
		if err != nil {
			return fmt.Errorf("failed to check watermark %s: %w", t.key, err)
		}
		if !forward {
			return fmt.Errorf("%w: %s from %s to %s", ErrRegression, t.key, short(prev), short(commit))
		}
	}

	if err := t.store.Set(ctx, t.key, commit); err != nil {
		return fmt.Errorf("failed to advance watermark %s: %w", t.key, err)
	}
	metrics.ObserveWatermark(Scope(t.key))
	return nil
}

// Override sets the watermark to ref without the ancestry check. The ref
// must resolve to a commit. Returns the resolved id.
func (t *Tracker) Override(ctx context.Context, ref string) (string, error) {
	commit, err := t.repo.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to override watermark %s: %w", t.key, err)
	}

	if err := t.store.Set(ctx, t.key, commit); err != nil {
		return "", fmt.Errorf("failed to override watermark %s: %w", t.key, err)
	}

	t.logger.Warn("watermark overridden", zap.String("commit", commit))
	metrics.ObserveWatermark(Scope(t.key))
	return commit, nil
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
