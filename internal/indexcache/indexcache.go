// Package indexcache records which commits touched which files so that
// captures of a page can be listed and looked up by time.
package indexcache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/watermark"
)

// emptyTree is git's well-known empty tree id, used as the base of root commits.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Result summarizes one Build.
type Result struct {
	RepoID    string `json:"repo"`
	From      string `json:"from"`
	To        string `json:"to"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Files     int    `json:"files"`

	// FileFailures counts paths that could not be linked to their commit
	FileFailures int `json:"file_failures"`

	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Builder indexes repositories into the store.
type Builder struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder returns a Builder writing to st.
func NewBuilder(st *store.Store, logger *zap.Logger) *Builder {
	return &Builder{store: st, logger: logger.Named("indexcache"), now: time.Now}
}

// Build indexes every commit of repo after its cache watermark. The
// caller holds the global write lock.
//
// A failed commit is counted and the walk continues, but the watermark
// stays before it so the next Build retries it. A path that fails to link
// is counted without failing its commit. Re-indexing is an upsert.
func (b *Builder) Build(ctx context.Context, repoID string, repo vcs.Repository) (Result, error) {
	start := b.now()
	logger := b.logger.With(zap.String("repo", repoID))
	tracker := watermark.NewTracker(watermark.NewDBStore(b.store), watermark.CacheKey(repoID), repo, logger)

	res := Result{RepoID: repoID}
	from, err := tracker.Current(ctx)
	if err != nil {
		return res, err
	}
	head, err := repo.Resolve(ctx, "HEAD")
	if err != nil {
		return res, err
	}
	res.From, res.To = from, from

	behind := false
	for c, err := range repo.Log(ctx, from, head) {
		if err != nil {
			return res, fmt.Errorf("failed to walk %s: %w", repoID, err)
		}

		n, err := b.indexCommit(ctx, repoID, repo, c, &res)
		if err != nil {
			behind = true
			res.Failed++
			res.Err = multierr.Append(res.Err, fmt.Errorf("commit %s: %w", c.Hash, err))
			metrics.ObserveCommit("cache", repoID, "failed")
			logger.Warn("failed to index commit", zap.String("commit", c.Hash), zap.Error(err))
			continue
		}
		res.Succeeded++
		res.Files += n
		metrics.ObserveCommit("cache", repoID, "ok")

		if behind {
			continue
		}
		if err := tracker.Advance(ctx, c.Hash); err != nil {
			return res, err
		}
		res.To = c.Hash
	}

	res.Duration = b.now().Sub(start)
	metrics.ObserveRun("cache", res.Duration)
	logger.Info("index cache built",
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("files", res.Files),
		zap.Int("file_failures", res.FileFailures),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// indexCommit records c and links its changed paths, returning the number
// linked. Path failures go to res.
func (b *Builder) indexCommit(ctx context.Context, repoID string, repo vcs.Repository, c vcs.Commit, res *Result) (int, error) {
	base := emptyTree
	if len(c.Parents) > 0 {
		base = c.Parents[0]
	}
	changes, err := repo.Diff(ctx, base, c.Hash)
	if err != nil {
		return 0, err
	}

	msg := category.ParseMessage(c.Message)
	captureMS := msg.CaptureMS
	if !msg.HasTime {
		captureMS = c.CommitTime.UnixMilli()
	}
	if err := b.store.UpsertCommit(ctx, store.IndexedCommit{
		RepoID:     repoID,
		CommitID:   c.Hash,
		CommitTime: c.CommitTime.Unix(),
		CaptureMS:  captureMS,
		Message:    c.Subject(),
	}); err != nil {
		return 0, err
	}

	n := 0
	for _, ch := range changes {
		id, err := b.store.UpsertFilePath(ctx, ch.Path)
		if err == nil {
			err = b.store.LinkFileCommit(ctx, id, repoID, c.Hash, string(ch.Kind))
		}
		if err != nil {
			res.FileFailures++
			res.Err = multierr.Append(res.Err, fmt.Errorf("%s at %s: %w", ch.Path, c.Hash, err))
			b.logger.Warn("failed to index file",
				zap.String("repo", repoID),
				zap.String("path", ch.Path),
				zap.String("commit", c.Hash),
				zap.Error(err))
			continue
		}
		n++
	}
	return n, ctx.Err()
}

// Timestamps lists the captures of a page, oldest first.
func (b *Builder) Timestamps(ctx context.Context, repoID, path string) ([]store.Capture, error) {
	return b.store.Timestamps(ctx, repoID, path)
}

// AsOf returns the capture of a page current at captureMS.
func (b *Builder) AsOf(ctx context.Context, repoID, path string, captureMS int64) (store.Capture, error) {
	return b.store.AsOf(ctx, repoID, path, captureMS)
}
