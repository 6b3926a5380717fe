package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/api"
	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/convert"
	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/ui"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/watermark"
)

var _ api.Backend = (*App)(nil)

// TriggerConvert schedules a conversion run and returns immediately.
func (a *App) TriggerConvert(ctx context.Context, repo string) error {
	names, err := a.triggerNames(repo)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	a.workers.Go(func() {
		a.logSummary(a.Convert(ctx, names...))
	})
	return nil
}

// TriggerCache schedules an index cache build.
func (a *App) TriggerCache(ctx context.Context, repo string) error {
	names, err := a.triggerNames(repo)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	a.workers.Go(func() {
		if _, err := a.BuildCache(ctx, names...); err != nil {
			a.logger.Warn("cache build trigger failed", zap.Strings("repos", names), zap.Error(err))
		}
	})
	return nil
}

// TriggerPropagate schedules a propagation run.
func (a *App) TriggerPropagate(ctx context.Context, repo string) error {
	names, err := a.triggerNames(repo)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	a.workers.Go(func() {
		if _, err := a.Propagate(ctx, names...); err != nil {
			a.logger.Warn("propagate trigger failed", zap.Strings("repos", names), zap.Error(err))
		}
	})
	return nil
}

func (a *App) triggerNames(repo string) ([]string, error) {
	if repo == "" {
		return nil, nil
	}
	if _, err := a.pair(repo); err != nil {
		return nil, err
	}
	return []string{repo}, nil
}

// tracker returns the watermark tracker for a scope key. Conversion
// watermarks live in the target tree and track the source; cache and
// database watermarks live in the meta table and track the target.
func (a *App) tracker(scope string) (*watermark.Tracker, convert.Pair, error) {
	kind, name, ok := strings.Cut(scope, ":")
	if !ok {
		return nil, convert.Pair{}, fmt.Errorf("%w: %q", api.ErrUnknownScope, scope)
	}
	p, err := a.pair(name)
	if err != nil {
		return nil, convert.Pair{}, err
	}

	switch scope {
	case watermark.ConvertKey(name):
		root, err := p.Target.RepoRoot()
		if err != nil {
			return nil, p, err
		}
		fs := watermark.NewFileStore(filepath.Join(root, filepath.FromSlash(a.cfg.Pipeline.WatermarkFile)))
		return watermark.NewTracker(fs, scope, p.Source, a.logger), p, nil
	case watermark.CacheKey(name), watermark.DBKey(name):
		return watermark.NewTracker(watermark.NewDBStore(a.store), scope, p.Target, a.logger), p, nil
	}
	return nil, p, fmt.Errorf("%w: %q", api.ErrUnknownScope, kind)
}

// Watermark returns the current commit of a scope.
func (a *App) Watermark(ctx context.Context, scope string) (string, error) {
	t, _, err := a.tracker(scope)
	if err != nil {
		return "", err
	}
	return t.Current(ctx)
}

// OverrideWatermark sets a scope to ref, holding the lock that guards it.
func (a *App) OverrideWatermark(ctx context.Context, scope, ref string) (string, error) {
	t, p, err := a.tracker(scope)
	if err != nil {
		return "", err
	}

	guard := a.writeLock
	if scope == watermark.ConvertKey(p.Name) {
		guard = a.locks.Get(p.Name)
	}

	var commit string
	err = guard.With(ctx, func() error {
		var err error
		commit, err = t.Override(ctx, ref)
		return err
	})
	return commit, err
}

// Status reports sizes, heads, watermarks and lag of a pair.
func (a *App) Status(ctx context.Context, repo string) (api.RepoStatus, error) {
	p, err := a.pair(repo)
	if err != nil {
		return api.RepoStatus{}, err
	}

	st := api.RepoStatus{Name: p.Name, Watermarks: make(map[string]string)}
	src, err := p.Source.Stats(ctx)
	if err != nil {
		return st, err
	}
	dst, err := p.Target.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.SourceHead, st.SourceSize, st.SourceHuman = src.Head, src.TotalBytes(), ui.Bytes(src.TotalBytes())
	st.TargetHead, st.TargetSize, st.TargetHuman = dst.Head, dst.TotalBytes(), ui.Bytes(dst.TotalBytes())

	for _, key := range []string{watermark.ConvertKey(p.Name), watermark.CacheKey(p.Name), watermark.DBKey(p.Name)} {
		commit, err := a.Watermark(ctx, key)
		if err != nil {
			return st, err
		}
		st.Watermarks[key] = commit
	}

	lag, err := p.Source.CountCommits(ctx, st.Watermarks[watermark.ConvertKey(p.Name)], "HEAD")
	if err != nil {
		return st, err
	}
	st.Lag = lag

	if rep, ok := a.pipeline.LastReport(p.Name); ok {
		st.LastRun = &rep
	}
	return st, nil
}

// topicPath resolves the repository and artifact path of a topic.
// An empty repo means the first configured pair.
func (a *App) topicPath(repo, cat string, id int) (convert.Pair, string, error) {
	if repo == "" && len(a.pairs) > 0 {
		repo = a.pairs[0].Name
	}
	p, err := a.pair(repo)
	if err != nil {
		return p, "", err
	}
	if _, ok := a.categories.Lookup(cat); !ok {
		return p, "", fmt.Errorf("%w: %q", api.ErrUnknownCategory, cat)
	}
	return p, category.Path(cat, id, a.cfg.Pipeline.TargetExt), nil
}

// Timestamps lists the indexed captures of a topic.
func (a *App) Timestamps(ctx context.Context, repo, cat string, id int) ([]store.Capture, error) {
	p, path, err := a.topicPath(repo, cat, id)
	if err != nil {
		return nil, err
	}
	return a.cache.Timestamps(ctx, p.Name, path)
}

// TopicAt returns the artifact of a topic as of atMS.
func (a *App) TopicAt(ctx context.Context, repo, cat string, id int, atMS int64) (api.Snapshot, error) {
	p, path, err := a.topicPath(repo, cat, id)
	if err != nil {
		return api.Snapshot{}, err
	}
	c, err := a.cache.AsOf(ctx, p.Name, path, atMS)
	if err != nil {
		return api.Snapshot{}, err
	}
	data, err := p.Target.Show(ctx, c.CommitID, path)
	if err != nil {
		if vcs.IsFatal(err) {
			return api.Snapshot{}, err
		}
		return api.Snapshot{}, fmt.Errorf("failed to read %s at %s: %w", path, c.CommitID, err)
	}
	return api.Snapshot{Capture: c, Path: path, Topic: data}, nil
}
