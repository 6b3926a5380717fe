// Package propagate loads converted topic artifacts from a JSON
// repository into the database.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/events"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/schema"
	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/watermark"
)

// Result summarizes one propagation run.
type Result struct {
	Pair    string `json:"pair"`
	From    string `json:"from"`
	To      string `json:"to"`
	Commits int    `json:"commits"`
	Failed  int    `json:"failed"`

	// FileFailures counts artifacts that could not be applied; their
	// commits still advance the watermark
	FileFailures int `json:"file_failures"`

	Applied  int               `json:"applied"`
	Deleted  int               `json:"deleted"`
	Skipped  int               `json:"skipped"`
	Dedup    store.DedupResult `json:"dedup"`
	Duration time.Duration     `json:"duration"`
	Err      error             `json:"-"`
}

// Propagator applies JSON repository changes to the store.
type Propagator struct {
	store      *store.Store
	categories *category.Set
	ext        string
	logger     *zap.Logger
	publisher  events.Publisher
	now        func() time.Time
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option {
	return func(pr *Propagator) { pr.publisher = p }
}

// New returns a Propagator. ext is the artifact extension, e.g. ".json".
func New(st *store.Store, categories *category.Set, ext string, logger *zap.Logger, opts ...Option) *Propagator {
	p := &Propagator{
		store:      st,
		categories: categories,
		ext:        ext,
		logger:     logger.Named("propagate"),
		publisher:  events.Nop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run walks repo from the pair's DB watermark to HEAD and applies every
// changed artifact, then merges placeholder users. The caller holds the
// global write lock.
//
// Each commit is diffed against the watermark rather than its parent, so
// a commit that failed is covered again by the next one. A file that fails
// to apply is counted and logged but does not fail its commit.
func (p *Propagator) Run(ctx context.Context, pair string, repo vcs.Repository) (Result, error) {
	start := p.now()
	logger := p.logger.With(zap.String("pair", pair))
	tracker := watermark.NewTracker(watermark.NewDBStore(p.store), watermark.DBKey(pair), repo, logger)

	res := Result{Pair: pair}
	from, err := tracker.Current(ctx)
	if err != nil {
		return res, err
	}
	head, err := repo.Resolve(ctx, "HEAD")
	if err != nil {
		return res, err
	}
	res.From, res.To = from, from
	p.publisher.Publish(events.Event{Kind: events.KindRunStarted, Stage: "propagate", Repo: pair, Commit: from})

	for c, err := range repo.Log(ctx, from, head) {
		if err != nil {
			return res, fmt.Errorf("failed to walk %s: %w", pair, err)
		}

		base, err := tracker.Current(ctx)
		if err != nil {
			return res, err
		}
		if err := p.applyCommit(ctx, repo, base, c, &res); err != nil {
			if vcs.IsFatal(err) {
				return res, err
			}
			res.Failed++
			res.Err = multierr.Append(res.Err, fmt.Errorf("commit %s: %w", c.Hash, err))
			metrics.ObserveCommit("propagate", pair, "failed")
			logger.Error("failed to propagate commit", zap.String("commit", c.Hash), zap.Error(err))
			continue
		}

		if err := tracker.Advance(ctx, c.Hash); err != nil {
			return res, err
		}
		res.Commits++
		res.To = c.Hash
		metrics.ObserveCommit("propagate", pair, "ok")
	}

	dedup, err := p.store.DedupUsers(ctx)
	if err != nil {
		res.Err = multierr.Append(res.Err, err)
		logger.Error("failed to merge placeholder users", zap.Error(err))
	}
	res.Dedup = dedup
	if len(dedup.Conflicts) > 0 {
		logger.Warn("username shared by several users, placeholders left alone",
			zap.Strings("usernames", dedup.Conflicts))
	}

	res.Duration = p.now().Sub(start)
	metrics.ObserveRun("propagate", res.Duration)
	logger.Info("propagation finished",
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("commits", res.Commits),
		zap.Int("failed", res.Failed),
		zap.Int("file_failures", res.FileFailures),
		zap.Int("applied", res.Applied),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped),
		zap.Int("users_merged", dedup.Merged),
		zap.Duration("duration", res.Duration))
	p.publisher.Publish(events.Event{Kind: events.KindRunFinished, Stage: "propagate", Repo: pair, Commit: res.To})
	return res, nil
}

// applyCommit applies every artifact that differs between base and c.
// Invalid artifacts are skipped and failing files are recorded in res. Only
// a failed diff or a fatal repository error fails the commit.
func (p *Propagator) applyCommit(ctx context.Context, repo vcs.Repository, base string, c vcs.Commit, res *Result) error {
	changes, err := repo.Diff(ctx, base, c.Hash)
	if err != nil {
		return err
	}

	fail := func(cat, path string, err error) {
		res.FileFailures++
		res.Err = multierr.Append(res.Err, fmt.Errorf("%s at %s: %w", path, c.Hash, err))
		metrics.ObserveFile("propagate", cat, "failed")
		p.logger.Error("failed to propagate file",
			zap.String("path", path),
			zap.String("commit", c.Hash),
			zap.Error(err))
	}

	for _, ch := range changes {
		ref, ok := category.ParsePath(ch.Path)
		if !ok || ref.Ext != p.ext {
			continue
		}
		cat, ok := p.categories.Lookup(ref.Category)
		if !ok {
			continue
		}

		if ch.Kind == vcs.ChangeDeleted {
			err := p.store.MarkTopicDeleted(ctx, cat.Name, ref.ID, c.Hash)
			switch {
			case errors.Is(err, store.ErrNotFound):
				p.logger.Debug("deleted artifact was never stored", zap.String("path", ch.Path))
			case err != nil:
				fail(cat.Name, ch.Path, err)
			default:
				res.Deleted++
				metrics.ObserveTopic(cat.Name, "deleted")
			}
			continue
		}

		data, err := repo.Show(ctx, c.Hash, ch.Path)
		if err != nil {
			if vcs.IsFatal(err) {
				return err
			}
			fail(cat.Name, ch.Path, err)
			continue
		}
		topic, err := schema.Decode(data)
		if err == nil && (topic.Category != cat.Name || topic.ID != ref.ID) {
			err = fmt.Errorf("artifact is %s/%d", topic.Category, topic.ID)
		}
		if err != nil {
			res.Skipped++
			metrics.ObserveTopic(cat.Name, "skipped")
			p.logger.Warn("skipping invalid artifact",
				zap.String("path", ch.Path),
				zap.String("commit", c.Hash),
				zap.Error(err))
			continue
		}

		if err := p.applyTopic(ctx, cat, topic, c.Hash); err != nil {
			fail(cat.Name, ch.Path, err)
			continue
		}
		res.Applied++
		metrics.ObserveTopic(cat.Name, "applied")
	}
	return ctx.Err()
}

func (p *Propagator) applyTopic(ctx context.Context, cat category.Category, topic *schema.Topic, commit string) error {
	u := store.TopicUpdate{Topic: topic, Likes: topic.Likes, Commit: commit}

	// a hidden capture says nothing about which replies or likes survive
	if !topic.Hidden {
		stored, err := p.store.StoredLikes(ctx, cat.Name, topic.ID)
		if err != nil {
			return err
		}
		u.Likes = ReconcileLikes(stored, topic.Likes)

		if cat.TracksDeletedReplies {
			ids, err := p.store.StoredPostIDs(ctx, cat.Name, topic.ID)
			if err != nil {
				return err
			}
			u.DeletedPostIDs = DeletedReplies(ids, topic.Posts)
		}
	}

	return p.store.ApplyTopic(ctx, u)
}
