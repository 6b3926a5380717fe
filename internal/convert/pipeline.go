// Package convert mirrors HTML capture commits into the JSON repository.
//
// For every source commit after the pair's watermark the pipeline diffs
// the commit against the watermark, parses each changed page, writes the
// JSON artifact at the mirrored path and creates one target commit whose
// message is the source message verbatim. The watermark file lives in
// the target working tree and is committed along with the artifacts, so
// the target repository always records how far it has caught up.
//
// Failures are isolated by level: a page that fails to parse is recorded
// in the category's NG file and the commit proceeds; a commit that fails
// leaves the watermark where it was and the walk continues; a pair that
// fails does not affect sibling pairs.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/events"
	"github.com/bgm-archive/archiver/internal/lock"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/parser"
	"github.com/bgm-archive/archiver/internal/spotcheck"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/watermark"
)

// ErrUnknownPair is reported for a pair name that is not configured.
var ErrUnknownPair = errors.New("unknown repository pair")

// State is the pipeline position of one pair.
type State string

const (
	StateIdle       State = "IDLE"
	StateWalking    State = "WALKING"
	StateDiffing    State = "DIFFING"
	StateConverting State = "CONVERTING"
	StateCommitting State = "COMMITTING"
	StateAdvancing  State = "ADVANCING"
	StateFailed     State = "FAILED"
)

// Pair is one HTML repository and the JSON repository it feeds.
type Pair struct {
	Name   string
	Source vcs.Repository
	Target vcs.Repository
}

// Config holds the pipeline settings.
type Config struct {
	// WatermarkFile is relative to the target working tree
	WatermarkFile string

	// MetaDir is relative to the target working tree
	MetaDir string

	SourceExt string
	TargetExt string

	// Workers bounds concurrent pairs in a multi-pair run
	Workers int

	// SampleBudget is the run duration under which sampling may follow
	SampleBudget time.Duration

	// Sampling enables the spot-check sampler
	Sampling bool
}

// Pipeline converts repository pairs.
type Pipeline struct {
	cfg        Config
	pairs      []Pair
	parser     parser.Parser
	categories *category.Set
	locks      *lock.Registry
	samplers   func(Pair) (*spotcheck.Sampler, error)
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	status map[string]Report
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithSamplers sets the factory returning the sampler of a pair.
func WithSamplers(f func(Pair) (*spotcheck.Sampler, error)) Option {
	return func(pl *Pipeline) { pl.samplers = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// New creates a Pipeline. locks supplies the per-pair mutexes.
func New(cfg Config, pairs []Pair, p parser.Parser, categories *category.Set, locks *lock.Registry, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	pl := &Pipeline{
		cfg:        cfg,
		pairs:      pairs,
		parser:     p,
		categories: categories,
		locks:      locks,
		publisher:  events.Nop{},
		logger:     logger.Named("convert"),
		now:        time.Now,
		status:     make(map[string]Report),
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Pairs returns the configured pair names.
func (p *Pipeline) Pairs() []string {
	names := make([]string, len(p.pairs))
	for i, pair := range p.pairs {
		names[i] = pair.Name
	}
	return names
}

// LastReport returns the most recent report of a pair.
func (p *Pipeline) LastReport(name string) (Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.status[name]
	return r, ok
}

func (p *Pipeline) lookup(name string) (Pair, bool) {
	for _, pair := range p.pairs {
		if pair.Name == name {
			return pair, true
		}
	}
	return Pair{}, false
}

// Run converts the named pairs, or all pairs when none are named.
// Pairs run concurrently up to the configured worker count; a failing
// pair never affects its siblings.
func (p *Pipeline) Run(ctx context.Context, names ...string) RunSummary {
	start := p.now()
	if len(names) == 0 {
		names = p.Pairs()
	}

	summary := RunSummary{}
	selected := make([]Pair, 0, len(names))
	for _, name := range names {
		pair, ok := p.lookup(name)
		if !ok {
			summary.Reports = append(summary.Reports, Report{
				Repo:  name,
				State: StateFailed,
				Err:   fmt.Errorf("%w: %s", ErrUnknownPair, name),
			})
			continue
		}
		selected = append(selected, pair)
	}

	single := len(selected) == 1 && len(names) == 1
	if len(selected) == 1 {
		summary.Reports = append(summary.Reports, p.runLocked(ctx, selected[0], single))
	} else if len(selected) > 1 {
		workers := pool.NewWithResults[Report]().WithMaxGoroutines(p.cfg.Workers)
		for _, pair := range selected {
			workers.Go(func() Report {
				return p.runLocked(ctx, pair, false)
			})
		}
		summary.Reports = append(summary.Reports, workers.Wait()...)
	}

	sort.Slice(summary.Reports, func(i, j int) bool {
		return summary.Reports[i].Repo < summary.Reports[j].Repo
	})
	summary.Duration = p.now().Sub(start)
	metrics.ObserveRun("convert", summary.Duration)
	return summary
}

// runLocked runs one pair under its mutex. A lock timeout drops the run.
func (p *Pipeline) runLocked(ctx context.Context, pair Pair, single bool) Report {
	unlock, err := p.locks.Get(pair.Name).Lock(ctx)
	if err != nil {
		p.logger.Warn("trigger dropped", zap.String("repo", pair.Name), zap.Error(err))
		p.publisher.Publish(events.Event{Kind: events.KindTriggerDropped, Stage: "convert", Repo: pair.Name})
		return Report{Repo: pair.Name, State: StateIdle, Skipped: true, Err: err}
	}
	defer unlock()

	rep := p.runPair(ctx, pair)
	if single && p.shouldSample(rep) {
		p.sample(ctx, pair, &rep)
	}

	p.mu.Lock()
	p.status[pair.Name] = rep
	p.mu.Unlock()
	return rep
}

// shouldSample reports whether a run qualifies for a spot check: it
// converted something, started at the commit right after the starting
// watermark and finished within the budget.
func (p *Pipeline) shouldSample(rep Report) bool {
	return p.cfg.Sampling &&
		p.samplers != nil &&
		rep.State == StateIdle &&
		rep.Converted > 0 &&
		rep.FirstIsSuccessor &&
		rep.FirstCategory != "" &&
		rep.Duration < p.cfg.SampleBudget
}

func (p *Pipeline) sample(ctx context.Context, pair Pair, rep *Report) {
	s, err := p.samplers(pair)
	if err != nil {
		p.logger.Error("failed to create sampler", zap.String("repo", pair.Name), zap.Error(err))
		return
	}

	visited := rep.Visited[rep.FirstCategory]
	if visited == nil {
		visited = []int{}
	}
	res, err := s.Run(ctx, rep.FirstCategory, visited)
	if err != nil {
		p.logger.Error("spot check failed",
			zap.String("repo", pair.Name),
			zap.String("category", rep.FirstCategory),
			zap.Error(err))
		return
	}
	rep.Sample = &res
}

// runPair walks one pair from its watermark to the source HEAD.
func (p *Pipeline) runPair(ctx context.Context, pair Pair) Report {
	start := p.now()
	rep := Report{
		Repo:    pair.Name,
		State:   StateWalking,
		NG:      make(map[string][]int),
		Visited: make(map[string][]int),
	}
	logger := p.logger.With(zap.String("repo", pair.Name))

	fail := func(err error) Report {
		rep.State = StateFailed
		rep.Err = multierr.Append(rep.Err, err)
		rep.Duration = p.now().Sub(start)
		logger.Error("conversion run failed", zap.Error(err))
		p.publisher.Publish(events.Event{Kind: events.KindRunFinished, Stage: "convert", Repo: pair.Name, Message: err.Error()})
		return rep
	}

	targetRoot, err := pair.Target.RepoRoot()
	if err != nil {
		return fail(fmt.Errorf("failed to locate target repository: %w", err))
	}

	wmFile := watermark.NewFileStore(filepath.Join(targetRoot, filepath.FromSlash(p.cfg.WatermarkFile)))
	tracker := watermark.NewTracker(wmFile, watermark.ConvertKey(pair.Name), pair.Source, logger)

	from, err := tracker.Current(ctx)
	if err != nil {
		return fail(err)
	}
	head, err := pair.Source.Resolve(ctx, "HEAD")
	if err != nil {
		return fail(err)
	}
	rep.From, rep.To = from, from

	p.publisher.Publish(events.Event{Kind: events.KindRunStarted, Stage: "convert", Repo: pair.Name, Commit: from})
	logger.Info("conversion run started", zap.String("from", short(from)), zap.String("head", short(head)))

	w := &commitWork{
		pipeline:   p,
		pair:       pair,
		targetRoot: targetRoot,
		tracker:    tracker,
		wmFile:     wmFile,
		logger:     logger,
	}

	first := true
	// after a failed commit the watermark must stay behind it, so
	// watermark-only commits stop advancing until a content commit lands
	behind := false
	for c, err := range pair.Source.Log(ctx, from, head) {
		if err != nil {
			return fail(fmt.Errorf("failed to walk %s: %w", pair.Name, err))
		}

		if first {
			first = false
			rep.FirstIsSuccessor = len(c.Parents) > 0 && c.Parents[0] == from
		}

		msg := category.ParseMessage(c.Message)
		if msg.Admin && behind {
			rep.Admin++
			continue
		}
		if msg.Admin {
			if err := tracker.Advance(ctx, c.Hash); err != nil {
				if vcs.IsFatal(err) || errors.Is(err, watermark.ErrRegression) {
					return fail(err)
				}
				rep.Failed++
				rep.Err = multierr.Append(rep.Err, err)
				continue
			}
			rep.Admin++
			rep.To = c.Hash
			metrics.ObserveCommit("convert", pair.Name, "admin")
			logger.Debug("administrative commit advanced watermark", zap.String("commit", short(c.Hash)))
			continue
		}

		res, err := w.process(ctx, c, msg, &rep)
		if err != nil {
			if vcs.IsFatal(err) || errors.Is(err, watermark.ErrRegression) {
				return fail(err)
			}
			behind = true
			rep.Failed++
			rep.Err = multierr.Append(rep.Err, fmt.Errorf("commit %s: %w", short(c.Hash), err))
			metrics.ObserveCommit("convert", pair.Name, "failed")
			p.publisher.Publish(events.Event{Kind: events.KindCommitFailed, Stage: "convert", Repo: pair.Name, Commit: c.Hash, Message: err.Error()})
			logger.Error("commit failed, watermark left in place",
				zap.String("commit", short(c.Hash)),
				zap.Error(err))
			continue
		}

		behind = false
		rep.Converted++
		rep.To = c.Hash
		if rep.FirstCategory == "" {
			rep.FirstCategory = res.category
		}
		metrics.ObserveCommit("convert", pair.Name, "ok")
		p.publisher.Publish(events.Event{
			Kind:     events.KindCommitConverted,
			Stage:    "convert",
			Repo:     pair.Name,
			Category: res.category,
			Commit:   c.Hash,
			IDs:      res.ids,
		})
	}

	rep.State = StateIdle
	rep.Duration = p.now().Sub(start)
	logger.Info("conversion run finished",
		zap.String("from", short(rep.From)),
		zap.String("to", short(rep.To)),
		zap.Int("converted", rep.Converted),
		zap.Int("admin", rep.Admin),
		zap.Int("failed", rep.Failed),
		zap.Int("files", rep.Files),
		zap.Int("file_failures", rep.FileFailures),
		zap.Duration("duration", rep.Duration))
	p.publisher.Publish(events.Event{Kind: events.KindRunFinished, Stage: "convert", Repo: pair.Name, Commit: rep.To})
	return rep
}

func (p *Pipeline) ngPath(cat string) string {
	return path.Join(p.cfg.MetaDir, cat, NGFile)
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
