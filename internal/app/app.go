// Package app wires configuration, repositories, the store and the
// pipeline stages into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/api"
	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/config"
	"github.com/bgm-archive/archiver/internal/convert"
	"github.com/bgm-archive/archiver/internal/events"
	"github.com/bgm-archive/archiver/internal/indexcache"
	"github.com/bgm-archive/archiver/internal/lock"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/parser"
	"github.com/bgm-archive/archiver/internal/propagate"
	"github.com/bgm-archive/archiver/internal/spotcheck"
	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/trigger"
	"github.com/bgm-archive/archiver/internal/vcs"
	_ "github.com/bgm-archive/archiver/internal/vcs/git" // registers git with vcs.Open
)

// App owns every long-lived component.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	categories *category.Set
	pairs      []convert.Pair

	locks      *lock.Registry
	writeLock  *lock.TimedMutex
	hub        *events.Hub
	holes      *spotcheck.HoleCache
	pipeline   *convert.Pipeline
	cache      *indexcache.Builder
	propagator *propagate.Propagator

	// workers runs detached triggers
	workers conc.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New opens the store and every configured repository.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	categories, err := category.NewSet(cfg.Categories)
	if err != nil {
		return nil, err
	}

	pairs := make([]convert.Pair, 0, len(cfg.Repos))
	for _, r := range cfg.Repos {
		source, err := vcs.Open(r.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to open source of %s: %w", r.Name, err)
		}
		target, err := vcs.Open(r.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to open target of %s: %w", r.Name, err)
		}
		pairs = append(pairs, convert.Pair{Name: r.Name, Source: source, Target: target})
	}

	st, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	st.SetPool(cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		categories: categories,
		pairs:      pairs,
		locks:      lock.NewRegistry("pair", cfg.LockTimeout()),
		writeLock:  lock.NewTimedMutex("db-write", cfg.WriteLockTimeout()),
		hub:        events.NewHub(logger),
		holes:      spotcheck.NewHoleCache(cfg.Sampler.HoleCacheFactor),
	}

	a.pipeline = convert.New(convert.Config{
		WatermarkFile: cfg.Pipeline.WatermarkFile,
		MetaDir:       cfg.Pipeline.MetaDir,
		SourceExt:     cfg.Pipeline.SourceExt,
		TargetExt:     cfg.Pipeline.TargetExt,
		Workers:       cfg.Pipeline.Workers,
		SampleBudget:  cfg.SampleBudget(),
		Sampling:      cfg.Sampler.Enabled,
	}, pairs, parser.Default(), categories, a.locks, logger,
		convert.WithPublisher(a.hub),
		convert.WithSamplers(a.sampler))
	a.cache = indexcache.NewBuilder(st, logger)
	a.propagator = propagate.New(st, categories, cfg.Pipeline.TargetExt, logger, propagate.WithPublisher(a.hub))

	return a, nil
}

// Close waits for detached triggers, then releases the store.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if r := a.workers.WaitAndRecover(); r != nil {
			a.logger.Error("trigger worker panicked", zap.String("panic", r.String()))
		}
		a.hub.Close()
		a.closeErr = a.store.Close()
	})
	return a.closeErr
}

// Pairs lists the configured pair names in configuration order.
func (a *App) Pairs() []string {
	names := make([]string, len(a.pairs))
	for i, p := range a.pairs {
		names[i] = p.Name
	}
	return names
}

// Hub is the event broadcaster.
func (a *App) Hub() *events.Hub {
	return a.hub
}

// Store exposes the database for read-only CLI commands.
func (a *App) Store() *store.Store {
	return a.store
}

func (a *App) pair(name string) (convert.Pair, error) {
	for _, p := range a.pairs {
		if p.Name == name {
			return p, nil
		}
	}
	return convert.Pair{}, fmt.Errorf("%w: %q", api.ErrUnknownRepo, name)
}

// selected resolves names, defaulting to every pair.
func (a *App) selected(names []string) ([]convert.Pair, error) {
	if len(names) == 0 {
		return slices.Clone(a.pairs), nil
	}
	out := make([]convert.Pair, 0, len(names))
	for _, n := range names {
		p, err := a.pair(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *App) sampler(p convert.Pair) (*spotcheck.Sampler, error) {
	s := a.cfg.Sampler
	return spotcheck.New(spotcheck.Config{
		Min:               s.Min,
		Max:               s.Max,
		DailyCommitBudget: s.DailyCommitBudget,
		DrainThreshold:    s.DrainThreshold,
		MaxProbes:         s.MaxProbes,
		HoleWindowCap:     s.HoleWindowCap,
		HoleMaxRun:        s.HoleMaxRun,
		MetaDir:           a.cfg.Pipeline.MetaDir,
		Ext:               a.cfg.Pipeline.TargetExt,
	}, p.Target, a.categories, a.holes, a.logger, spotcheck.WithPublisher(a.hub))
}

// Convert runs the conversion pipeline for names, or every pair.
func (a *App) Convert(ctx context.Context, names ...string) convert.RunSummary {
	return a.pipeline.Run(ctx, names...)
}

// Sample draws a spot check for one category of a pair outside a
// conversion run. The hidden mask is rebuilt by a full scan.
func (a *App) Sample(ctx context.Context, name, cat string) (spotcheck.Result, error) {
	p, err := a.pair(name)
	if err != nil {
		return spotcheck.Result{}, err
	}
	s, err := a.sampler(p)
	if err != nil {
		return spotcheck.Result{}, err
	}

	var res spotcheck.Result
	err = a.locks.Get(name).With(ctx, func() error {
		var err error
		res, err = s.Run(ctx, cat, nil)
		return err
	})
	return res, err
}

// BuildCache indexes the target repository of each pair under the
// global write lock.
func (a *App) BuildCache(ctx context.Context, names ...string) ([]indexcache.Result, error) {
	pairs, err := a.selected(names)
	if err != nil {
		return nil, err
	}

	var results []indexcache.Result
	err = a.writeLock.With(ctx, func() error {
		var errs error
		for _, p := range pairs {
			res, err := a.cache.Build(ctx, p.Name, p.Target)
			results = append(results, res)
			errs = errors.Join(errs, err)
		}
		return errs
	})
	return results, err
}

// Propagate loads each pair's JSON changes into the database under the
// global write lock.
func (a *App) Propagate(ctx context.Context, names ...string) ([]propagate.Result, error) {
	pairs, err := a.selected(names)
	if err != nil {
		return nil, err
	}

	var results []propagate.Result
	err = a.writeLock.With(ctx, func() error {
		var errs error
		for _, p := range pairs {
			res, err := a.propagator.Run(ctx, p.Name, p.Target)
			results = append(results, res)
			errs = errors.Join(errs, err)
		}
		return errs
	})
	return results, err
}

// Serve runs the HTTP server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return api.NewServer(a, api.Config{
		Secret:          a.cfg.Server.Secret,
		ReadConcurrency: a.cfg.Server.ReadConcurrency,
		Timeout:         a.cfg.RequestTimeout(),
	}, a.hub, a.logger).Handler()
}

// Watch converts a pair whenever its source refs move, until ctx is done.
func (a *App) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := trigger.New(debounce, func(ctx context.Context, name string) {
		a.logSummary(a.Convert(ctx, name))
	}, a.logger)
	if err != nil {
		return err
	}
	for _, p := range a.pairs {
		root, err := p.Source.RepoRoot()
		if err != nil {
			_ = w.Stop()
			return err
		}
		if err := w.Add(p.Name, root); err != nil {
			_ = w.Stop()
			return err
		}
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return w.Stop()
}

func (a *App) logSummary(s convert.RunSummary) {
	for _, r := range s.Reports {
		if r.Err != nil {
			a.logger.Warn("conversion finished with errors",
				zap.String("repo", r.Repo),
				zap.String("state", string(r.State)),
				zap.Bool("skipped", r.Skipped),
				zap.Error(r.Err))
		}
	}
}
