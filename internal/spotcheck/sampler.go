// Package spotcheck selects archived ids for re-verification and flags
// id gaps the capture process may have skipped.
//
// Each category keeps two bitmasks in the target repository: hidden
// (missing, deleted or empty pages) and sampled (ids already handed out
// for checking). Sampling draws ids outside both masks until the id
// space is nearly exhausted, then drains the remainder and starts a new
// lap with an empty sampled mask and a freshly scanned hidden mask.
package spotcheck

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/events"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/vcs"
)

// File names under <meta dir>/<category>/.
const (
	SampleFile      = "spot_check.txt"
	SampledMaskFile = "sampled.mask"
	HiddenMaskFile  = "hidden.mask"
)

// Config holds the sampler tuning constants.
type Config struct {
	Min               int
	Max               int
	DailyCommitBudget int
	DrainThreshold    int
	MaxProbes         int
	HoleWindowCap     int
	HoleMaxRun        int

	// MetaDir is relative to the target working tree
	MetaDir string

	// Ext is the artifact extension, e.g. ".json"
	Ext string
}

// Result reports one sampler run.
type Result struct {
	Category string `json:"category"`
	MaxID    int    `json:"max_id"`
	Sampled  []int  `json:"sampled"`
	Holes    []int  `json:"holes,omitempty"`
	Drained  bool   `json:"drained"`
	FullScan bool   `json:"full_scan"`
	Commit   string `json:"commit,omitempty"`
}

// Sampler runs spot checks against one target repository.
type Sampler struct {
	cfg        Config
	repo       vcs.Repository
	root       string
	categories *category.Set
	holes      *HoleCache
	rng        *rand.Rand
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithRand fixes the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Sampler) { s.rng = r }
}

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option {
	return func(s *Sampler) { s.publisher = p }
}

// WithClock overrides the time source used for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// New creates a Sampler for the target repository repo. The HoleCache
// is shared by every run of this sampler.
func New(cfg Config, repo vcs.Repository, categories *category.Set, holes *HoleCache, logger *zap.Logger, opts ...Option) (*Sampler, error) {
	root, err := repo.RepoRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to locate target repository: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sampler{
		cfg:        cfg,
		repo:       repo,
		root:       root,
		categories: categories,
		holes:      holes,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		publisher:  events.Nop{},
		logger:     logger.Named("spotcheck"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sampler) metaPath(cat, name string) string {
	return path.Join(s.cfg.MetaDir, cat, name)
}

func (s *Sampler) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// SampleSize is the number of ids to draw given the not-yet-sampled
// backlog: proportional to the backlog, spread over the daily commit
// budget shared by all categories, clamped to [Min, Max].
func SampleSize(notSampled, dailyBudget, numCategories, lo, hi int) int {
	perCategory := 1
	if numCategories > 0 {
		perCategory = max(1, dailyBudget/numCategories)
	}
	return min(max(notSampled/perCategory, lo), hi)
}

// Run samples cat. visited lists ids converted since the last run; nil
// forces a full scan of the hidden mask.
func (s *Sampler) Run(ctx context.Context, cat string, visited []int) (Result, error) {
	c, ok := s.categories.Lookup(cat)
	if !ok {
		return Result{}, fmt.Errorf("unknown category %q", cat)
	}
	res := Result{Category: cat}

	hiddenRel := s.metaPath(cat, HiddenMaskFile)
	sampledRel := s.metaPath(cat, SampledMaskFile)

	oldHidden, hadHidden, err := LoadMask(s.abs(hiddenRel))
	if err != nil {
		return res, err
	}

	var scan ScanResult
	if !hadHidden || oldHidden.Full() || visited == nil {
		scan, err = FullScan(s.root, cat, s.cfg.Ext)
	} else {
		scan, err = PartialScan(s.root, cat, s.cfg.Ext, oldHidden, visited)
	}
	if err != nil {
		return res, err
	}
	res.MaxID = scan.MaxID
	res.FullScan = scan.Full
	if scan.MaxID == 0 {
		s.logger.Info("category has no artifacts, skipping", zap.String("category", cat))
		return res, nil
	}

	sampled, ok, err := LoadMask(s.abs(sampledRel))
	if err != nil {
		return res, err
	}
	if !ok {
		sampled = NewMask(0)
	}

	exclude := scan.Hidden.Union(sampled)
	exclude.Set(0)
	exclude.Grow(scan.MaxID)
	notSampled := scan.MaxID + 1 - exclude.CountUpTo(scan.MaxID)

	hidden := scan.Hidden
	if notSampled <= s.cfg.DrainThreshold {
		res.Sampled = drain(exclude, scan.MaxID)
		res.Drained = true
		sampled = NewMask(0)

		rescan, err := FullScan(s.root, cat, s.cfg.Ext)
		if err != nil {
			return res, err
		}
		hidden = rescan.Hidden
		res.FullScan = true
		s.logger.Info("sampling lapped the id space",
			zap.String("category", cat),
			zap.Int("drained", len(res.Sampled)))
	} else {
		size := SampleSize(notSampled, s.cfg.DailyCommitBudget, s.categories.Len(), s.cfg.Min, s.cfg.Max)
		res.Sampled = s.draw(exclude, scan.MaxID, min(size, notSampled))
		for _, id := range res.Sampled {
			sampled.Set(id)
		}
	}

	if c.Holes {
		found := FindHoles(scan.Good, s.cfg.HoleWindowCap, s.cfg.HoleMaxRun)
		res.Holes = s.holes.Filter(cat, found)
		if len(res.Holes) > 0 {
			s.logger.Warn("holes flagged", zap.String("category", cat), zap.Ints("ids", res.Holes))
			metrics.ObserveHoles(cat, len(res.Holes))
			s.publisher.Publish(events.Event{Kind: events.KindHolesFlagged, Category: cat, IDs: res.Holes})
		}
	}

	if err := s.write(cat, res, hidden, sampled); err != nil {
		return res, err
	}

	msg := category.FormatMessage("META", "spot check "+cat, s.now().UnixMilli())
	paths := []string{hiddenRel, sampledRel, s.metaPath(cat, SampleFile)}
	changed, err := s.repo.HasChanges(paths...)
	if err != nil {
		return res, fmt.Errorf("failed to check spot check files: %w", err)
	}
	if changed {
		if err := s.repo.Add(ctx, paths); err != nil {
			return res, fmt.Errorf("failed to stage spot check: %w", err)
		}
		if err := s.repo.Commit(ctx, vcs.CommitOptions{Message: msg, NoGPGSign: true}); err != nil {
			return res, fmt.Errorf("failed to commit spot check: %w", err)
		}
	} else {
		s.logger.Debug("spot check unchanged, nothing to commit", zap.String("category", cat))
	}
	if head, err := s.repo.Resolve(ctx, "HEAD"); err == nil {
		res.Commit = head
	}

	metrics.ObserveSample(cat, len(res.Sampled))
	s.publisher.Publish(events.Event{Kind: events.KindSampleDrawn, Category: cat, IDs: res.Sampled})
	s.logger.Info("spot check drawn",
		zap.String("category", cat),
		zap.Int("max_id", res.MaxID),
		zap.Int("backlog", notSampled),
		zap.Int("sampled", len(res.Sampled)),
		zap.Int("holes", len(res.Holes)),
		zap.Bool("full_scan", res.FullScan))
	return res, nil
}

// draw picks up to n ids not in exclude by probing from random offsets.
// Drawn ids are added to exclude.
func (s *Sampler) draw(exclude *Mask, maxID, n int) []int {
	var out []int
	probes := 0
	for len(out) < n && probes < s.cfg.MaxProbes {
		probes++
		id, ok := exclude.NextClear(s.rng.IntN(maxID + 1))
		if !ok || id > maxID {
			continue
		}
		exclude.Set(id)
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// drain returns every id in [1, maxID] not in exclude.
func drain(exclude *Mask, maxID int) []int {
	var out []int
	for id, ok := exclude.NextClear(1); ok && id <= maxID; id, ok = exclude.NextClear(id + 1) {
		out = append(out, id)
	}
	return out
}

// write persists both masks and the sample file. Holes follow the
// sampled ids in the sample file.
func (s *Sampler) write(cat string, res Result, hidden, sampled *Mask) error {
	if err := SaveMask(s.abs(s.metaPath(cat, HiddenMaskFile)), hidden, res.MaxID); err != nil {
		return err
	}
	if err := SaveMask(s.abs(s.metaPath(cat, SampledMaskFile)), sampled, res.MaxID); err != nil {
		return err
	}

	var b strings.Builder
	for _, id := range res.Sampled {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('\n')
	}
	for _, id := range res.Holes {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('\n')
	}

	samplePath := s.abs(s.metaPath(cat, SampleFile))
	if err := os.MkdirAll(filepath.Dir(samplePath), 0755); err != nil {
		return fmt.Errorf("failed to create sample directory: %w", err)
	}
	if err := os.WriteFile(samplePath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write sample file: %w", err)
	}
	return nil
}
