package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/events"
	"github.com/bgm-archive/archiver/internal/lock"
	"github.com/bgm-archive/archiver/internal/parser"
	"github.com/bgm-archive/archiver/internal/schema"
	"github.com/bgm-archive/archiver/internal/spotcheck"
	"github.com/bgm-archive/archiver/internal/testutil"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/vcs/git"
)

const brokenPage = "<html><body>rate limited</body></html>"

func page(title, body string) string {
	return fmt.Sprintf(`<html><body>
<div id="pageHeader"><h1><a class="avatar" href="/group/g">G</a> &raquo; <span>%s</span></h1></div>
<div class="postTopic" id="post_500" data-item-user="alice" data-item-uid="1">
<strong><a class="l" href="/user/alice">Alice</a></strong>
<div class="topic_content">%s</div>
<div class="post_actions"><small>#1 - 2023-1-2 10:00</small></div>
</div>
<div id="comment_list"></div>
</body></html>`, title, body)
}

func testConfig() Config {
	return Config{
		WatermarkFile: ".archiver/last_commit",
		MetaDir:       ".archiver",
		SourceExt:     ".html",
		TargetExt:     ".json",
		Workers:       2,
		SampleBudget:  time.Hour,
	}
}

type fixture struct {
	source *testutil.GitRepo
	target *testutil.GitRepo
	c0     string
	pair   Pair
	locks  *lock.Registry
	rec    *events.Recorder
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	f := &fixture{
		source: testutil.NewGitRepo(t),
		target: testutil.NewGitRepo(t),
		locks:  lock.NewRegistry("pair", 50*time.Millisecond),
		rec:    &events.Recorder{},
	}
	f.c0 = f.source.Commit("init html archive", map[string]string{"README": "html"})
	f.target.Commit("init json archive", map[string]string{"README": "json"})

	src, err := git.New(f.source.Dir)
	require.NoError(t, err)
	dst, err := git.New(f.target.Dir)
	require.NoError(t, err)
	f.pair = Pair{Name: name, Source: src, Target: dst}
	return f
}

func (f *fixture) pipeline(cfg Config, opts ...Option) *Pipeline {
	opts = append([]Option{WithPublisher(f.rec)}, opts...)
	return New(cfg, []Pair{f.pair}, parser.Default(), category.MustDefault(), f.locks, zap.NewNop(), opts...)
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, "main")
	c1 := f.source.Commit("GROUP title | 1000", map[string]string{"group/00/00/5.html": page("title", "one")})
	c2 := f.source.Commit("GROUP title | 2000", map[string]string{"group/00/00/5.html": page("title", "two")})
	before := f.target.CountCommits()

	pl := f.pipeline(testConfig())
	summary := pl.Run(context.Background())
	require.Len(t, summary.Reports, 1)

	rep := summary.Reports[0]
	require.NoError(t, rep.Err)
	assert.Equal(t, StateIdle, rep.State)
	assert.Equal(t, f.c0, rep.From)
	assert.Equal(t, c2, rep.To)
	assert.Equal(t, 2, rep.Converted)
	assert.Equal(t, "group", rep.FirstCategory)
	assert.True(t, rep.FirstIsSuccessor)

	assert.Equal(t, before+2, f.target.CountCommits())
	assert.Equal(t, "GROUP title | 2000", f.target.Subject("HEAD"))
	assert.Equal(t, "GROUP title | 1000", f.target.Subject("HEAD~1"))
	assert.Equal(t, c2, strings.TrimSpace(f.target.ReadFile(".archiver/last_commit")))

	// both target commits carry the artifact
	for _, ref := range []string{"HEAD", "HEAD~1"} {
		out := f.target.Run("show", ref+":group/00/00/5.json")
		topic, err := schema.Decode([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, 5, topic.ID)
	}
	topic, err := schema.ReadTopicFile(filepath.Join(f.target.Dir, "group/00/00/5.json"))
	require.NoError(t, err)
	assert.Equal(t, "two", topic.Posts[0].Content)

	// watermark is committed with the artifacts
	assert.Equal(t, c1, strings.TrimSpace(f.target.Run("show", "HEAD~1:.archiver/last_commit")))

	again := pl.Run(context.Background())
	assert.Equal(t, 0, again.Converted())
	assert.Equal(t, before+2, f.target.CountCommits())
	assert.Equal(t, c2, strings.TrimSpace(f.target.ReadFile(".archiver/last_commit")))

	assert.Contains(t, f.rec.Kinds(), events.KindCommitConverted)
}

func TestNGMergeIsIdempotent(t *testing.T) {
	f := newFixture(t, "main")
	f.source.Commit("GROUP a | 1000", map[string]string{
		"group/00/00/5.html": page("ok", "fine"),
		"group/00/00/7.html": brokenPage,
	})

	pl := f.pipeline(testConfig())
	rep := pl.Run(context.Background()).Reports[0]
	assert.Equal(t, 1, rep.Converted)
	assert.Equal(t, 1, rep.FileFailures)
	assert.Equal(t, []int{7}, rep.NG["group"])
	assert.True(t, errors.Is(rep.Err, parser.ErrNoStrategy))
	assert.Equal(t, "7\n", f.target.ReadFile(".archiver/group/ng.txt"))
	assert.True(t, f.target.Exists("group/00/00/5.json"))
	assert.False(t, f.target.Exists("group/00/00/7.json"))

	f.source.Commit("GROUP a | 2000", map[string]string{"group/00/00/7.html": brokenPage + " "})
	rep = pl.Run(context.Background()).Reports[0]
	assert.Equal(t, 1, rep.Converted)
	assert.Equal(t, "7\n", f.target.ReadFile(".archiver/group/ng.txt"))

	// ng file is committed
	assert.Equal(t, "7\n", f.target.Run("show", "HEAD:.archiver/group/ng.txt"))
}

func TestAdminCommitOnlyAdvancesWatermark(t *testing.T) {
	f := newFixture(t, "main")
	meta := f.source.Commit("META rebuild index", map[string]string{"group/00/00/5.html": page("x", "y")})
	before := f.target.CountCommits()

	rep := f.pipeline(testConfig()).Run(context.Background()).Reports[0]
	assert.Equal(t, 0, rep.Converted)
	assert.Equal(t, 1, rep.Admin)
	assert.Equal(t, meta, rep.To)
	assert.Equal(t, before, f.target.CountCommits())
	assert.False(t, f.target.Exists("group/00/00/5.json"))
	assert.Equal(t, meta, strings.TrimSpace(f.target.ReadFile(".archiver/last_commit")))
}

func TestDeletedPageRemovesArtifact(t *testing.T) {
	f := newFixture(t, "main")
	f.source.Commit("GROUP add | 1000", map[string]string{"group/00/00/5.html": page("x", "y")})
	pl := f.pipeline(testConfig())
	pl.Run(context.Background())
	require.True(t, f.target.Exists("group/00/00/5.json"))

	f.source.Commit("GROUP remove | 2000", map[string]string{"group/00/00/5.html": ""})
	rep := pl.Run(context.Background()).Reports[0]
	require.NoError(t, rep.Err)
	assert.False(t, f.target.Exists("group/00/00/5.json"))
	assert.NotContains(t, f.target.Run("ls-files"), "group/00/00/5.json")
}

// failingTarget rejects commits whose message contains fail.
type failingTarget struct {
	vcs.Repository
	fail string
}

func (f *failingTarget) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if strings.Contains(opts.Message, f.fail) {
		return errors.New("simulated commit failure")
	}
	return f.Repository.Commit(ctx, opts)
}

func TestFailedCommitIsCoveredByNextDiff(t *testing.T) {
	f := newFixture(t, "main")
	f.source.Commit("GROUP first | 1000", map[string]string{"group/00/00/5.html": page("a", "a")})
	f.source.Commit("META housekeeping", nil)
	c3 := f.source.Commit("GROUP second | 3000", map[string]string{"group/00/00/6.html": page("b", "b")})
	f.pair.Target = &failingTarget{Repository: f.pair.Target, fail: "first"}
	before := f.target.CountCommits()

	rep := f.pipeline(testConfig()).Run(context.Background()).Reports[0]
	assert.Equal(t, StateIdle, rep.State)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Converted)
	assert.Equal(t, c3, rep.To)

	assert.Equal(t, before+1, f.target.CountCommits())
	files := f.target.Run("show", "--name-only", "--format=", "HEAD")
	assert.Contains(t, files, "group/00/00/5.json")
	assert.Contains(t, files, "group/00/00/6.json")
	assert.Contains(t, f.rec.Kinds(), events.KindCommitFailed)
}

func TestSamplerRunsAfterIncrementalSinglePairRun(t *testing.T) {
	f := newFixture(t, "main")
	f.source.Commit("GROUP a | 1000", map[string]string{"group/00/00/5.html": page("a", "a")})

	cfg := testConfig()
	cfg.Sampling = true
	samplerCfg := spotcheck.Config{
		Min: 1, Max: 5, DailyCommitBudget: 288, DrainThreshold: 64, MaxProbes: 100,
		HoleWindowCap: 200, HoleMaxRun: 3, MetaDir: ".archiver", Ext: ".json",
	}
	cache := spotcheck.NewHoleCache(100)
	pl := f.pipeline(cfg, WithSamplers(func(p Pair) (*spotcheck.Sampler, error) {
		return spotcheck.New(samplerCfg, p.Target, category.MustDefault(), cache, zap.NewNop())
	}))

	rep := pl.Run(context.Background(), "main").Reports[0]
	require.NotNil(t, rep.Sample)
	assert.Equal(t, "group", rep.Sample.Category)
	assert.Equal(t, 5, rep.Sample.MaxID)
	assert.NotEmpty(t, rep.Sample.Sampled)
	assert.True(t, strings.HasPrefix(f.target.Subject("HEAD"), "META spot check group |"))

	last, ok := pl.LastReport("main")
	require.True(t, ok)
	assert.NotNil(t, last.Sample)
}

func TestSamplerSkippedWhenDisabledOrOverBudget(t *testing.T) {
	f := newFixture(t, "main")
	f.source.Commit("GROUP a | 1000", map[string]string{"group/00/00/5.html": page("a", "a")})

	cfg := testConfig()
	cfg.Sampling = true
	cfg.SampleBudget = 0
	called := false
	pl := f.pipeline(cfg, WithSamplers(func(Pair) (*spotcheck.Sampler, error) {
		called = true
		return nil, errors.New("unused")
	}))

	rep := pl.Run(context.Background()).Reports[0]
	assert.Nil(t, rep.Sample)
	assert.False(t, called)
}

func TestRunDropsTriggerOnLockTimeout(t *testing.T) {
	f := newFixture(t, "main")
	pl := f.pipeline(testConfig())

	unlock, err := f.locks.Get("main").Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	rep := pl.Run(context.Background(), "main").Reports[0]
	assert.True(t, rep.Skipped)
	assert.True(t, errors.Is(rep.Err, lock.ErrTimeout))
	assert.Contains(t, f.rec.Kinds(), events.KindTriggerDropped)
}

func TestRunUnknownPair(t *testing.T) {
	f := newFixture(t, "main")
	summary := f.pipeline(testConfig()).Run(context.Background(), "nope")
	require.Len(t, summary.Reports, 1)
	assert.True(t, errors.Is(summary.Reports[0].Err, ErrUnknownPair))
	assert.True(t, summary.Failed())
}

func TestMultiPairRunIsolatesFailures(t *testing.T) {
	good := newFixture(t, "good")
	good.source.Commit("GROUP a | 1000", map[string]string{"group/00/00/5.html": page("a", "a")})

	bad := newFixture(t, "bad")
	// a watermark that does not resolve is fatal for that pair only
	bad.target.Commit("seed watermark", map[string]string{".archiver/last_commit": "0123456789abcdef0123456789abcdef01234567\n"})

	pl := New(testConfig(), []Pair{good.pair, bad.pair}, parser.Default(), category.MustDefault(),
		lock.NewRegistry("pair", time.Second), zap.NewNop())
	summary := pl.Run(context.Background())
	require.Len(t, summary.Reports, 2)

	badRep, ok := summary.Report("bad")
	require.True(t, ok)
	assert.Equal(t, StateFailed, badRep.State)
	assert.True(t, vcs.IsFatal(badRep.Err))

	goodRep, ok := summary.Report("good")
	require.True(t, ok)
	assert.Equal(t, StateIdle, goodRep.State)
	assert.Equal(t, 1, goodRep.Converted)
}
