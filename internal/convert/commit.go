package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/category"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/schema"
	"github.com/bgm-archive/archiver/internal/vcs"
	"github.com/bgm-archive/archiver/internal/watermark"
)

// commitWork converts single commits of one pair.
type commitWork struct {
	pipeline   *Pipeline
	pair       Pair
	targetRoot string
	tracker    *watermark.Tracker
	wmFile     *watermark.FileStore
	logger     *zap.Logger
}

// commitResult describes a converted commit.
type commitResult struct {
	category string
	ids      []int
}

// process runs DIFFING, CONVERTING, COMMITTING and ADVANCING for c.
// The diff baseline is always the tracker's current value, so a commit
// after a failed one also covers the failed commit's changes.
func (w *commitWork) process(ctx context.Context, c vcs.Commit, msg category.Message, rep *Report) (commitResult, error) {
	p := w.pipeline
	res := commitResult{}
	logger := w.logger.With(zap.String("commit", short(c.Hash)))

	declared, declaredOK := p.categories.ByTag(msg.Tag)
	if declaredOK {
		res.category = declared.Name
	}

	// DIFFING
	rep.State = StateDiffing
	base, err := w.tracker.Current(ctx)
	if err != nil {
		return res, err
	}
	changes, err := w.pair.Source.Diff(ctx, base, c.Hash)
	if err != nil {
		return res, fmt.Errorf("failed to diff %s..%s: %w", short(base), short(c.Hash), err)
	}

	// CONVERTING
	rep.State = StateConverting
	var (
		staged   []string
		ng       = make(map[string][]int)
		fileErrs error
	)
	for _, ch := range changes {
		if !strings.HasSuffix(ch.Path, p.cfg.SourceExt) {
			continue
		}
		ref, ok := category.ParsePath(ch.Path)
		if !ok {
			continue
		}
		if _, known := p.categories.Lookup(ref.Category); !known {
			logger.Debug("skipping path outside known categories", zap.String("path", ch.Path))
			continue
		}
		if declaredOK && declared.Name != ref.Category {
			logger.Warn("category mismatch between path and message",
				zap.String("path", ch.Path),
				zap.String("declared", declared.Name))
		}
		if res.category == "" {
			res.category = ref.Category
		}

		target := category.MirrorPath(ch.Path, p.cfg.TargetExt)
		if ch.Kind == vcs.ChangeDeleted {
			removed, err := w.remove(target)
			if err != nil {
				fileErrs = multierr.Append(fileErrs, err)
				continue
			}
			if removed {
				staged = append(staged, target)
				metrics.ObserveFile("convert", ref.Category, "deleted")
			}
			continue
		}

		rep.Files++
		if err := w.convertFile(ctx, c.Hash, ch.Path, target, ref); err != nil {
			rep.FileFailures++
			ng[ref.Category] = append(ng[ref.Category], ref.ID)
			fileErrs = multierr.Append(fileErrs, err)
			metrics.ObserveFile("convert", ref.Category, "failed")
			logger.Warn("page conversion failed", zap.String("path", ch.Path), zap.Error(err))
			continue
		}

		staged = append(staged, target)
		res.ids = append(res.ids, ref.ID)
		rep.Visited[ref.Category] = append(rep.Visited[ref.Category], ref.ID)
		metrics.ObserveFile("convert", ref.Category, "ok")
	}

	// COMMITTING
	rep.State = StateCommitting
	cats := make([]string, 0, len(ng))
	for cat := range ng {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		rel := p.ngPath(cat)
		changed, err := MergeNG(filepath.Join(w.targetRoot, filepath.FromSlash(rel)), ng[cat])
		if err != nil {
			return res, err
		}
		if changed {
			staged = append(staged, rel)
		}
		rep.NG[cat] = append(rep.NG[cat], ng[cat]...)
	}

	if err := w.tracker.Advance(ctx, c.Hash); err != nil {
		return res, err
	}
	staged = append(staged, p.cfg.WatermarkFile)

	if err := w.commit(ctx, c, staged); err != nil {
		// put the working tree watermark back so the next commit re-diffs
		if rerr := w.wmFile.Set(ctx, w.tracker.Key(), base); rerr != nil {
			logger.Error("failed to restore watermark file", zap.Error(rerr))
		}
		return res, err
	}

	// ADVANCING
	rep.State = StateAdvancing
	if fileErrs != nil {
		rep.Err = multierr.Append(rep.Err, fmt.Errorf("commit %s: %w", short(c.Hash), fileErrs))
	}
	logger.Debug("commit converted",
		zap.Int("changes", len(changes)),
		zap.Int("staged", len(staged)),
		zap.Int("ng", len(multierr.Errors(fileErrs))))
	return res, nil
}

// convertFile parses one page and writes its artifact.
func (w *commitWork) convertFile(ctx context.Context, commit, src, target string, ref category.Ref) error {
	p := w.pipeline

	html, err := w.pair.Source.Show(ctx, commit, src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}

	topic, err := p.parser.Parse(html, ref.ID, ref.Category)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", src, err)
	}

	if err := schema.WriteTopicFile(w.targetRoot, target, topic); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

// remove deletes the mirrored artifact of a deleted page. Reports false
// when there was nothing to delete.
func (w *commitWork) remove(target string) (bool, error) {
	full := filepath.Join(w.targetRoot, filepath.FromSlash(target))
	err := os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", target, err)
	}
	return true, nil
}

// commit stages paths and creates the mirrored target commit.
func (w *commitWork) commit(ctx context.Context, c vcs.Commit, staged []string) error {
	if err := w.pair.Target.Add(ctx, staged); err != nil {
		return fmt.Errorf("failed to stage target files: %w", err)
	}

	err := w.pair.Target.Commit(ctx, vcs.CommitOptions{
		Message:    c.Message,
		AllowEmpty: true,
		NoGPGSign:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to commit target: %w", err)
	}
	return nil
}
