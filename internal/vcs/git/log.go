package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bgm-archive/archiver/internal/vcs"
)

const (
	fieldSep  = "\x1f"
	recordSep = '\x1e'

	// logFormat prints hash, tree, parents, author time, committer time and
	// the raw body, one record per commit.
	logFormat = "--format=%H%x1f%T%x1f%P%x1f%at%x1f%ct%x1f%B%x1e"
)

// Log yields commits reachable from `to` and not from `from`, oldest
// first, following first parents. The lower bound is exclusive: `from`
// itself is never yielded. An empty `from` walks from the root commit.
//
// The git process is started when iteration begins and killed if the
// consumer stops early. Unresolvable bounds are yielded as a single
// vcs.ErrRefNotFound error before any commit.
func (g *Git) Log(ctx context.Context, from, to string) iter.Seq2[vcs.Commit, error] {
	return func(yield func(vcs.Commit, error) bool) {
		toHash, err := g.Resolve(ctx, to)
		if err != nil {
			yield(vcs.Commit{}, err)
			return
		}

		rev := toHash
		if from != "" {
			fromHash, err := g.Resolve(ctx, from)
			if err != nil {
				yield(vcs.Commit{}, err)
				return
			}
			if fromHash == toHash {
				return
			}
			rev = fromHash + ".." + toHash
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(ctx, "git", "log", "--first-parent", "--topo-order", "--reverse", logFormat, rev, "--")
		cmd.Dir = g.repoRoot
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(vcs.Commit{}, fmt.Errorf("failed to open git log output: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(vcs.Commit{}, fmt.Errorf("failed to start git log: %w", err))
			return
		}

		// Reap the process when the consumer stops early
		waited := false
		defer func() {
			if !waited {
				cancel()
				_ = cmd.Wait()
			}
		}()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		scanner.Split(splitRecords)

		for scanner.Scan() {
			record := strings.TrimLeft(scanner.Text(), "\n")
			if record == "" {
				continue
			}

			commit, err := parseLogRecord(record)
			if err != nil {
				yield(vcs.Commit{}, err)
				return
			}
			if !yield(commit, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(vcs.Commit{}, fmt.Errorf("failed to read git log: %w", err))
			return
		}
		waited = true
		if err := cmd.Wait(); err != nil {
			yield(vcs.Commit{}, fmt.Errorf("git log failed: %w\n%s", err, stderr.String()))
		}
	}
}

// splitRecords is a bufio.SplitFunc that splits on the record separator.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, recordSep); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseLogRecord parses one logFormat record.
func parseLogRecord(record string) (vcs.Commit, error) {
	fields := strings.SplitN(record, fieldSep, 6)
	if len(fields) != 6 {
		return vcs.Commit{}, fmt.Errorf("unexpected git log record: %d fields", len(fields))
	}

	authorTime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("invalid author time %q: %w", fields[3], err)
	}
	commitTime, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("invalid commit time %q: %w", fields[4], err)
	}

	return vcs.Commit{
		Hash:       fields[0],
		Tree:       fields[1],
		Parents:    strings.Fields(fields[2]),
		AuthorTime: time.Unix(authorTime, 0),
		CommitTime: time.Unix(commitTime, 0),
		Message:    strings.TrimRight(fields[5], "\n"),
	}, nil
}

// Resolve returns the full commit id for ref.
func (g *Git) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", vcs.ErrRefNotFound)
	}

	output, err := vcs.ExecContext(ctx, defaultTimeout, g.repoRoot,
		"git", "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if vcs.GetExitCode(err) > 0 {
			return "", fmt.Errorf("%w: %s", vcs.ErrRefNotFound, ref)
		}
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	return vcs.TrimOutput(output), nil
}

// FirstCommit returns the root commit on HEAD's first-parent chain.
func (g *Git) FirstCommit(ctx context.Context) (string, error) {
	if _, err := g.Resolve(ctx, "HEAD"); err != nil {
		return "", fmt.Errorf("%w: %s", vcs.ErrEmptyRepository, g.repoRoot)
	}

	lines, err := vcs.ExecLines(ctx, defaultTimeout, g.repoRoot,
		"git", "rev-list", "--first-parent", "--max-parents=0", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to find first commit: %w", err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: %s", vcs.ErrEmptyRepository, g.repoRoot)
	}

	return lines[len(lines)-1], nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := vcs.ExecContext(ctx, defaultTimeout, g.repoRoot,
		"git", "merge-base", "--is-ancestor", ancestor, descendant)
	switch vcs.GetExitCode(err) {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare %s and %s: %w", ancestor, descendant, err)
	}
}

// CountCommits counts first-parent commits in (from, to].
func (g *Git) CountCommits(ctx context.Context, from, to string) (int, error) {
	rev := to
	if from != "" {
		rev = from + ".." + to
	}

	output, err := g.Exec(ctx, "rev-list", "--count", "--first-parent", rev, "--")
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(vcs.TrimOutput(output))
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", output, err)
	}
	return n, nil
}
