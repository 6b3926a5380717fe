package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bgm-archive/archiver/internal/convert"
	"github.com/bgm-archive/archiver/internal/store"
)

var (
	// ErrUnknownRepo is returned for repository names not in configuration.
	ErrUnknownRepo = errors.New("unknown repository")

	// ErrUnknownScope is returned for malformed watermark scope keys.
	ErrUnknownScope = errors.New("unknown watermark scope")

	// ErrUnknownCategory is returned for category names not in configuration.
	ErrUnknownCategory = errors.New("unknown category")
)

// Backend is what the HTTP layer drives. Trigger methods return as soon
// as the work is scheduled.
type Backend interface {
	TriggerConvert(ctx context.Context, repo string) error
	TriggerCache(ctx context.Context, repo string) error
	TriggerPropagate(ctx context.Context, repo string) error

	Watermark(ctx context.Context, scope string) (string, error)
	OverrideWatermark(ctx context.Context, scope, ref string) (string, error)

	Status(ctx context.Context, repo string) (RepoStatus, error)
	Timestamps(ctx context.Context, repo, cat string, id int) ([]store.Capture, error)
	TopicAt(ctx context.Context, repo, cat string, id int, atMS int64) (Snapshot, error)
}

// RepoStatus describes one repository pair.
type RepoStatus struct {
	Name string `json:"name"`

	SourceHead  string `json:"source_head"`
	SourceSize  int64  `json:"source_size_bytes"`
	SourceHuman string `json:"source_size"`
	TargetHead  string `json:"target_head"`
	TargetSize  int64  `json:"target_size_bytes"`
	TargetHuman string `json:"target_size"`

	// Watermarks by scope key
	Watermarks map[string]string `json:"watermarks"`

	// Lag is the number of source commits after the conversion watermark
	Lag int `json:"lag"`

	LastRun *convert.Report `json:"last_run,omitempty"`
}

// Snapshot is a page as archived at one capture.
type Snapshot struct {
	Capture store.Capture   `json:"capture"`
	Path    string          `json:"path"`
	Topic   json.RawMessage `json:"topic"`
}
