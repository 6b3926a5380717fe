package convert

import (
	"time"

	"go.uber.org/multierr"

	"github.com/bgm-archive/archiver/internal/spotcheck"
)

// Report is the outcome of one pair in a run.
type Report struct {
	Repo  string `json:"repo"`
	State State  `json:"state"`

	// Skipped is set when the pair lock could not be acquired
	Skipped bool `json:"skipped,omitempty"`

	// From and To are the watermark before and after the run
	From string `json:"from"`
	To   string `json:"to"`

	Converted    int `json:"converted"`
	Admin        int `json:"admin"`
	Failed       int `json:"failed"`
	Files        int `json:"files"`
	FileFailures int `json:"file_failures"`

	// NG lists ids that failed to convert, by category
	NG map[string][]int `json:"ng,omitempty"`

	// Visited lists ids converted, by category
	Visited map[string][]int `json:"-"`

	FirstIsSuccessor bool   `json:"-"`
	FirstCategory    string `json:"first_category,omitempty"`

	Sample   *spotcheck.Result `json:"sample,omitempty"`
	Duration time.Duration     `json:"duration"`
	Err      error             `json:"-"`
}

// Errors returns the individual errors of the run.
func (r Report) Errors() []error {
	return multierr.Errors(r.Err)
}

// RunSummary collects the reports of one Run.
type RunSummary struct {
	Reports  []Report      `json:"reports"`
	Duration time.Duration `json:"duration"`
}

// Converted is the number of commits converted across pairs.
func (s RunSummary) Converted() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Converted
	}
	return n
}

// Failed reports whether any pair ended in StateFailed.
func (s RunSummary) Failed() bool {
	for _, r := range s.Reports {
		if r.State == StateFailed {
			return true
		}
	}
	return false
}

// Report returns the report of a pair.
func (s RunSummary) Report(name string) (Report, bool) {
	for _, r := range s.Reports {
		if r.Repo == name {
			return r, true
		}
	}
	return Report{}, false
}
