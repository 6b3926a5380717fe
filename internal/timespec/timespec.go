// Package timespec parses the time expressions accepted by the HTTP API:
// epoch milliseconds, RFC 3339, or English phrases such as "yesterday 10am".
package timespec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrUnrecognized is returned when an expression matches no format.
var ErrUnrecognized = errors.New("unrecognized time expression")

var (
	parserOnce sync.Once
	parser     *when.Parser
)

func natural() *when.Parser {
	parserOnce.Do(func() {
		parser = when.New(nil)
		parser.Add(en.All...)
		parser.Add(common.All...)
	})
	return parser
}

// Parse resolves expr relative to now. An empty expression means now.
func Parse(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "now") {
		return now, nil
	}

	if ms, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return time.UnixMilli(ms).In(now.Location()), nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	r, err := natural().Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, expr)
	}
	return r.Time, nil
}

// ParseMS is Parse returning epoch milliseconds.
func ParseMS(expr string, now time.Time) (int64, error) {
	t, err := Parse(expr, now)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
