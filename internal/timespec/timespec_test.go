package timespec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"empty", "", now},
		{"now", "now", now},
		{"epoch ms", "1700000000000", time.UnixMilli(1700000000000).UTC()},
		{"rfc3339", "2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.expr, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseNatural(t *testing.T) {
	got, err := Parse("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())
	assert.Equal(t, time.March, got.Month())
}

func TestParseUnrecognized(t *testing.T) {
	_, err := Parse("zzz qqq", now)
	assert.True(t, errors.Is(err, ErrUnrecognized))
}

func TestParseMS(t *testing.T) {
	ms, err := ParseMS("1700000000000", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)
}
