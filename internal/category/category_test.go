package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathRoundTrip(t *testing.T) {
	p := Path("group", 5, ".html")
	require.Equal(t, "group/00/00/5.html", p)

	ref, ok := ParsePath(p)
	require.True(t, ok)
	assert.Equal(t, Ref{Category: "group", ID: 5, Ext: ".html"}, ref)

	assert.Equal(t, "subject/12/34/123456.json", Path("subject", 123456, ".json"))
	assert.Equal(t, "group/00/00/5.json", MirrorPath(p, ".json"))
}

func TestParsePathRejectsNonContent(t *testing.T) {
	for _, p := range []string{"README", ".archiver/last_commit", "group/00/00/index.html", "group/00/00/0.html", "5.html"} {
		_, ok := ParsePath(p)
		assert.False(t, ok, p)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Message
	}{
		{
			name: "content commit",
			msg:  "GROUP title | 1000",
			want: Message{Tag: "GROUP", Text: "title", CaptureMS: 1000, HasTime: true},
		},
		{
			name: "pipe inside text",
			msg:  "SUBJECT a | b | 1700000000000\n\nbody",
			want: Message{Tag: "SUBJECT", Text: "a | b", CaptureMS: 1700000000000, HasTime: true},
		},
		{
			name: "meta commit",
			msg:  "META spot check group",
			want: Message{Tag: "META", Text: "spot check group", Admin: true},
		},
		{
			name: "init commit",
			msg:  "init",
			want: Message{Tag: "init", Admin: true},
		},
		{
			name: "init prefix",
			msg:  "initial import",
			want: Message{Tag: "initial", Text: "import", Admin: true},
		},
		{
			name: "meta prefix without space",
			msg:  "META: bump masks",
			want: Message{Tag: "META:", Text: "bump masks", Admin: true},
		},
		{
			name: "admin word later in subject",
			msg:  "GROUP META discussion | 1000",
			want: Message{Tag: "GROUP", Text: "META discussion", CaptureMS: 1000, HasTime: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMessage(tt.msg))
		})
	}
}

func TestFormatMessageParses(t *testing.T) {
	m := ParseMessage(FormatMessage("META", "spot check blog", 42))
	assert.True(t, m.Admin)
	assert.Equal(t, int64(42), m.CaptureMS)
}

func TestSet(t *testing.T) {
	s := MustDefault()

	c, ok := s.ByTag("group")
	require.True(t, ok)
	assert.Equal(t, "group", c.Name)
	assert.True(t, c.TracksDeletedReplies)

	_, ok = s.Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, len(Defaults), s.Len())

	_, err := NewSet([]Category{{Name: "a", Tag: "A"}, {Name: "a", Tag: "B"}})
	assert.Error(t, err)
}
