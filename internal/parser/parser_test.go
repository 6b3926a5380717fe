package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgm-archive/archiver/internal/schema"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseCurrentLayout(t *testing.T) {
	topic, err := Default().Parse(fixture(t, "current.html"), 5, "group")
	require.NoError(t, err)

	assert.Equal(t, 5, topic.ID)
	assert.Equal(t, "group", topic.Category)
	assert.Equal(t, "Hello world", topic.Title)
	assert.Equal(t, "boring", topic.ParentID)
	assert.Equal(t, schema.StateNormal, topic.State)
	assert.False(t, topic.Hidden)

	require.Len(t, topic.Posts, 3)
	assert.Equal(t, []int64{100, 101, 102}, topic.PostIDs())
	assert.Equal(t, schema.User{ID: 1, Username: "alice", Nickname: "Alice"}, topic.Creator)
	assert.Equal(t, "first <b>post</b>", topic.Posts[0].Content)
	assert.Equal(t, int64(1672624800), topic.Posts[0].Dateline)
	assert.Equal(t, int64(1672630200), topic.Posts[1].Dateline)
	assert.Equal(t, int64(101), topic.Posts[2].ReplyTo)
	assert.Equal(t, int64(1672635600), topic.UpdatedAt)

	assert.ElementsMatch(t, []schema.Like{
		{PostID: 100, Value: 79, Total: 3},
		{PostID: 100, Value: 2, Total: 1},
	}, topic.Likes)
}

func TestParseLegacyLayout(t *testing.T) {
	topic, err := Default().Parse(fixture(t, "legacy.html"), 10, "subject")
	require.NoError(t, err)

	assert.Equal(t, "Old title", topic.Title)
	assert.Equal(t, "12", topic.ParentID)
	require.Len(t, topic.Posts, 2)
	assert.Equal(t, "carol", topic.Creator.Username)
	assert.Equal(t, int64(0), topic.Creator.ID)
	assert.Equal(t, "dave", topic.Posts[1].User.Username)
	assert.Equal(t, "legacy reply", topic.Posts[1].Content)
}

func TestParseNoticeIsHidden(t *testing.T) {
	topic, err := Default().Parse(fixture(t, "notice.html"), 7, "group")
	require.NoError(t, err)
	assert.True(t, topic.Hidden)
	assert.True(t, topic.IsEmpty())
}

func TestParseErrors(t *testing.T) {
	_, err := Default().Parse(fixture(t, "login.html"), 7, "group")
	assert.True(t, errors.Is(err, ErrNotTopic), "got %v", err)

	_, err = Default().Parse([]byte("<html><body>nothing here</body></html>"), 7, "group")
	assert.True(t, errors.Is(err, ErrNoStrategy), "got %v", err)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	var called []string
	strategy := func(name string, match bool) Strategy {
		return Strategy{
			Name:  name,
			Match: func(*goquery.Document) bool { return match },
			Parse: func(Page) (*schema.Topic, error) {
				called = append(called, name)
				return &schema.Topic{Title: name, State: schema.StateNormal}, nil
			},
		}
	}

	r := NewRegistry(strategy("newest", false), strategy("middle", true))
	r.Register(strategy("oldest", true))
	assert.Equal(t, []string{"newest", "middle", "oldest"}, r.Names())

	topic, err := r.Parse([]byte("<html></html>"), 1, "ep")
	require.NoError(t, err)
	assert.Equal(t, "middle", topic.Title)
	assert.Equal(t, []string{"middle"}, called)
}
