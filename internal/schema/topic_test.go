package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTopic() *Topic {
	return &Topic{
		ID:        5,
		Category:  "group",
		Title:     "hello",
		ParentID:  "sandbox",
		Creator:   User{ID: 1, Username: "alice"},
		CreatedAt: 1000,
		State:     StateNormal,
		Posts: []Post{
			{ID: 10, User: User{ID: 1, Username: "alice"}, Content: "first", Dateline: 1000},
			{ID: 11, User: User{Username: "bob"}, Content: "reply", Dateline: 1001, ReplyTo: 10},
		},
		Likes: []Like{{PostID: 10, Value: 2, Total: 5}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleTopic().Validate())

	tests := []struct {
		name   string
		mutate func(*Topic)
	}{
		{"zero id", func(tp *Topic) { tp.ID = 0 }},
		{"no category", func(tp *Topic) { tp.Category = "" }},
		{"duplicate post", func(tp *Topic) { tp.Posts[1].ID = 10 }},
		{"anonymous user", func(tp *Topic) { tp.Posts[1].User = User{} }},
		{"negative like total", func(tp *Topic) { tp.Likes[0].Total = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := sampleTopic()
			tt.mutate(tp)
			assert.Error(t, tp.Validate())
		})
	}
}

func TestWriteAndReadTopicFile(t *testing.T) {
	root := t.TempDir()
	rel := "group/00/00/5.json"

	require.NoError(t, WriteTopicFile(root, rel, sampleTopic()))

	got, err := ReadTopicFile(filepath.Join(root, rel))
	require.NoError(t, err)
	assert.Equal(t, sampleTopic(), got)
}

func TestEncodeIsStable(t *testing.T) {
	a, err := Encode(sampleTopic())
	require.NoError(t, err)
	b, err := Encode(sampleTopic())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"id": 0, "category": "group"}`))
	assert.Error(t, err)
}

func TestIsEmpty(t *testing.T) {
	tp := sampleTopic()
	assert.False(t, tp.IsEmpty())
	assert.Equal(t, []int64{10, 11}, tp.PostIDs())

	tp.Hidden = true
	assert.True(t, tp.IsEmpty())

	tp = sampleTopic()
	tp.Posts = nil
	assert.True(t, tp.IsEmpty())
}
