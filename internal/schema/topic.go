// Package schema defines the JSON artifact written for every archived
// topic and read back by the database propagator.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Topic states as rendered by the forum.
const (
	StateNormal  = "normal"
	StateClosed  = "closed"
	StateSilent  = "silent"
	StateDeleted = "deleted"
)

// Topic is the structured form of one archived page.
type Topic struct {
	ID       int    `json:"id"`
	Category string `json:"category"`
	Title    string `json:"title"`
	// ParentID is the group slug, subject id, or owner the topic hangs off
	ParentID  string `json:"parent_id,omitempty"`
	Creator   User   `json:"creator"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
	State     string `json:"state"`
	// Hidden marks pages the forum refuses to render (deleted, private)
	Hidden bool   `json:"hidden,omitempty"`
	Posts  []Post `json:"posts"`
	Likes  []Like `json:"likes,omitempty"`
}

// Post is one reply; the opening post is the first element.
type Post struct {
	ID       int64  `json:"id"`
	User     User   `json:"user"`
	Content  string `json:"content"`
	Dateline int64  `json:"dateline"`
	State    string `json:"state,omitempty"`
	// ReplyTo is the post this one answers, zero for top level
	ReplyTo int64 `json:"reply_to,omitempty"`
}

// User identifies a poster. A zero or negative ID means the page only
// showed the username; the store assigns a negative placeholder.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// Like is a reaction count on one post.
type Like struct {
	PostID int64 `json:"pid"`
	Value  int   `json:"value"`
	Total  int   `json:"total"`
}

// Validate checks if the Topic has valid field values
func (t *Topic) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", t.ID)
	}
	if t.Category == "" {
		return fmt.Errorf("category is required")
	}

	seen := make(map[int64]bool, len(t.Posts))
	for i, p := range t.Posts {
		if p.ID <= 0 {
			return fmt.Errorf("posts[%d]: id must be positive", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("posts[%d]: duplicate id %d", i, p.ID)
		}
		seen[p.ID] = true
		if p.User.ID <= 0 && p.User.Username == "" {
			return fmt.Errorf("posts[%d]: user needs an id or a username", i)
		}
	}

	for i, l := range t.Likes {
		if l.PostID <= 0 {
			return fmt.Errorf("likes[%d]: pid must be positive", i)
		}
		if l.Total < 0 {
			return fmt.Errorf("likes[%d]: total must not be negative", i)
		}
	}

	return nil
}

// IsEmpty reports whether the page carries no visible content. Empty
// topics are classified as hidden by the spot-check scan.
func (t *Topic) IsEmpty() bool {
	return t.Hidden || len(t.Posts) == 0
}

// PostIDs returns the ids of all posts in order.
func (t *Topic) PostIDs() []int64 {
	ids := make([]int64, len(t.Posts))
	for i, p := range t.Posts {
		ids[i] = p.ID
	}
	return ids
}

// Decode parses and validates a topic artifact.
func Decode(data []byte) (*Topic, error) {
	var topic Topic
	if err := json.Unmarshal(data, &topic); err != nil {
		return nil, fmt.Errorf("failed to parse topic: %w", err)
	}

	if err := topic.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topic: %w", err)
	}

	return &topic, nil
}

// Encode renders a topic artifact. Output is stable for equal input so
// unchanged pages produce unchanged files.
func Encode(topic *Topic) ([]byte, error) {
	if err := topic.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topic: %w", err)
	}

	data, err := json.MarshalIndent(topic, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topic: %w", err)
	}
	return append(data, '\n'), nil
}

// ReadTopicFile reads and validates a topic file
func ReadTopicFile(path string) (*Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic file: %w", err)
	}
	return Decode(data)
}

// WriteTopicFile writes a topic artifact to root/rel, creating directories.
func WriteTopicFile(root, rel string, topic *Topic) error {
	data, err := Encode(topic)
	if err != nil {
		return err
	}

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create topic directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write topic file: %w", err)
	}

	return nil
}
