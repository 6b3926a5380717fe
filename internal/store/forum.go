package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bgm-archive/archiver/internal/schema"
)

// LikeKey identifies one reaction counter.
type LikeKey struct {
	PostID int64
	Value  int
}

// TopicUpdate is everything written for one artifact in one transaction.
type TopicUpdate struct {
	Topic *schema.Topic

	// Likes replaces the artifact's likes; reconciled zero totals included
	Likes []schema.Like

	// DeletedPostIDs are stored replies missing from the artifact
	DeletedPostIDs []int64

	// Commit is the target commit the artifact was read from
	Commit string
}

// StoredLikes returns the reaction counters stored for a topic.
func (s *Store) StoredLikes(ctx context.Context, cat string, topicID int) (map[LikeKey]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.q(`SELECT post_id, value, total FROM likes WHERE category = ? AND topic_id = ?`), cat, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query likes: %w", err)
	}
	defer rows.Close()

	likes := make(map[LikeKey]int)
	for rows.Next() {
		var (
			k     LikeKey
			total int
		)
		if err := rows.Scan(&k.PostID, &k.Value, &total); err != nil {
			return nil, fmt.Errorf("failed to scan like: %w", err)
		}
		likes[k] = total
	}
	return likes, rows.Err()
}

// StoredPostIDs returns the ids of live posts stored for a topic.
func (s *Store) StoredPostIDs(ctx context.Context, cat string, topicID int) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.q(`SELECT id FROM posts WHERE category = ? AND topic_id = ? AND state <> ? ORDER BY id`),
		cat, topicID, schema.StateDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyTopic writes a topic, its posts and likes, and marks deleted
// replies, atomically.
func (s *Store) ApplyTopic(ctx context.Context, u TopicUpdate) error {
	t := u.Topic
	return s.withTx(ctx, func(tx *sql.Tx) error {
		creatorID, err := s.resolveUser(ctx, tx, t.Creator)
		if err != nil {
			return err
		}

		query := `
		INSERT INTO topics (category, id, title, parent_id, creator_id, created_at, updated_at, state, hidden, last_commit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, id) DO UPDATE SET
			title = excluded.title,
			parent_id = excluded.parent_id,
			creator_id = excluded.creator_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			state = excluded.state,
			hidden = excluded.hidden,
			last_commit = excluded.last_commit
		`
		_, err = tx.ExecContext(ctx, s.q(query),
			t.Category, t.ID, t.Title, t.ParentID, creatorID,
			t.CreatedAt, t.UpdatedAt, t.State, boolToInt(t.Hidden), u.Commit)
		if err != nil {
			return fmt.Errorf("failed to upsert topic %s/%d: %w", t.Category, t.ID, err)
		}

		for _, p := range t.Posts {
			userID, err := s.resolveUser(ctx, tx, p.User)
			if err != nil {
				return err
			}
			query := `
			INSERT INTO posts (category, id, topic_id, user_id, content, dateline, state, reply_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(category, id) DO UPDATE SET
				topic_id = excluded.topic_id,
				user_id = excluded.user_id,
				content = excluded.content,
				dateline = excluded.dateline,
				state = excluded.state,
				reply_to = excluded.reply_to
			`
			_, err = tx.ExecContext(ctx, s.q(query),
				t.Category, p.ID, t.ID, userID, p.Content, p.Dateline, p.State, p.ReplyTo)
			if err != nil {
				return fmt.Errorf("failed to upsert post %d: %w", p.ID, err)
			}
		}

		for _, id := range u.DeletedPostIDs {
			_, err := tx.ExecContext(ctx,
				s.q(`UPDATE posts SET state = ? WHERE category = ? AND id = ?`),
				schema.StateDeleted, t.Category, id)
			if err != nil {
				return fmt.Errorf("failed to mark post %d deleted: %w", id, err)
			}
		}

		for _, l := range u.Likes {
			query := `
			INSERT INTO likes (category, topic_id, post_id, value, total) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(category, post_id, value) DO UPDATE SET
				topic_id = excluded.topic_id,
				total = excluded.total
			`
			if _, err := tx.ExecContext(ctx, s.q(query), t.Category, t.ID, l.PostID, l.Value, l.Total); err != nil {
				return fmt.Errorf("failed to upsert like %d/%d: %w", l.PostID, l.Value, err)
			}
		}

		return nil
	})
}

// MarkTopicDeleted flags a stored topic as deleted. Returns ErrNotFound
// when the topic was never stored.
func (s *Store) MarkTopicDeleted(ctx context.Context, cat string, id int, commit string) error {
	res, err := s.conn.ExecContext(ctx,
		s.q(`UPDATE topics SET state = ?, last_commit = ? WHERE category = ? AND id = ?`),
		schema.StateDeleted, commit, cat, id)
	if err != nil {
		return fmt.Errorf("failed to mark topic %s/%d deleted: %w", cat, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark topic %s/%d deleted: %w", cat, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StoredTopic is the summary row of a topic.
type StoredTopic struct {
	Category   string `json:"category"`
	ID         int    `json:"id"`
	Title      string `json:"title"`
	CreatorID  int64  `json:"creator_id"`
	State      string `json:"state"`
	Hidden     bool   `json:"hidden"`
	LastCommit string `json:"last_commit"`
}

// GetTopic returns the stored topic row.
func (s *Store) GetTopic(ctx context.Context, cat string, id int) (StoredTopic, error) {
	var (
		t      StoredTopic
		hidden int
	)
	err := s.conn.QueryRowContext(ctx, s.q(`
		SELECT category, id, title, creator_id, state, hidden, last_commit
		FROM topics WHERE category = ? AND id = ?`), cat, id).
		Scan(&t.Category, &t.ID, &t.Title, &t.CreatorID, &t.State, &hidden, &t.LastCommit)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredTopic{}, ErrNotFound
	}
	if err != nil {
		return StoredTopic{}, fmt.Errorf("failed to read topic %s/%d: %w", cat, id, err)
	}
	t.Hidden = hidden != 0
	return t, nil
}

// resolveUser returns the stored id for u. Known ids are upserted; a
// username-only user maps to an existing row with that username,
// preferring a positive id, or gets a fresh negative placeholder.
func (s *Store) resolveUser(ctx context.Context, tx *sql.Tx, u schema.User) (int64, error) {
	if u.ID > 0 {
		query := `
		INSERT INTO users (id, username, nickname) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			nickname = excluded.nickname
		`
		if _, err := tx.ExecContext(ctx, s.q(query), u.ID, u.Username, u.Nickname); err != nil {
			return 0, fmt.Errorf("failed to upsert user %d: %w", u.ID, err)
		}
		return u.ID, nil
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		s.q(`SELECT id FROM users WHERE username = ? ORDER BY id DESC LIMIT 1`), u.Username).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to look up user %q: %w", u.Username, err)
	}

	var lowest int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MIN(id), 0) FROM users`).Scan(&lowest); err != nil {
		return 0, fmt.Errorf("failed to allocate placeholder user: %w", err)
	}
	id = min(lowest, 0) - 1

	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO users (id, username, nickname) VALUES (?, ?, ?)`), id, u.Username, u.Nickname); err != nil {
		return 0, fmt.Errorf("failed to insert placeholder user %q: %w", u.Username, err)
	}
	return id, nil
}
