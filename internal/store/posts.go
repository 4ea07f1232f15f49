package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// CachePosts stores the posts of a fetched timeline page for accountID,
// refreshing rows already present.
func (s *Store) CachePosts(ctx context.Context, accountID string, posts []remote.Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (id, account_id, content, created_at, data, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			content = excluded.content,
			data = excluded.data,
			cached_at = excluded.cached_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.timestamp()
	for i := range posts {
		p := &posts[i]
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode post %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, accountID, p.Content, formatTime(p.CreatedAt), string(data), now); err != nil {
			return fmt.Errorf("cache post %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// CleanupPosts deletes cached posts older than maxAge and returns how many
// were removed.
func (s *Store) CleanupPosts(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTime(s.now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("cleaned up %d old cached posts", n)
	}
	return n, nil
}
