package mastodon

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/blindodon/mastodon-core/internal/remote"
)

type statusPayload struct {
	Status      string          `json:"status"`
	SpoilerText string          `json:"spoiler_text,omitempty"`
	Visibility  string          `json:"visibility,omitempty"`
	Sensitive   bool            `json:"sensitive,omitempty"`
	Language    string          `json:"language,omitempty"`
	InReplyToID string          `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string        `json:"media_ids,omitempty"`
	Poll        *remote.NewPoll `json:"poll,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// CreatePost publishes a new status.
func (c *Client) CreatePost(ctx context.Context, post remote.NewPost) (*remote.Post, error) {
	payload := statusPayload{
		Status:      post.Content,
		SpoilerText: deref(post.SpoilerText),
		Visibility:  string(post.Visibility),
		Sensitive:   post.Sensitive,
		Language:    deref(post.Language),
		InReplyToID: deref(post.InReplyToID),
		MediaIDs:    post.MediaIDs,
		Poll:        post.Poll,
		ScheduledAt: post.ScheduledAt,
	}

	var created remote.Post
	if err := c.postJSON(ctx, "/api/v1/statuses", payload, &created); err != nil {
		return nil, err
	}
	preparePost(&created)
	return &created, nil
}

func (c *Client) statusAction(ctx context.Context, postID, action string) (*remote.Post, error) {
	if postID == "" {
		return nil, fmt.Errorf("post id is empty")
	}
	var p remote.Post
	if err := c.postJSON(ctx, "/api/v1/statuses/"+url.PathEscape(postID)+"/"+action, nil, &p); err != nil {
		return nil, err
	}
	preparePost(&p)
	return &p, nil
}

func (c *Client) Boost(ctx context.Context, postID string) (*remote.Post, error) {
	return c.statusAction(ctx, postID, "reblog")
}

func (c *Client) Unboost(ctx context.Context, postID string) (*remote.Post, error) {
	return c.statusAction(ctx, postID, "unreblog")
}

func (c *Client) Favourite(ctx context.Context, postID string) (*remote.Post, error) {
	return c.statusAction(ctx, postID, "favourite")
}

func (c *Client) Unfavourite(ctx context.Context, postID string) (*remote.Post, error) {
	return c.statusAction(ctx, postID, "unfavourite")
}
