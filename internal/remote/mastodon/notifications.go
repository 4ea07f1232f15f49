package mastodon

import (
	"context"
	"fmt"
	"net/url"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// Notifications fetches one page of notifications, applying the type filters.
func (c *Client) Notifications(ctx context.Context, req remote.NotificationRequest) (*remote.NotificationResponse, error) {
	limit := req.EffectiveLimit()
	query := url.Values{}
	pageQuery(query, req.MaxID, req.SinceID, req.MinID, limit)
	for _, t := range req.Types {
		query.Add("types[]", wireNotificationType(t))
	}
	for _, t := range req.ExcludeTypes {
		query.Add("exclude_types[]", wireNotificationType(t))
	}

	var raw []apiNotification
	if err := c.getJSON(ctx, "/api/v1/notifications", query, &raw); err != nil {
		return nil, err
	}

	items := make([]remote.Notification, 0, len(raw))
	for i := range raw {
		n, ok := convertNotification(&raw[i])
		if !ok {
			c.log.Debug("skipping notification %s without account", raw[i].ID)
			continue
		}
		items = append(items, n)
	}
	return remote.NewNotificationResponse(items, limit), nil
}

// ClearNotifications dismisses every notification of the account.
func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.postJSON(ctx, "/api/v1/notifications/clear", nil, nil)
}

// DismissNotification dismisses a single notification.
func (c *Client) DismissNotification(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("notification id is empty")
	}
	return c.postJSON(ctx, "/api/v1/notifications/"+url.PathEscape(id)+"/dismiss", nil, nil)
}
