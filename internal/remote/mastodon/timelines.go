package mastodon

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// timelinePath returns the REST endpoint and fixed query for t. ok is false
// for timelines this client answers with an empty page: notifications and
// direct messages have their own endpoints, trending and search are not
// offered.
func timelinePath(t remote.Timeline) (path string, query url.Values, ok bool) {
	query = url.Values{}
	switch t := t.(type) {
	case remote.Home:
		return "/api/v1/timelines/home", query, true
	case remote.Local:
		query.Set("local", "true")
		return "/api/v1/timelines/public", query, true
	case remote.Federated:
		return "/api/v1/timelines/public", query, true
	case remote.Hashtag:
		return "/api/v1/timelines/tag/" + url.PathEscape(t.Tag), query, true
	case remote.List:
		return "/api/v1/timelines/list/" + url.PathEscape(t.ListID), query, true
	case remote.UserPosts:
		return "/api/v1/accounts/" + url.PathEscape(t.UserID) + "/statuses", query, true
	case remote.Bookmarks:
		return "/api/v1/bookmarks", query, true
	case remote.Favourites:
		return "/api/v1/favourites", query, true
	case remote.Notifications, remote.Direct, remote.Trending, remote.Search:
		return "", nil, false
	default:
		panic(fmt.Sprintf("mastodon: unhandled timeline %T", t))
	}
}

func pageQuery(q url.Values, maxID, sinceID, minID string, limit int) {
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if minID != "" {
		q.Set("min_id", minID)
	}
	q.Set("limit", strconv.Itoa(limit))
}

// Timeline fetches one page of the requested timeline.
func (c *Client) Timeline(ctx context.Context, req remote.TimelineRequest) (*remote.TimelineResponse, error) {
	limit := req.EffectiveLimit()
	path, query, ok := timelinePath(req.Timeline)
	if !ok {
		c.log.Debug("timeline %s has no REST endpoint, returning an empty page", req.Timeline.DisplayName())
		return remote.NewTimelineResponse(nil, limit), nil
	}
	pageQuery(query, req.MaxID, req.SinceID, req.MinID, limit)

	var posts []remote.Post
	if err := c.getJSON(ctx, path, query, &posts); err != nil {
		return nil, err
	}
	return remote.NewTimelineResponse(preparePosts(posts), limit), nil
}
