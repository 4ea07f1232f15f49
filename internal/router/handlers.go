package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/session"
)

type settingParams struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

type streamParams struct {
	TimelineType json.RawMessage `json:"timeline_type"`
}

type postParams struct {
	PostID string `json:"post_id"`
}

type notificationParams struct {
	NotificationID string `json:"notification_id"`
}

func (r *Router) handleSettingsGet(ctx context.Context, req *request) (any, *ipc.Error) {
	var p settingParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("key", p.Key); e != nil {
		return nil, e
	}

	value, ok, err := r.store.GetSetting(ctx, p.Key)
	if err != nil {
		return nil, storageError("read setting", err)
	}
	var v *string
	if ok {
		v = &value
	}
	return map[string]any{"key": p.Key, "value": v}, nil
}

func (r *Router) handleSettingsSet(ctx context.Context, req *request) (any, *ipc.Error) {
	var p settingParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("key", p.Key); e != nil {
		return nil, e
	}
	if p.Value == nil {
		return nil, ipc.InvalidParams("Missing value")
	}
	if err := r.store.SetSetting(ctx, p.Key, *p.Value); err != nil {
		return nil, storageError("write setting", err)
	}
	return map[string]bool{"success": true}, nil
}

func (r *Router) handleSettingsDelete(ctx context.Context, req *request) (any, *ipc.Error) {
	var p settingParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("key", p.Key); e != nil {
		return nil, e
	}
	removed, err := r.store.DeleteSetting(ctx, p.Key)
	if err != nil {
		return nil, storageError("delete setting", err)
	}
	return map[string]any{"key": p.Key, "removed": removed}, nil
}

func (r *Router) handleSettingsGetAll(ctx context.Context, req *request) (any, *ipc.Error) {
	settings, err := r.store.AllSettings(ctx)
	if err != nil {
		return nil, storageError("read settings", err)
	}
	return map[string]any{"settings": settings}, nil
}

func (r *Router) handleTimelineGet(ctx context.Context, req *request) (any, *ipc.Error) {
	var p remote.TimelineRequest
	if e := req.bind(&p); e != nil {
		return nil, e
	}

	r.log.Debug("fetching timeline %s", p.Timeline.DisplayName())
	resp, err := req.client.Timeline(ctx, p)
	if err != nil {
		return nil, r.fail("fetch timeline", p.Timeline.DisplayName(), err)
	}

	if req.accountID != "" {
		if err := r.store.CachePosts(ctx, req.accountID, resp.Posts); err != nil {
			r.log.Warn("failed to cache %d posts: %v", len(resp.Posts), err)
		}
	}
	return resp, nil
}

func (r *Router) streamTimeline(req *request) (remote.Timeline, *ipc.Error) {
	if r.opts.Streams == nil {
		return nil, ipc.Internal("Streaming is not available")
	}
	var p streamParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	t, err := remote.UnmarshalTimeline(p.TimelineType)
	if err != nil {
		return nil, ipc.InvalidParams("Invalid params: %v", err)
	}
	return t, nil
}

func (r *Router) handleStreamStart(ctx context.Context, req *request) (any, *ipc.Error) {
	t, e := r.streamTimeline(req)
	if e != nil {
		return nil, e
	}

	label, err := r.opts.Streams.Start(t)
	switch {
	case err == nil:
		return map[string]any{"success": true, "timeline": label}, nil
	case errors.Is(err, errors.ErrUnsupported):
		return nil, ipc.InvalidParams("Streaming is not supported for %s", t.DisplayName())
	case errors.Is(err, session.ErrNotAuthenticated):
		return nil, ipc.NotAuthenticated()
	default:
		return nil, r.fail("start stream", t.DisplayName(), err)
	}
}

func (r *Router) handleStreamStop(ctx context.Context, req *request) (any, *ipc.Error) {
	t, e := r.streamTimeline(req)
	if e != nil {
		return nil, e
	}
	stopped := r.opts.Streams.Stop(t)
	return map[string]any{"success": stopped, "timeline": t.DisplayName()}, nil
}

func (r *Router) handlePostCreate(ctx context.Context, req *request) (any, *ipc.Error) {
	var p remote.NewPost
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if p.Content == "" && len(p.MediaIDs) == 0 && p.Poll == nil {
		return nil, ipc.InvalidParams("Missing content")
	}
	if p.Visibility != "" && !p.Visibility.Valid() {
		return nil, ipc.InvalidParams("Invalid visibility: %s", p.Visibility)
	}
	if p.Poll != nil && len(p.Poll.Options) < 2 {
		return nil, ipc.InvalidParams("Poll needs at least two options")
	}

	post, err := req.client.CreatePost(ctx, p)
	if err != nil {
		return nil, r.fail("create post", "", err)
	}
	return post, nil
}

// postAction builds the handler of a single-post toggle.
func (r *Router) postAction(action string, call func(remote.Client, context.Context, string) (*remote.Post, error)) handlerFunc {
	return func(ctx context.Context, req *request) (any, *ipc.Error) {
		var p postParams
		if e := req.bind(&p); e != nil {
			return nil, e
		}
		if e := requireParam("post_id", p.PostID); e != nil {
			return nil, e
		}
		post, err := call(req.client, ctx, p.PostID)
		if err != nil {
			return nil, r.fail(action+" post", "", err)
		}
		return post, nil
	}
}

func (r *Router) handleNotificationsGet(ctx context.Context, req *request) (any, *ipc.Error) {
	var p remote.NotificationRequest
	if e := req.bindOptional(&p); e != nil {
		return nil, e
	}
	if p.Limit < 0 {
		return nil, ipc.InvalidParams("limit must be positive")
	}

	resp, err := req.client.Notifications(ctx, p)
	if err != nil {
		return nil, r.fail("fetch notifications", remote.Notifications{}.DisplayName(), err)
	}
	return resp, nil
}

func (r *Router) handleNotificationsClear(ctx context.Context, req *request) (any, *ipc.Error) {
	if err := req.client.ClearNotifications(ctx); err != nil {
		return nil, r.fail("clear notifications", "", err)
	}
	r.log.Info("all notifications cleared")
	return map[string]bool{"success": true}, nil
}

func (r *Router) handleNotificationsDismiss(ctx context.Context, req *request) (any, *ipc.Error) {
	var p notificationParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("notification_id", p.NotificationID); e != nil {
		return nil, e
	}
	if err := req.client.DismissNotification(ctx, p.NotificationID); err != nil {
		return nil, r.fail("dismiss notification", "", err)
	}
	return map[string]bool{"success": true}, nil
}

func (r *Router) handleMediaUpload(ctx context.Context, req *request) (any, *ipc.Error) {
	var p remote.MediaUploadRequest
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("file_path", p.FilePath); e != nil {
		return nil, e
	}
	if f := p.Focus; f != nil && (f.X < -1 || f.X > 1 || f.Y < -1 || f.Y > 1) {
		return nil, ipc.InvalidParams("focus must be within -1.0 and 1.0")
	}

	r.log.Debug("uploading media from %s", p.FilePath)
	media, err := req.client.UploadMedia(ctx, p)
	if err != nil {
		return nil, r.fail("upload media", "", err)
	}
	r.log.Info("media uploaded: %s", media.ID)
	return media, nil
}

func (r *Router) handleInstanceGet(ctx context.Context, req *request) (any, *ipc.Error) {
	info, err := req.client.Instance(ctx)
	if err != nil {
		return nil, r.fail("get instance info", "", err)
	}
	return info, nil
}
