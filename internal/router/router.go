// Package router dispatches IPC requests to the session manager, the
// account store and the remote client of the current session.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/session"
	"github.com/blindodon/mastodon-core/internal/store"
)

// Store is the local persistence the router reads and writes directly.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) (bool, error)
	AllSettings(ctx context.Context) (map[string]string, error)
	CachePosts(ctx context.Context, accountID string, posts []remote.Post) error
}

// Streams runs live timeline subscriptions. Labels identify a subscription
// in events and are derived from the timeline.
type Streams interface {
	Start(t remote.Timeline) (string, error)
	Stop(t remote.Timeline) bool
}

// Publisher delivers events to every connected UI.
type Publisher interface {
	Broadcast(msg *ipc.Message)
}

// Options holds the optional collaborators of a Router.
type Options struct {
	Streams Streams
	Events  Publisher
	// Shutdown is called once after a shutdown request has been answered.
	Shutdown func()
	// Now is the clock used for ping timestamps.
	Now func() time.Time
}

type handlerFunc func(ctx context.Context, req *request) (any, *ipc.Error)

type route struct {
	handler      handlerFunc
	requiresAuth bool
}

// request is one call in flight. client and accountID are set for methods
// that require a session.
type request struct {
	msg       *ipc.Message
	client    remote.Client
	accountID string
}

// Router maps method names to handlers. The table is fixed at construction.
type Router struct {
	sessions *session.Manager
	store    Store
	opts     Options
	routes   map[string]route
	log      *logger.Logger
}

func New(sessions *session.Manager, st Store, opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Router{
		sessions: sessions,
		store:    st,
		opts:     opts,
		log:      logger.Global().WithPrefix("router"),
	}
	r.routes = r.table()
	return r
}

func (r *Router) table() map[string]route {
	open := func(h handlerFunc) route { return route{handler: h} }
	authed := func(h handlerFunc) route { return route{handler: h, requiresAuth: true} }

	return map[string]route{
		ipc.MethodPing:     open(r.handlePing),
		ipc.MethodShutdown: open(r.handleShutdown),

		ipc.MethodAuthStart:         open(r.handleAuthStart),
		ipc.MethodAuthCallback:      open(r.handleAuthCallback),
		ipc.MethodAuthLogout:        open(r.handleAuthLogout),
		ipc.MethodAuthGetAccounts:   open(r.handleAuthGetAccounts),
		ipc.MethodAuthSwitchAccount: open(r.handleAuthSwitchAccount),
		ipc.MethodAuthDeleteAccount: open(r.handleAuthDeleteAccount),
		ipc.MethodAuthSetDefault:    open(r.handleAuthSetDefault),

		ipc.MethodSettingsGet:    open(r.handleSettingsGet),
		ipc.MethodSettingsSet:    open(r.handleSettingsSet),
		ipc.MethodSettingsGetAll: open(r.handleSettingsGetAll),
		ipc.MethodSettingsDelete: open(r.handleSettingsDelete),

		ipc.MethodTimelineGet:         authed(r.handleTimelineGet),
		ipc.MethodTimelineStreamStart: authed(r.handleStreamStart),
		ipc.MethodTimelineStreamStop:  authed(r.handleStreamStop),

		ipc.MethodPostCreate:      authed(r.handlePostCreate),
		ipc.MethodPostBoost:       authed(r.postAction("boost", remote.Client.Boost)),
		ipc.MethodPostUnboost:     authed(r.postAction("unboost", remote.Client.Unboost)),
		ipc.MethodPostFavourite:   authed(r.postAction("favourite", remote.Client.Favourite)),
		ipc.MethodPostUnfavourite: authed(r.postAction("unfavourite", remote.Client.Unfavourite)),

		ipc.MethodNotificationsGet:     authed(r.handleNotificationsGet),
		ipc.MethodNotificationsClear:   authed(r.handleNotificationsClear),
		ipc.MethodNotificationsDismiss: authed(r.handleNotificationsDismiss),

		ipc.MethodMediaUpload: authed(r.handleMediaUpload),
		ipc.MethodInstanceGet: authed(r.handleInstanceGet),
	}
}

// Handle answers one request. The response always carries the request's id
// and exactly one of result or error.
func (r *Router) Handle(ctx context.Context, msg *ipc.Message) (resp *ipc.Message) {
	method := msg.MethodName()
	logger.IPCRequest(method, msg.ID)
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic handling %s: %v\n%s", method, p, debug.Stack())
			resp = ipc.NewErrorResponse(msg.ID, ipc.Internal("Internal error while handling %s", method))
		}
		logger.IPCResponse(method, msg.ID, resp.Error == nil)
	}()

	rt, ok := r.routes[method]
	if !ok {
		r.log.Warn("unknown method: %s", method)
		return ipc.NewErrorResponse(msg.ID, ipc.MethodNotFound(method))
	}

	req := &request{msg: msg}
	if rt.requiresAuth {
		lease, ok := r.sessions.Acquire()
		if !ok {
			return ipc.NewErrorResponse(msg.ID, ipc.NotAuthenticated())
		}
		defer lease.Release()
		req.client = lease.Client
		req.accountID = lease.AccountID
	}

	result, e := rt.handler(ctx, req)
	if e != nil {
		return ipc.NewErrorResponse(msg.ID, e)
	}
	out, err := ipc.NewResult(msg.ID, result)
	if err != nil {
		r.log.Error("failed to encode result of %s: %v", method, err)
		return ipc.NewErrorResponse(msg.ID, ipc.Internal("Failed to encode result: %v", err))
	}
	return out
}

// Methods lists the registered method names.
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

// bind decodes required params into v.
func (q *request) bind(v any) *ipc.Error {
	if !q.msg.HasParams() {
		return ipc.InvalidParams("Missing params")
	}
	if err := json.Unmarshal(q.msg.Params, v); err != nil {
		return ipc.InvalidParams("Invalid params: %v", err)
	}
	return nil
}

// bindOptional decodes params into v when present.
func (q *request) bindOptional(v any) *ipc.Error {
	if !q.msg.HasParams() {
		return nil
	}
	return q.bind(v)
}

func requireParam(name, value string) *ipc.Error {
	if value == "" {
		return ipc.InvalidParams("Missing %s", name)
	}
	return nil
}

// remoteError classifies a failed remote call. The message keeps the
// underlying cause for diagnostics.
func remoteError(action string, err error) *ipc.Error {
	msg := fmt.Sprintf("Failed to %s: %v", action, err)
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		return &ipc.Error{Code: ipc.CodeNotAuthenticated, Message: msg}
	case errors.Is(err, remote.ErrRateLimited):
		return &ipc.Error{Code: ipc.CodeRateLimited, Message: msg}
	case errors.Is(err, remote.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return &ipc.Error{Code: ipc.CodeNetworkError, Message: msg}
	default:
		return &ipc.Error{Code: ipc.CodeAPIError, Message: msg}
	}
}

// storageError classifies a failed store call.
func storageError(action string, err error) *ipc.Error {
	if errors.Is(err, store.ErrEncryption) {
		return ipc.Errorf(ipc.CodeEncryptionError, "Failed to %s: %v", action, err)
	}
	return ipc.Internal("Database error: %v", err)
}

// fail logs a failed remote call and warns the UI when it was throttled.
func (r *Router) fail(action, timeline string, err error) *ipc.Error {
	r.log.Error("failed to %s: %v", action, err)
	e := remoteError(action, err)
	if e.Code == ipc.CodeRateLimited {
		r.publish(ipc.EventRateLimitWarning, map[string]any{
			"timeline": timelineLabel(timeline),
			"message":  e.Message,
		})
	}
	return e
}

func (r *Router) publish(name string, params any) {
	if r.opts.Events == nil {
		return
	}
	ev, err := ipc.NewEvent(name, params)
	if err != nil {
		r.log.Error("failed to build %s: %v", name, err)
		return
	}
	r.opts.Events.Broadcast(ev)
}

func timelineLabel(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
