// Package remotetest provides in-memory remote.Client and
// remote.Authenticator implementations for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// ErrNotImplemented is returned by methods without a configured result.
var ErrNotImplemented = errors.New("remotetest: not configured")

// Authenticator hands out Clients. Users maps access tokens to the account
// VerifyCredentials returns; tokens without a user fail with
// remote.ErrUnauthorized.
type Authenticator struct {
	mu          sync.Mutex
	Users       map[string]*remote.Account
	RegisterErr error
	ExchangeErr error
	// Setup configures each client before it is returned.
	Setup func(*Client)

	registered int
	clients    []*Client
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{Users: map[string]*remote.Account{}}
}

// AddUser makes token valid for a user called username.
func (a *Authenticator) AddUser(token, username string) *remote.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := &remote.Account{ID: "id-" + username, Username: username, Acct: username, DisplayName: username, Avatar: "https://img/" + username + ".png"}
	a.Users[token] = u
	return u
}

// RemoveUser revokes token.
func (a *Authenticator) RemoveUser(token string) {
	a.mu.Lock()
	delete(a.Users, token)
	a.mu.Unlock()
}

// Clients returns every client created so far.
func (a *Authenticator) Clients() []*Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Client(nil), a.clients...)
}

func (a *Authenticator) RegisterApp(ctx context.Context, instanceURL string) (*remote.PendingApp, *remote.AuthStart, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RegisterErr != nil {
		return nil, nil, a.RegisterErr
	}
	a.registered++
	instanceURL = remote.NormalizeURL(instanceURL)
	app := &remote.PendingApp{
		ClientID:     fmt.Sprintf("client-%d", a.registered),
		ClientSecret: fmt.Sprintf("secret-%d", a.registered),
		InstanceURL:  instanceURL,
	}
	state := fmt.Sprintf("state-%d", a.registered)
	q := url.Values{"client_id": {app.ClientID}, "response_type": {"code"}, "state": {state}}
	return app, &remote.AuthStart{AuthURL: instanceURL + "/oauth/authorize?" + q.Encode(), State: state}, nil
}

// Exchange issues the token "token-<code>".
func (a *Authenticator) Exchange(ctx context.Context, app *remote.PendingApp, code string) (remote.Client, error) {
	a.mu.Lock()
	err := a.ExchangeErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return a.newClient(app.InstanceURL, "token-"+code), nil
}

func (a *Authenticator) FromToken(instanceURL, accessToken string) (remote.Client, error) {
	if instanceURL == "" || accessToken == "" {
		return nil, errors.New("remotetest: empty instance or token")
	}
	return a.newClient(instanceURL, accessToken), nil
}

func (a *Authenticator) newClient(instanceURL, token string) *Client {
	c := &Client{auth: a, url: remote.NormalizeURL(instanceURL), token: token}
	a.mu.Lock()
	a.clients = append(a.clients, c)
	setup := a.Setup
	a.mu.Unlock()
	if setup != nil {
		setup(c)
	}
	return c
}

func (a *Authenticator) user(token string) (*remote.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.Users[token]
	if !ok {
		return nil, &remote.APIError{Status: 401, Message: "The access token is invalid"}
	}
	cp := *u
	return &cp, nil
}

// Client records calls and answers from its configurable fields.
type Client struct {
	auth  *Authenticator
	url   string
	token string

	mu     sync.Mutex
	calls  []string
	closed bool

	// Posts is returned by Timeline, truncated to the requested limit.
	Posts []remote.Post
	// Notes is returned by Notifications.
	Notes []remote.Notification
	// Errs fails the named method, e.g. Errs["Timeline"].
	Errs map[string]error
	// Hook runs at the start of every call, outside the client's lock.
	// Tests use it to hold a call in flight.
	Hook func(method string)
	// StreamFunc answers Stream.
	StreamFunc func(ctx context.Context, t remote.Timeline) (<-chan remote.StreamMessage, <-chan error, error)
}

var _ remote.Client = (*Client)(nil)

func (c *Client) record(name string) error {
	if c.Hook != nil {
		c.Hook(name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.closed {
		return errors.New("remotetest: client closed")
	}
	return c.Errs[name]
}

// Calls lists the invoked method names in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) InstanceURL() string { return c.url }
func (c *Client) AccessToken() string { return c.token }

func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) VerifyCredentials(ctx context.Context) (*remote.Account, error) {
	if err := c.record("VerifyCredentials"); err != nil {
		return nil, err
	}
	return c.auth.user(c.token)
}

func (c *Client) Timeline(ctx context.Context, req remote.TimelineRequest) (*remote.TimelineResponse, error) {
	if err := c.record("Timeline"); err != nil {
		return nil, err
	}
	limit := req.EffectiveLimit()
	posts := append([]remote.Post(nil), c.Posts...)
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return remote.NewTimelineResponse(posts, limit), nil
}

func (c *Client) CreatePost(ctx context.Context, p remote.NewPost) (*remote.Post, error) {
	if err := c.record("CreatePost"); err != nil {
		return nil, err
	}
	plain := p.Content
	return &remote.Post{ID: "new", Content: p.Content, PlainContent: &plain, Visibility: p.Visibility}, nil
}

func (c *Client) postAction(name, id string, set func(*remote.Post)) (*remote.Post, error) {
	if err := c.record(name); err != nil {
		return nil, err
	}
	p := &remote.Post{ID: id}
	set(p)
	return p, nil
}

func (c *Client) Boost(ctx context.Context, id string) (*remote.Post, error) {
	return c.postAction("Boost", id, func(p *remote.Post) { t := true; p.Reblogged = &t })
}

func (c *Client) Unboost(ctx context.Context, id string) (*remote.Post, error) {
	return c.postAction("Unboost", id, func(p *remote.Post) { f := false; p.Reblogged = &f })
}

func (c *Client) Favourite(ctx context.Context, id string) (*remote.Post, error) {
	return c.postAction("Favourite", id, func(p *remote.Post) { t := true; p.Favourited = &t })
}

func (c *Client) Unfavourite(ctx context.Context, id string) (*remote.Post, error) {
	return c.postAction("Unfavourite", id, func(p *remote.Post) { f := false; p.Favourited = &f })
}

func (c *Client) Notifications(ctx context.Context, req remote.NotificationRequest) (*remote.NotificationResponse, error) {
	if err := c.record("Notifications"); err != nil {
		return nil, err
	}
	return remote.NewNotificationResponse(append([]remote.Notification(nil), c.Notes...), req.EffectiveLimit()), nil
}

func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.record("ClearNotifications")
}

func (c *Client) DismissNotification(ctx context.Context, id string) error {
	return c.record("DismissNotification")
}

func (c *Client) UploadMedia(ctx context.Context, req remote.MediaUploadRequest) (*remote.MediaAttachment, error) {
	if err := c.record("UploadMedia"); err != nil {
		return nil, err
	}
	return &remote.MediaAttachment{ID: "media-1", Type: remote.MediaImage, URL: "https://img/" + req.FilePath, Description: req.Description}, nil
}

func (c *Client) Instance(ctx context.Context) (*remote.InstanceInfo, error) {
	if err := c.record("Instance"); err != nil {
		return nil, err
	}
	return &remote.InstanceInfo{URL: c.url, Title: "Test Instance", Version: "4.3.0", Languages: []string{"en"}}, nil
}

func (c *Client) Stream(ctx context.Context, t remote.Timeline) (<-chan remote.StreamMessage, <-chan error, error) {
	if err := c.record("Stream"); err != nil {
		return nil, nil, err
	}
	if c.StreamFunc == nil {
		return nil, nil, ErrNotImplemented
	}
	return c.StreamFunc(ctx, t)
}
