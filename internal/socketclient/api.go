package socketclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/store"
)

// Accounts is the result of auth.get_accounts.
type Accounts struct {
	Authenticated    bool             `json:"authenticated"`
	CurrentAccountID *string          `json:"current_account_id"`
	Accounts         []*store.Account `json:"accounts"`
}

// Ping checks the core is answering and returns its clock.
func (c *Client) Ping(ctx context.Context) (time.Time, error) {
	var out struct {
		Pong      bool      `json:"pong"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.CallResult(ctx, ipc.MethodPing, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Timestamp, nil
}

// Shutdown asks the core to exit. The core answers before it stops.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.CallResult(ctx, ipc.MethodShutdown, nil, nil)
}

// Accounts lists the saved accounts and the current session.
func (c *Client) Accounts(ctx context.Context) (*Accounts, error) {
	var out Accounts
	if err := c.CallResult(ctx, ipc.MethodAuthGetAccounts, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SwitchAccount makes the saved account id current.
func (c *Client) SwitchAccount(ctx context.Context, id string) error {
	return c.CallResult(ctx, ipc.MethodAuthSwitchAccount, map[string]string{"account_id": id}, nil)
}

// Timeline fetches one page of a timeline.
func (c *Client) Timeline(ctx context.Context, req remote.TimelineRequest) (*remote.TimelineResponse, error) {
	var out remote.TimelineResponse
	if err := c.CallResult(ctx, ipc.MethodTimelineGet, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartStream subscribes to live updates of t. Updates arrive on Events.
func (c *Client) StartStream(ctx context.Context, t remote.Timeline) (string, error) {
	return c.stream(ctx, ipc.MethodTimelineStreamStart, t)
}

// StopStream ends the subscription to t.
func (c *Client) StopStream(ctx context.Context, t remote.Timeline) (string, error) {
	return c.stream(ctx, ipc.MethodTimelineStreamStop, t)
}

func (c *Client) stream(ctx context.Context, method string, t remote.Timeline) (string, error) {
	raw, err := remote.MarshalTimeline(t)
	if err != nil {
		return "", err
	}
	var out struct {
		Timeline string `json:"timeline"`
	}
	params := map[string]json.RawMessage{"timeline_type": raw}
	if err := c.CallResult(ctx, method, params, &out); err != nil {
		return "", err
	}
	return out.Timeline, nil
}
