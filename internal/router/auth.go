package router

import (
	"context"
	"errors"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/session"
	"github.com/blindodon/mastodon-core/internal/store"
)

type instanceParams struct {
	InstanceURL string `json:"instance_url"`
}

type callbackParams struct {
	InstanceURL string `json:"instance_url"`
	Code        string `json:"code"`
}

type logoutParams struct {
	DeleteAccount bool `json:"delete_account"`
}

type accountParams struct {
	AccountID string `json:"account_id"`
}

// accountSummary is the account as reported after a login.
type accountSummary struct {
	ID          string    `json:"id"`
	InstanceURL string    `json:"instance_url"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url"`
	IsDefault   bool      `json:"is_default"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

func summarize(a *store.Account) accountSummary {
	return accountSummary{
		ID:          a.ID,
		InstanceURL: a.InstanceURL,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		IsDefault:   a.IsDefault,
		LastUsedAt:  a.LastUsedAt,
	}
}

func (r *Router) handlePing(ctx context.Context, req *request) (any, *ipc.Error) {
	return map[string]any{
		"pong":      true,
		"timestamp": r.opts.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (r *Router) handleShutdown(ctx context.Context, req *request) (any, *ipc.Error) {
	r.log.Info("shutdown requested")
	if r.opts.Shutdown != nil {
		// The callback cancels the server, which flushes this response
		// before closing connections.
		go r.opts.Shutdown()
	}
	return map[string]string{"status": "shutting_down"}, nil
}

func (r *Router) handleAuthStart(ctx context.Context, req *request) (any, *ipc.Error) {
	var p instanceParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("instance_url", p.InstanceURL); e != nil {
		return nil, e
	}

	start, err := r.sessions.StartAuth(ctx, p.InstanceURL)
	if err != nil {
		r.log.Error("auth start failed for %s: %v", p.InstanceURL, err)
		e := remoteError("start authorization", err)
		e.Message = "Auth failed: " + err.Error()
		return nil, e
	}
	return start, nil
}

func (r *Router) handleAuthCallback(ctx context.Context, req *request) (any, *ipc.Error) {
	var p callbackParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("code", p.Code); e != nil {
		return nil, e
	}
	if e := requireParam("instance_url", p.InstanceURL); e != nil {
		return nil, e
	}

	res, err := r.sessions.CompleteAuth(ctx, p.InstanceURL, p.Code)
	if err != nil {
		r.log.Error("auth callback failed for %s: %v", p.InstanceURL, err)
		e := remoteError("complete authorization", err)
		e.Message = "Auth failed: " + err.Error()
		return nil, e
	}
	if res.Account == nil {
		return map[string]any{
			"success":             true,
			"error_fetching_user": res.UserErr.Error(),
		}, nil
	}
	return map[string]any{
		"success": true,
		"account": summarize(res.Account),
	}, nil
}

func (r *Router) handleAuthLogout(ctx context.Context, req *request) (any, *ipc.Error) {
	var p logoutParams
	if e := req.bindOptional(&p); e != nil {
		return nil, e
	}
	r.sessions.Logout(ctx, p.DeleteAccount)
	return map[string]bool{"success": true}, nil
}

func (r *Router) handleAuthGetAccounts(ctx context.Context, req *request) (any, *ipc.Error) {
	cur := r.sessions.Current()
	var current *string
	if cur.AccountID != "" {
		current = &cur.AccountID
	}
	return map[string]any{
		"authenticated":      cur.Authenticated,
		"current_account_id": current,
		"accounts":           r.sessions.Accounts(ctx),
	}, nil
}

func (r *Router) handleAuthSwitchAccount(ctx context.Context, req *request) (any, *ipc.Error) {
	var p accountParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("account_id", p.AccountID); e != nil {
		return nil, e
	}

	acc, user, err := r.sessions.SwitchAccount(ctx, p.AccountID)
	switch {
	case err == nil:
		return map[string]any{"success": true, "account": acc, "user": user}, nil
	case errors.Is(err, session.ErrAccountNotFound):
		return nil, ipc.Errorf(ipc.CodeNotAuthenticated, "Account not found")
	case errors.Is(err, session.ErrStorage):
		return nil, storageError("load account", err)
	case errors.Is(err, session.ErrClientSetup):
		return nil, ipc.Internal("%v", err)
	case errors.Is(err, remote.ErrNetwork):
		return nil, r.fail("switch account", "", err)
	default:
		r.log.Warn("switch to %s rejected: %v", p.AccountID, err)
		return nil, ipc.Errorf(ipc.CodeAPIError, "Token expired, please re-authenticate: %v", err)
	}
}

func (r *Router) handleAuthDeleteAccount(ctx context.Context, req *request) (any, *ipc.Error) {
	var p accountParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("account_id", p.AccountID); e != nil {
		return nil, e
	}
	if err := r.sessions.DeleteAccount(ctx, p.AccountID); err != nil {
		r.log.Error("failed to delete account %s: %v", p.AccountID, err)
		return nil, ipc.Internal("Failed to delete account: %v", err)
	}
	return map[string]bool{"success": true}, nil
}

func (r *Router) handleAuthSetDefault(ctx context.Context, req *request) (any, *ipc.Error) {
	var p accountParams
	if e := req.bind(&p); e != nil {
		return nil, e
	}
	if e := requireParam("account_id", p.AccountID); e != nil {
		return nil, e
	}
	err := r.sessions.SetDefault(ctx, p.AccountID)
	if errors.Is(err, session.ErrAccountNotFound) {
		return nil, ipc.InvalidParams("Account not found: %s", p.AccountID)
	}
	if err != nil {
		return nil, storageError("set default account", err)
	}
	return map[string]bool{"success": true}, nil
}
