package session

import (
	"context"
	"fmt"

	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/store"
)

// AuthResult is the outcome of a completed authorization. When the profile
// could not be fetched the session is established anyway, Account is nil
// and UserErr says why.
type AuthResult struct {
	Account *store.Account
	UserErr error
}

// StartAuth registers the application with instanceURL and returns the
// authorization URL. The flow replaces any pending one; only one flow can be
// pending per process.
func (m *Manager) StartAuth(ctx context.Context, instanceURL string) (*remote.AuthStart, error) {
	app, start, err := m.auth.RegisterApp(ctx, instanceURL)
	if err != nil {
		return nil, err
	}

	m.pendingMu.Lock()
	if m.pending != nil && m.pending.InstanceURL != app.InstanceURL {
		m.log.Info("replacing pending authorization for %s", m.pending.InstanceURL)
	}
	m.pending = app
	m.pendingMu.Unlock()

	m.log.Info("authorization started for %s", app.InstanceURL)
	return start, nil
}

// Pending returns the instance of the pending authorization, if any.
func (m *Manager) Pending() (string, bool) {
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()
	if m.pending == nil {
		return "", false
	}
	return m.pending.InstanceURL, true
}

// CompleteAuth exchanges code for a token on instanceURL and logs in. It
// fails without touching the session or the pending flow when no flow is
// pending for instanceURL or the exchange fails. Saving the account is best
// effort: the login holds for this run even if persisting it fails.
func (m *Manager) CompleteAuth(ctx context.Context, instanceURL, code string) (*AuthResult, error) {
	instanceURL = remote.NormalizeURL(instanceURL)

	m.pendingMu.RLock()
	app := m.pending
	m.pendingMu.RUnlock()
	if app == nil {
		return nil, ErrNoPendingAuth
	}
	if app.InstanceURL != instanceURL {
		return nil, fmt.Errorf("%w: pending %s, got %s", ErrInstanceMismatch, app.InstanceURL, instanceURL)
	}

	m.transition.Lock()
	defer m.transition.Unlock()

	client, err := m.auth.Exchange(ctx, app, code)
	if err != nil {
		return nil, err
	}

	// Consume the slot unless a newer flow replaced it meanwhile.
	m.pendingMu.Lock()
	if m.pending == app {
		m.pending = nil
	}
	m.pendingMu.Unlock()

	user, err := client.VerifyCredentials(ctx)
	if err != nil {
		m.log.Warn("authorized on %s but could not fetch the profile: %v", instanceURL, err)
		m.install(client, "")
		return &AuthResult{UserErr: err}, nil
	}

	avatar := user.Avatar
	acc := &store.Account{
		ID:          remote.AccountID(user.Username, client.InstanceURL()),
		InstanceURL: client.InstanceURL(),
		Username:    user.Username,
		Acct:        user.Acct,
		DisplayName: user.DisplayName,
		AvatarURL:   &avatar,
		AccessToken: client.AccessToken(),
		IsDefault:   true,
	}
	if err := m.store.SaveAccount(ctx, acc); err != nil {
		m.log.Error("failed to save account %s: %v", acc.ID, err)
	}
	if err := m.store.SetDefaultAccount(ctx, acc.ID); err != nil {
		m.log.Error("failed to set default account %s: %v", acc.ID, err)
	}

	m.install(client, acc.ID)
	m.log.Info("logged in as %s", acc.ID)
	return &AuthResult{Account: acc}, nil
}
