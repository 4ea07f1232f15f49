// Package session tracks which account the core is logged in as and runs
// the authentication flows that change it.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/store"
)

var (
	// ErrNotAuthenticated is returned by operations that need a session
	// while the core is anonymous.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoPendingAuth is returned when a callback arrives without a started flow.
	ErrNoPendingAuth = errors.New("no pending authorization")
	// ErrInstanceMismatch is returned when the callback names another instance
	// than the pending flow. The pending flow is kept.
	ErrInstanceMismatch = errors.New("instance url does not match the pending authorization")
	// ErrAccountNotFound is returned for unknown stored account ids.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStorage wraps failures of the account store.
	ErrStorage = errors.New("storage error")
	// ErrClientSetup wraps failures to build a client from a stored token.
	ErrClientSetup = errors.New("failed to create client")
)

// AccountStore is the persistence the manager needs. *store.Store satisfies it.
type AccountStore interface {
	SaveAccount(ctx context.Context, a *store.Account) error
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	GetDefaultAccount(ctx context.Context) (*store.Account, error)
	ListAccounts(ctx context.Context) ([]*store.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	SetDefaultAccount(ctx context.Context, id string) error
}

// Snapshot is the observable session state.
type Snapshot struct {
	Authenticated bool
	// AccountID is empty when authenticated without a known account, which
	// happens when the profile could not be fetched after login.
	AccountID string
}

// active is one installed client. Leases keep it open; it is closed once
// it has been replaced and the last lease is released.
type active struct {
	client    remote.Client
	accountID string
	leases    sync.WaitGroup
}

// Lease grants use of the current client until Release.
type Lease struct {
	Client    remote.Client
	AccountID string
	once      sync.Once
	a         *active
}

// Release returns the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.a.leases.Done)
}

// Manager owns the current session and the pending authorization slot.
// The zero value is not usable; construct with New and share the pointer.
type Manager struct {
	store AccountStore
	auth  remote.Authenticator
	log   *logger.Logger

	// transition serializes the operations that change the session, so a
	// check of the current account stays valid until the change is made.
	transition sync.Mutex

	mu  sync.RWMutex
	cur *active

	pendingMu sync.RWMutex
	pending   *remote.PendingApp

	obsMu     sync.Mutex
	observers []func(Snapshot)
}

func New(accounts AccountStore, auth remote.Authenticator) *Manager {
	return &Manager{
		store: accounts,
		auth:  auth,
		log:   logger.Global().WithPrefix("session"),
	}
}

// OnChange registers fn to run after every session transition. Observers
// run synchronously, outside the session lock, in registration order.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.obsMu.Lock()
	m.observers = append(m.observers, fn)
	m.obsMu.Unlock()
}

func (m *Manager) notify(s Snapshot) {
	m.obsMu.Lock()
	obs := slices.Clone(m.observers)
	m.obsMu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// Current reports the session state.
func (m *Manager) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return Snapshot{}
	}
	return Snapshot{Authenticated: true, AccountID: m.cur.accountID}
}

// Acquire returns a lease on the current client, or false when anonymous.
// The client stays usable until the lease is released, even if the session
// changes in the meantime.
func (m *Manager) Acquire() (*Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return nil, false
	}
	m.cur.leases.Add(1)
	return &Lease{Client: m.cur.client, AccountID: m.cur.accountID, a: m.cur}, true
}

// Holds reports whether l was taken on the session that is installed now.
func (m *Manager) Holds(l *Lease) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur != nil && m.cur == l.a
}

// install replaces the session. A nil client makes it anonymous. The
// previous client is closed once its leases are released.
func (m *Manager) install(client remote.Client, accountID string) {
	var next *active
	if client != nil {
		next = &active{client: client, accountID: accountID}
	}

	m.mu.Lock()
	prev := m.cur
	m.cur = next
	m.mu.Unlock()

	if prev != nil {
		go func() {
			prev.leases.Wait()
			prev.client.Close()
		}()
	}
	m.notify(Snapshot{Authenticated: next != nil, AccountID: accountID})
}

// Close drops the session without notifying observers.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.cur
	m.cur = nil
	m.mu.Unlock()
	if prev != nil {
		prev.leases.Wait()
		prev.client.Close()
	}
}

// connect builds a client for a stored account and verifies the token.
func (m *Manager) connect(ctx context.Context, acc *store.Account) (remote.Client, *remote.Account, error) {
	client, err := m.auth.FromToken(acc.InstanceURL, acc.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrClientSetup, err)
	}
	user, err := client.VerifyCredentials(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, user, nil
}

// Restore logs in with the default account, or the most recently used one.
// Failures are logged and leave the session anonymous; the stored account
// is kept. It reports whether a session was established.
func (m *Manager) Restore(ctx context.Context) bool {
	m.transition.Lock()
	defer m.transition.Unlock()

	acc, err := m.store.GetDefaultAccount(ctx)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Info("no saved accounts, starting anonymous")
		return false
	}
	if err != nil {
		m.log.Warn("could not load saved account: %v", err)
		return false
	}

	client, user, err := m.connect(ctx, acc)
	if err != nil {
		m.log.Warn("could not restore session for %s: %v", acc.ID, err)
		return false
	}

	m.install(client, acc.ID)
	m.refreshProfile(ctx, acc, user)
	if err := m.store.SetDefaultAccount(ctx, acc.ID); err != nil {
		m.log.Warn("could not mark %s as default: %v", acc.ID, err)
	}
	m.log.Info("restored session for %s", acc.ID)
	return true
}

// refreshProfile stores profile changes made on the instance since the
// account was saved.
func (m *Manager) refreshProfile(ctx context.Context, acc *store.Account, user *remote.Account) {
	if user == nil {
		return
	}
	avatar := user.Avatar
	if acc.DisplayName == user.DisplayName && acc.Acct == user.Acct && acc.AvatarURL != nil && *acc.AvatarURL == avatar {
		return
	}
	updated := *acc
	updated.DisplayName = user.DisplayName
	updated.Acct = user.Acct
	updated.AvatarURL = &avatar
	if err := m.store.SaveAccount(ctx, &updated); err != nil {
		m.log.Warn("could not update profile of %s: %v", acc.ID, err)
	}
}

// Accounts lists the saved accounts. Store failures yield an empty list.
func (m *Manager) Accounts(ctx context.Context) []*store.Account {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		m.log.Error("failed to list accounts: %v", err)
		return []*store.Account{}
	}
	return accounts
}

// SwitchAccount makes id the active account. The stored token is verified
// before the session changes; on any failure the previous session stays.
func (m *Manager) SwitchAccount(ctx context.Context, id string) (*store.Account, *remote.Account, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	acc, err := m.loadAccount(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	client, user, err := m.connect(ctx, acc)
	if err != nil {
		return nil, nil, err
	}

	m.install(client, acc.ID)
	if err := m.store.SetDefaultAccount(ctx, acc.ID); err != nil {
		m.log.Warn("could not mark %s as default: %v", acc.ID, err)
	} else if updated, err := m.store.GetAccount(ctx, acc.ID); err == nil {
		acc = updated
	}
	m.log.Info("switched to account %s", acc.ID)
	return acc, user, nil
}

// SetDefault marks id as the account restored at startup without changing
// the current session.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	err := m.store.SetDefaultAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// DeleteAccount removes a saved account. Deleting the active account logs
// out first.
func (m *Manager) DeleteAccount(ctx context.Context, id string) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if m.Current().AccountID == id && id != "" {
		m.install(nil, "")
	}
	if err := m.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	m.log.Info("deleted account %s", id)
	return nil
}

// Logout ends the session. With deleteAccount the active account's saved
// record is removed as well; failing to do so is only logged.
func (m *Manager) Logout(ctx context.Context, deleteAccount bool) {
	m.transition.Lock()
	defer m.transition.Unlock()

	id := m.Current().AccountID
	m.install(nil, "")

	if deleteAccount && id != "" {
		if err := m.store.DeleteAccount(ctx, id); err != nil {
			m.log.Error("failed to delete account %s: %v", id, err)
		}
	}
	m.log.Info("logged out")
}

func (m *Manager) loadAccount(ctx context.Context, id string) (*store.Account, error) {
	acc, err := m.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return acc, nil
}
