package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Account is a saved login. The token fields never leave the process
// through JSON.
type Account struct {
	ID             string     `json:"id"`
	InstanceURL    string     `json:"instance_url"`
	Username       string     `json:"username"`
	Acct           string     `json:"acct"`
	DisplayName    string     `json:"display_name"`
	AvatarURL      *string    `json:"avatar_url"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	AddedAt        time.Time  `json:"added_at"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	IsDefault      bool       `json:"is_default"`
}

// profile is the non-secret part kept in the data column.
type profile struct {
	Acct           string     `json:"acct"`
	DisplayName    string     `json:"display_name"`
	AvatarURL      *string    `json:"avatar_url,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

const accountColumns = `id, instance_url, username, access_token, refresh_token, data, created_at, last_used_at, is_default`

// SaveAccount inserts a, or replaces the stored row with the same id.
// Zero AddedAt and LastUsedAt are filled with the current time.
func (s *Store) SaveAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		return errors.New("account id is required")
	}

	now := s.now()
	if a.AddedAt.IsZero() {
		a.AddedAt = now
	}
	if a.LastUsedAt.IsZero() {
		a.LastUsedAt = now
	}

	data, err := json.Marshal(profile{
		Acct:           a.Acct,
		DisplayName:    a.DisplayName,
		AvatarURL:      a.AvatarURL,
		TokenExpiresAt: a.TokenExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode account profile: %w", err)
	}

	access, err := s.sealer.Seal(a.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	refresh, err := s.sealer.Seal(a.RefreshToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instance_url = excluded.instance_url,
			username = excluded.username,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			data = excluded.data,
			last_used_at = excluded.last_used_at,
			is_default = excluded.is_default`,
		a.ID, a.InstanceURL, a.Username, access, nullString(refresh), string(data),
		formatTime(a.AddedAt), formatTime(a.LastUsedAt), a.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}

	if a.IsDefault {
		// Keep the single-default rule even when the caller saved a second default.
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_default = 0 WHERE id <> ?`, a.ID); err != nil {
			return fmt.Errorf("clear other defaults: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}

	s.log.Info("saved account %s", a.ID)
	return nil
}

// GetAccount returns the account with id, or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return s.scanAccount(row)
}

// GetDefaultAccount returns the account flagged default or, when none is,
// the most recently used one. ErrNotFound means no accounts are saved.
func (s *Store) GetDefaultAccount(ctx context.Context) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		ORDER BY is_default DESC, last_used_at DESC
		LIMIT 1`)
	return s.scanAccount(row)
}

// ListAccounts returns every saved account, most recently used first.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes the account and its cached posts. Deleting an
// unknown id is not an error.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete cached posts of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info("deleted account %s", id)
	return nil
}

// SetDefaultAccount flags id as the only default and marks it used now.
// An unknown id returns ErrNotFound and leaves the flags untouched.
func (s *Store) SetDefaultAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_default = 0`); err != nil {
		return fmt.Errorf("clear defaults: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_default = 1, last_used_at = ? WHERE id = ?`, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set default %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Debug("default account is now %s", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row scanner) (*Account, error) {
	var (
		a                     Account
		access, data          string
		refresh               sql.NullString
		createdAt, lastUsedAt string
		isDefault             bool
	)
	err := row.Scan(&a.ID, &a.InstanceURL, &a.Username, &access, &refresh, &data, &createdAt, &lastUsedAt, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}

	var p profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", a.ID, err)
	}
	a.Acct, a.DisplayName, a.AvatarURL, a.TokenExpiresAt = p.Acct, p.DisplayName, p.AvatarURL, p.TokenExpiresAt
	a.AddedAt, a.LastUsedAt, a.IsDefault = parseTime(createdAt), parseTime(lastUsedAt), isDefault

	if a.AccessToken, err = s.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("%w: account %s: %w", ErrEncryption, a.ID, err)
	}
	if refresh.Valid {
		if a.RefreshToken, err = s.sealer.Open(refresh.String); err != nil {
			return nil, fmt.Errorf("%w: account %s: %w", ErrEncryption, a.ID, err)
		}
	}
	return &a, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
