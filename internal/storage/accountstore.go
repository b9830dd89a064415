package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// AccountStore persists user accounts and their blocking state in SQLite.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAccountStore creates an AccountStore over an initialized database.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

const userColumns = `username, role, is_blocked, blocked_reason, blocked_at, last_blocking_update, created_at`

func scanUser(row rowScanner) (*models.UserAccount, error) {
	var u models.UserAccount
	var blocked int
	var blockedAt, lastUpdate sql.NullString
	var createdAt string
	if err := row.Scan(&u.Username, &u.Role, &blocked, &u.BlockedReason, &blockedAt, &lastUpdate, &createdAt); err != nil {
		return nil, err
	}
	u.IsBlocked = blocked != 0

	var err error
	if u.BlockedAt, err = parseNullTime(blockedAt); err != nil {
		return nil, err
	}
	if u.LastBlockingUpdate, err = parseNullTime(lastUpdate); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account. An empty role defaults to "member".
func (s *AccountStore) CreateUser(ctx context.Context, username, role string) (*models.UserAccount, error) {
	if username == "" {
		return nil, fmt.Errorf("creating user: username must not be empty")
	}
	if role == "" {
		role = "member"
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (username, role, created_at) VALUES (?, ?, ?)`,
		username, role, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", username, err)
	}
	return s.GetUser(ctx, username)
}

// GetUser returns the account or core.ErrUserNotFound.
func (s *AccountStore) GetUser(ctx context.Context, username string) (*models.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, core.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %s: %w", username, err)
	}
	return u, nil
}

// ListUsers returns all accounts ordered by username.
func (s *AccountStore) ListUsers(ctx context.Context) ([]models.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []models.UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// SetUserBlocking writes the blocking fields as one row update, creating
// the account if it does not exist. blocked_at is set when blocking and
// cleared when unblocking.
func (s *AccountStore) SetUserBlocking(ctx context.Context, username string, blocked bool, reason string) error {
	if username == "" {
		return fmt.Errorf("setting user blocking: username must not be empty")
	}
	now := s.now()
	var blockedAt sql.NullString
	flag := 0
	if blocked {
		blockedAt = nullTime(&now)
		flag = 1
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (username, role, is_blocked, blocked_reason, blocked_at, last_blocking_update, created_at)
		VALUES (?, 'member', ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			is_blocked = excluded.is_blocked,
			blocked_reason = excluded.blocked_reason,
			blocked_at = excluded.blocked_at,
			last_blocking_update = excluded.last_blocking_update`,
		username, flag, reason, blockedAt, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("setting blocking for %s: %w", username, err)
	}
	return nil
}

var _ core.AccountStore = (*AccountStore)(nil)
