// Package accounts is a SQL identity store for goOTP. It keeps one row per
// account and can hold the account's password-reset challenge in the same
// row, so reset challenges survive restarts without a separate table.
package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vinovest/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by Lookup for unknown addresses.
var ErrNotFound = errors.New("account not found")

// Account is the public view of an accounts row.
type Account struct {
	ID        string
	Email     string
	Name      string
	Role      string
	Profile   map[string]string
	CreatedAt time.Time
}

type accountRow struct {
	ID         string `db:"id"`
	Email      string `db:"email"`
	Name       string `db:"name"`
	Role       string `db:"role"`
	SecretHash string `db:"secret_hash"`
	Profile    string `db:"profile"`
	CreatedAt  int64  `db:"created_at"`
}

// Store implements goOTP.IdentityStore on the accounts table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New returns a Store on db. Migrations must already be applied.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces time.Now for row timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Exists reports whether an account holds subject.
func (s *Store) Exists(ctx context.Context, subject string) (bool, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM accounts WHERE email = ?`), subject)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a verified account and returns its ID. An existing address
// yields goOTP.ErrAlreadyRegistered.
func (s *Store) Create(ctx context.Context, reg goOTP.Registration) (string, error) {
	profile, err := json.Marshal(reg.Profile)
	if err != nil {
		return "", err
	}
	if reg.Profile == nil {
		profile = []byte("{}")
	}

	id := uuid.NewString()
	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO accounts (id, email, name, role, secret_hash, profile, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, reg.Email, reg.Name, reg.Role, reg.SecretHash, string(profile), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", goOTP.ErrAlreadyRegistered
		}
		return "", err
	}
	return id, nil
}

// UpdateCredential replaces the secret hash of subject. Unknown subjects
// yield goOTP.ErrUnknownSubject.
func (s *Store) UpdateCredential(ctx context.Context, subject, newSecret string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE accounts SET secret_hash = ?, updated_at = ? WHERE email = ?`),
		newSecret, s.now().UnixNano(), subject)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return goOTP.ErrUnknownSubject
	}
	return nil
}

// Lookup returns the account for email.
func (s *Store) Lookup(ctx context.Context, email string) (Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT id, email, name, role, secret_hash, profile, created_at FROM accounts WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}

	acct := Account{
		ID:        row.ID,
		Email:     row.Email,
		Name:      row.Name,
		Role:      row.Role,
		CreatedAt: time.Unix(0, row.CreatedAt),
	}
	if row.Profile != "" && row.Profile != "{}" {
		if err := json.Unmarshal([]byte(row.Profile), &acct.Profile); err != nil {
			return Account{}, fmt.Errorf("decode profile: %w", err)
		}
	}
	return acct, nil
}

// SecretHash returns the stored secret hash for email.
func (s *Store) SecretHash(ctx context.Context, email string) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash, s.db.Rebind(`SELECT secret_hash FROM accounts WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
