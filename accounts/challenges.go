package accounts

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/vinovest/sqlx"
)

type resetRow struct {
	Digest    sql.NullString `db:"reset_code_digest"`
	IssuedAt  sql.NullInt64  `db:"reset_code_issued_at"`
	ExpiresAt sql.NullInt64  `db:"reset_code_expires_at"`
	Attempts  int            `db:"reset_code_attempts"`
}

// ResetChallenges is a goOTP.ChallengeStore that keeps password-reset
// challenges in the reset_code_* columns of the account row. It holds no
// other purpose.
type ResetChallenges struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewResetChallenges returns a durable reset challenge store on db. now
// decides expiry and should be the clock given to the engine's WithClock;
// nil means time.Now.
func NewResetChallenges(db *sqlx.DB, now func() time.Time) *ResetChallenges {
	if now == nil {
		now = time.Now
	}
	return &ResetChallenges{db: db, now: now}
}

// Put attaches c to the account of subject. Unknown subjects yield
// goOTP.ErrUnknownSubject.
func (s *ResetChallenges) Put(ctx context.Context, subject string, purpose goOTP.Purpose, c goOTP.Challenge) error {
	if purpose != goOTP.PurposePasswordReset {
		return goOTP.ErrUnsupportedPurpose
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE accounts
		 SET reset_code_digest = ?, reset_code_issued_at = ?, reset_code_expires_at = ?, reset_code_attempts = ?
		 WHERE email = ?`),
		hex.EncodeToString(c.Digest), c.IssuedAt.UnixNano(), c.ExpiresAt.UnixNano(), c.AttemptsRemaining, subject)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return goOTP.ErrUnknownSubject
	}
	return nil
}

// Get returns the live challenge of subject.
func (s *ResetChallenges) Get(ctx context.Context, subject string, purpose goOTP.Purpose) (goOTP.Challenge, error) {
	if purpose != goOTP.PurposePasswordReset {
		return goOTP.Challenge{}, goOTP.ErrChallengeNotFound
	}

	var row resetRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT reset_code_digest, reset_code_issued_at, reset_code_expires_at, reset_code_attempts
		 FROM accounts WHERE email = ?`), subject)
	if errors.Is(err, sql.ErrNoRows) {
		return goOTP.Challenge{}, goOTP.ErrChallengeNotFound
	}
	if err != nil {
		return goOTP.Challenge{}, unavailable(err)
	}
	if !row.Digest.Valid || !row.ExpiresAt.Valid || row.Attempts <= 0 {
		return goOTP.Challenge{}, goOTP.ErrChallengeNotFound
	}

	expiresAt := time.Unix(0, row.ExpiresAt.Int64)
	if s.now().After(expiresAt) {
		return goOTP.Challenge{}, goOTP.ErrChallengeNotFound
	}

	digest, err := hex.DecodeString(row.Digest.String)
	if err != nil {
		return goOTP.Challenge{}, unavailable(err)
	}
	return goOTP.Challenge{
		Digest:            digest,
		IssuedAt:          time.Unix(0, row.IssuedAt.Int64),
		ExpiresAt:         expiresAt,
		AttemptsRemaining: row.Attempts,
	}, nil
}

// DecrementAttempts spends one attempt in a single guarded UPDATE and clears
// the challenge when none are left.
func (s *ResetChallenges) DecrementAttempts(ctx context.Context, subject string, purpose goOTP.Purpose) (int, error) {
	if purpose != goOTP.PurposePasswordReset {
		return 0, goOTP.ErrChallengeNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	var remaining int
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`UPDATE accounts SET reset_code_attempts = reset_code_attempts - 1
		 WHERE email = ? AND reset_code_digest IS NOT NULL
		   AND reset_code_attempts > 0 AND reset_code_expires_at >= ?
		 RETURNING reset_code_attempts`),
		subject, s.now().UnixNano()).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, goOTP.ErrChallengeNotFound
	}
	if err != nil {
		return 0, unavailable(err)
	}

	if remaining <= 0 {
		if err := clearReset(ctx, tx, subject); err != nil {
			return 0, unavailable(err)
		}
		remaining = 0
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return remaining, nil
}

// Delete clears the challenge columns. Unknown subjects are not an error.
func (s *ResetChallenges) Delete(ctx context.Context, subject string, purpose goOTP.Purpose) error {
	if purpose != goOTP.PurposePasswordReset {
		return nil
	}
	if err := clearReset(ctx, s.db, subject); err != nil {
		return unavailable(err)
	}
	return nil
}

// PurgeExpired clears every challenge that expired before now and returns
// how many rows were touched.
func (s *ResetChallenges) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE accounts
		 SET reset_code_digest = NULL, reset_code_issued_at = NULL, reset_code_expires_at = NULL, reset_code_attempts = 0
		 WHERE reset_code_expires_at IS NOT NULL AND reset_code_expires_at < ?`),
		s.now().UnixNano())
	if err != nil {
		return 0, unavailable(err)
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func clearReset(ctx context.Context, db execer, subject string) error {
	_, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE accounts
		 SET reset_code_digest = NULL, reset_code_issued_at = NULL, reset_code_expires_at = NULL, reset_code_attempts = 0
		 WHERE email = ?`), subject)
	return err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", goOTP.ErrStoreUnavailable, err)
}
