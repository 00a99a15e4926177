package goOTP

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// Purpose tags a challenge with the workflow it belongs to. Challenges for
// different purposes on the same subject never interfere.
type Purpose uint8

const (
	// PurposePasswordReset challenges an existing identity before its credential is replaced.
	PurposePasswordReset Purpose = iota + 1
	// PurposeRegistration challenges an address before the identity is created.
	PurposeRegistration
)

// String returns the wire name of the purpose.
func (p Purpose) String() string {
	switch p {
	case PurposePasswordReset:
		return "password-reset"
	case PurposeRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	return p == PurposePasswordReset || p == PurposeRegistration
}

// ParsePurpose maps a wire name back to a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "password-reset", "password_reset", "reset":
		return PurposePasswordReset, nil
	case "registration", "register", "signup":
		return PurposeRegistration, nil
	default:
		return 0, ErrInvalidPurpose
	}
}

// Challenge is the stored state of one outstanding code. It never holds the
// plaintext.
type Challenge struct {
	Digest            []byte
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
	Payload           *Registration
}

// Expired reports whether the challenge is past its deadline at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Registration is the pending identity carried by a registration challenge
// until the address is proven. SecretHash must already be hashed by the caller.
type Registration struct {
	Email      string
	Name       string
	SecretHash string
	Role       string
	Profile    map[string]string
}

func (r *Registration) clone() *Registration {
	if r == nil {
		return nil
	}
	out := *r
	if r.Profile != nil {
		out.Profile = make(map[string]string, len(r.Profile))
		for k, v := range r.Profile {
			out.Profile[k] = v
		}
	}
	return &out
}

// LogValue keeps registration payloads out of logs.
func (r Registration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", r.Email),
		slog.String("role", r.Role),
		slog.String("secret", "[redacted]"),
	)
}

// String implements fmt.Stringer without the secret or profile fields.
func (r Registration) String() string {
	return "Registration{Email:" + r.Email + " Role:" + r.Role + "}"
}

// Message is what a Notifier receives. Code is the only place the plaintext
// exists outside of Issue.
type Message struct {
	To        string
	Code      string
	Purpose   Purpose
	ExpiresIn time.Duration
}

// Notifier hands a code to an out-of-band channel. Send must return once the
// hand-off is done or failed; it is called with a bounded context.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// CredentialNotifier is optionally implemented by a Notifier to confirm a
// completed password reset to the account owner.
type CredentialNotifier interface {
	NotifyCredentialChanged(ctx context.Context, to string) error
}

// IdentityStore is the account side of the workflows. Create must return
// ErrAlreadyRegistered (wrapped or not) when the subject was taken meanwhile.
type IdentityStore interface {
	Exists(ctx context.Context, subject string) (bool, error)
	Create(ctx context.Context, reg Registration) (string, error)
	UpdateCredential(ctx context.Context, subject, newSecret string) error
}

// ChallengeStore persists challenges keyed by (subject, purpose).
//
// Get returns ErrChallengeNotFound for missing, expired and consumed entries.
// DecrementAttempts is atomic and removes the entry in the same step when the
// budget reaches zero. Delete is idempotent.
type ChallengeStore interface {
	Put(ctx context.Context, subject string, purpose Purpose, c Challenge) error
	Get(ctx context.Context, subject string, purpose Purpose) (Challenge, error)
	DecrementAttempts(ctx context.Context, subject string, purpose Purpose) (int, error)
	Delete(ctx context.Context, subject string, purpose Purpose) error
}

// VerifyOutcome is returned by a successful Verify. Payload is set for
// registration challenges only.
type VerifyOutcome struct {
	Subject string
	Purpose Purpose
	Payload *Registration
}

// NormalizeSubject trims and lower-cases an email subject and checks that it
// is a single bare address.
func NormalizeSubject(subject string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(subject))
	if s == "" || len(s) > 254 {
		return "", ErrInvalidSubject
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrInvalidSubject
	}
	return s, nil
}
