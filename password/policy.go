package password

import (
	"errors"
	"unicode"
)

// ErrWeakSecret is returned by CheckStrength and Hash for secrets that do
// not satisfy the policy.
var ErrWeakSecret = errors.New("password: secret does not meet policy")

// Policy describes the character classes a new secret must contain.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires eight characters with upper, lower, digit and
// special characters.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// CheckStrength returns ErrWeakSecret when secret violates p.
func (p Policy) CheckStrength(secret string) error {
	if len([]rune(secret)) < p.MinLength {
		return ErrWeakSecret
	}

	var upper, lower, digit, special bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	if (p.RequireUpper && !upper) ||
		(p.RequireLower && !lower) ||
		(p.RequireDigit && !digit) ||
		(p.RequireSpecial && !special) {
		return ErrWeakSecret
	}
	return nil
}
