package internal

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
)

const (
	MinOTPDigits = 4
	MaxOTPDigits = 10
)

var errInvalidOTPDigits = errors.New("invalid otp digits")

// NewOTP returns a uniformly distributed decimal code of the given length.
// Leading zeros are kept.
func NewOTP(digits int) (string, error) {
	return NewOTPFrom(rand.Reader, digits)
}

// NewOTPFrom is NewOTP with an explicit entropy source.
func NewOTPFrom(r io.Reader, digits int) (string, error) {
	if digits < MinOTPDigits || digits > MaxOTPDigits {
		return "", errInvalidOTPDigits
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// IsNumeric reports whether s is exactly digits ASCII decimal characters.
func IsNumeric(s string, digits int) bool {
	if len(s) != digits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
