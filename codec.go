package goOTP

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/MrEthical07/goOTP/internal"
	"github.com/zeebo/blake3"
)

// DigestAlgorithm names the one-way function applied to codes before storage.
type DigestAlgorithm string

const (
	// DigestSHA256 is the default digest.
	DigestSHA256 DigestAlgorithm = "sha256"
	// DigestSHA512 trades storage for a wider digest.
	DigestSHA512 DigestAlgorithm = "sha512"
	// DigestBLAKE3 uses a 32-byte BLAKE3 hash.
	DigestBLAKE3 DigestAlgorithm = "blake3"
)

// Codec generates challenge codes and compares claimed codes against stored
// digests. It is stateless and safe for concurrent use.
type Codec struct {
	digits    int
	algorithm DigestAlgorithm
	entropy   io.Reader
}

// NewCodec returns a Codec for codes of the given length.
func NewCodec(digits int, algorithm DigestAlgorithm) (*Codec, error) {
	if digits < internal.MinOTPDigits || digits > internal.MaxOTPDigits {
		return nil, errors.New("codec digits must be between 4 and 10")
	}
	if algorithm == "" {
		algorithm = DigestSHA256
	}
	switch algorithm {
	case DigestSHA256, DigestSHA512, DigestBLAKE3:
	default:
		return nil, errors.New("codec digest must be sha256, sha512, or blake3")
	}
	return &Codec{digits: digits, algorithm: algorithm}, nil
}

// Digits returns the configured code length.
func (c *Codec) Digits() int {
	return c.digits
}

// Generate returns a fresh plaintext code and its digest.
func (c *Codec) Generate() (string, []byte, error) {
	var (
		code string
		err  error
	)
	if c.entropy != nil {
		code, err = internal.NewOTPFrom(c.entropy, c.digits)
	} else {
		code, err = internal.NewOTP(c.digits)
	}
	if err != nil {
		return "", nil, err
	}
	return code, c.Digest(code), nil
}

// Digest hashes a code with the configured algorithm.
func (c *Codec) Digest(code string) []byte {
	switch c.algorithm {
	case DigestSHA512:
		sum := sha512.Sum512([]byte(code))
		return sum[:]
	case DigestBLAKE3:
		sum := blake3.Sum256([]byte(code))
		return sum[:]
	default:
		sum := sha256.Sum256([]byte(code))
		return sum[:]
	}
}

// Match reports whether claimed hashes to digest. Malformed claims are hashed
// and compared like any other value and never match.
func (c *Codec) Match(claimed string, digest []byte) bool {
	well := internal.IsNumeric(claimed, c.digits)
	eq := subtle.ConstantTimeCompare(c.Digest(claimed), digest) == 1
	return well && eq
}
