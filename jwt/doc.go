// Package jwt signs the account token handed to a client once a registration
// or password reset has been confirmed, and parses it back.
package jwt
