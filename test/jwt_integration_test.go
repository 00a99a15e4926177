//go:build integration
// +build integration

package test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/jwt"
	gjwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTIntegrationTokenAfterRegistration(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	manager, err := jwt.NewManager(jwt.Config{
		TTL:           time.Minute,
		SigningMethod: jwt.MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "otpd",
		Audience:      "api",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()
	_, rdb := newMiniredis(t)
	box := newOutbox()
	engine := newRedisEngine(t, rdb, newIdentities(), box)

	reg := goOTP.Registration{Email: "erin@example.com", SecretHash: "$argon2id$erin", Role: "member"}
	if err := engine.RequestRegistration(ctx, reg); err != nil {
		t.Fatalf("RequestRegistration: %v", err)
	}
	id, err := engine.ConfirmRegistration(ctx, reg.Email, box.code(t, reg.Email))
	if err != nil {
		t.Fatalf("ConfirmRegistration: %v", err)
	}

	token, err := manager.Issue(jwt.Account{ID: id, Email: reg.Email, Role: reg.Role}, goOTP.PurposeRegistration.String())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != id || claims.Email != reg.Email || claims.Via != "registration" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	parsed, _, err := gjwt.NewParser().ParseUnverified(token, &jwt.AccountClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified failed: %v", err)
	}
	if parsed.Header["kid"] != "k1" {
		t.Fatalf("expected kid header k1, got %v", parsed.Header["kid"])
	}
	if parsed.Method.Alg() != gjwt.SigningMethodEdDSA.Alg() {
		t.Fatalf("expected EdDSA, got %s", parsed.Method.Alg())
	}

	b := []byte(token)
	i := strings.LastIndexByte(token, '.') + 5
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	tampered := string(b)
	if _, err := manager.Parse(tampered); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected tampered token to fail, got %v", err)
	}
}
