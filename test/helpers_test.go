//go:build integration
// +build integration

package test

import (
	"context"
	"sync"
	"testing"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// outbox is a Notifier that keeps the last code per recipient.
type outbox struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func newOutbox() *outbox {
	return &outbox{codes: make(map[string]string)}
}

func (o *outbox) Send(_ context.Context, msg goOTP.Message) error {
	o.mu.Lock()
	o.codes[msg.To] = msg.Code
	o.sent++
	o.mu.Unlock()
	return nil
}

func (o *outbox) code(t *testing.T, to string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.codes[to]
	if !ok {
		t.Fatalf("no code delivered to %s", to)
	}
	return code
}

// identities is an in-memory IdentityStore.
type identities struct {
	mu      sync.Mutex
	ids     map[string]string
	secrets map[string]string
}

func newIdentities(existing ...string) *identities {
	s := &identities{ids: make(map[string]string), secrets: make(map[string]string)}
	for _, email := range existing {
		s.ids[email] = uuid.NewString()
		s.secrets[email] = "$argon2id$seed"
	}
	return s
}

func (s *identities) Exists(_ context.Context, subject string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[subject]
	return ok, nil
}

func (s *identities) Create(_ context.Context, reg goOTP.Registration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[reg.Email]; ok {
		return "", goOTP.ErrAlreadyRegistered
	}
	id := uuid.NewString()
	s.ids[reg.Email] = id
	s.secrets[reg.Email] = reg.SecretHash
	return id, nil
}

func (s *identities) UpdateCredential(_ context.Context, subject, newSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[subject]; !ok {
		return goOTP.ErrUnknownSubject
	}
	s.secrets[subject] = newSecret
	return nil
}

func (s *identities) secret(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets[email]
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// newRedisEngine builds an engine whose two purposes both live in client.
func newRedisEngine(t *testing.T, client redis.UniversalClient, ids *identities, box *outbox) *goOTP.Engine {
	t.Helper()

	store := goOTP.NewRedisStore(client, goOTP.RedisStoreConfig{Prefix: "it"})
	engine, err := goOTP.New().
		WithStore(goOTP.PurposePasswordReset, store).
		WithStore(goOTP.PurposeRegistration, store).
		WithNotifier(box).
		WithIdentityStore(ids).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newEphemeralEngine(t *testing.T, ids *identities, box *outbox) *goOTP.Engine {
	t.Helper()

	engine, err := goOTP.New().
		WithNotifier(box).
		WithIdentityStore(ids).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}
