package goOTP

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureNotifier records every message and can be told to fail.
type captureNotifier struct {
	mu       sync.Mutex
	messages []Message
	err      error
	block    bool
	notices  []string
	hook     func()
}

func (n *captureNotifier) Send(ctx context.Context, msg Message) error {
	n.mu.Lock()
	hook := n.hook
	n.mu.Unlock()
	if hook != nil {
		hook()
	}

	n.mu.Lock()
	err, block := n.err, n.block
	n.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) NotifyCredentialChanged(_ context.Context, to string) error {
	n.mu.Lock()
	n.notices = append(n.notices, to)
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *captureNotifier) lastCode(t *testing.T, to string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.messages) - 1; i >= 0; i-- {
		if n.messages[i].To == to {
			return n.messages[i].Code
		}
	}
	t.Fatalf("no code delivered to %s", to)
	return ""
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// memIdentities is an IdentityStore over a map.
type memIdentities struct {
	mu          sync.Mutex
	accounts    map[string]Registration
	secrets     map[string]string
	createErr   error
	updateErr   error
	createCalls int
}

func newMemIdentities() *memIdentities {
	return &memIdentities{
		accounts: make(map[string]Registration),
		secrets:  make(map[string]string),
	}
}

func (m *memIdentities) Exists(_ context.Context, subject string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[subject]
	return ok, nil
}

func (m *memIdentities) Create(_ context.Context, reg Registration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return "", m.createErr
	}
	if _, ok := m.accounts[reg.Email]; ok {
		return "", ErrAlreadyRegistered
	}
	m.accounts[reg.Email] = reg
	m.secrets[reg.Email] = reg.SecretHash
	return uuid.NewString(), nil
}

func (m *memIdentities) UpdateCredential(_ context.Context, subject, newSecret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.accounts[subject]; !ok {
		return ErrUnknownSubject
	}
	m.secrets[subject] = newSecret
	return nil
}

func (m *memIdentities) add(email, secret string) {
	m.mu.Lock()
	m.accounts[email] = Registration{Email: email, SecretHash: secret}
	m.secrets[email] = secret
	m.mu.Unlock()
}

func (m *memIdentities) secret(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[email]
}

func (m *memIdentities) setCreateErr(err error) {
	m.mu.Lock()
	m.createErr = err
	m.mu.Unlock()
}

func (m *memIdentities) setUpdateErr(err error) {
	m.mu.Lock()
	m.updateErr = err
	m.mu.Unlock()
}

type testEngine struct {
	*Engine
	clock      *testClock
	notifier   *captureNotifier
	identities *memIdentities
}

func newTestEngine(t *testing.T, mutate func(*Config, *Builder)) *testEngine {
	t.Helper()

	clock := newTestClock()
	notifier := &captureNotifier{}
	identities := newMemIdentities()

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Ephemeral.SweepInterval = 0

	b := New().
		WithNotifier(notifier).
		WithIdentityStore(identities).
		WithClock(clock.Now)
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{
		Engine:     engine,
		clock:      clock,
		notifier:   notifier,
		identities: identities,
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
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

var errSMTPDown = errors.New("smtp: connection refused")
