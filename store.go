package goOTP

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goOTP/internal/stores"
	"github.com/redis/go-redis/v9"
)

type recordBackend interface {
	Put(ctx context.Context, key string, r stores.Record) error
	Get(ctx context.Context, key string) (stores.Record, error)
	DecrementAttempts(ctx context.Context, key string) (int, error)
	Delete(ctx context.Context, key string) error
}

// recordStore adapts an internal record backend to ChallengeStore.
type recordStore struct {
	backend recordBackend
}

func (s recordStore) Put(ctx context.Context, subject string, purpose Purpose, c Challenge) error {
	payload, err := encodeRegistration(c.Payload)
	if err != nil {
		return err
	}
	rec := stores.Record{
		Digest:    c.Digest,
		IssuedAt:  c.IssuedAt.UnixNano(),
		ExpiresAt: c.ExpiresAt.UnixNano(),
		Attempts:  c.AttemptsRemaining,
		Payload:   payload,
	}
	return mapRecordError(s.backend.Put(ctx, stores.Key(purpose.String(), subject), rec))
}

func (s recordStore) Get(ctx context.Context, subject string, purpose Purpose) (Challenge, error) {
	rec, err := s.backend.Get(ctx, stores.Key(purpose.String(), subject))
	if err != nil {
		return Challenge{}, mapRecordError(err)
	}
	reg, err := decodeRegistration(rec.Payload)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Challenge{
		Digest:            rec.Digest,
		IssuedAt:          time.Unix(0, rec.IssuedAt),
		ExpiresAt:         time.Unix(0, rec.ExpiresAt),
		AttemptsRemaining: rec.Attempts,
		Payload:           reg,
	}, nil
}

func (s recordStore) DecrementAttempts(ctx context.Context, subject string, purpose Purpose) (int, error) {
	n, err := s.backend.DecrementAttempts(ctx, stores.Key(purpose.String(), subject))
	return n, mapRecordError(err)
}

func (s recordStore) Delete(ctx context.Context, subject string, purpose Purpose) error {
	return mapRecordError(s.backend.Delete(ctx, stores.Key(purpose.String(), subject)))
}

func mapRecordError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrUnavailable), errors.Is(err, stores.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

/*
====================================
EPHEMERAL STORE
====================================
*/

// EphemeralStore keeps challenges in process memory. Entries vanish on
// restart. Expired entries are removed when read and by Sweep.
type EphemeralStore struct {
	recordStore
	mem *stores.Memory
}

// NewEphemeralStore returns an empty in-memory store. now may be nil.
func NewEphemeralStore(cfg EphemeralConfig, now func() time.Time) *EphemeralStore {
	mem := stores.NewMemory(cfg.Shards, now)
	return &EphemeralStore{
		recordStore: recordStore{backend: mem},
		mem:         mem,
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (s *EphemeralStore) Sweep() int {
	return s.mem.Sweep()
}

// Len returns the number of entries held, including expired ones not yet swept.
func (s *EphemeralStore) Len() int {
	return s.mem.Len()
}

// StartSweeper sweeps every interval until Close. onSweep may be nil.
func (s *EphemeralStore) StartSweeper(interval time.Duration, onSweep func(int)) {
	s.mem.StartSweeper(interval, onSweep)
}

// Close stops the sweeper.
func (s *EphemeralStore) Close() {
	s.mem.Close()
}

/*
====================================
REDIS STORE
====================================
*/

// RedisStoreConfig configures NewRedisStore.
type RedisStoreConfig struct {
	Prefix string
	Now    func() time.Time
}

// RedisStore keeps challenges in Redis with a TTL equal to the challenge
// lifetime, so state survives process restarts.
type RedisStore struct {
	recordStore
}

// NewRedisStore returns a ChallengeStore backed by client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	return &RedisStore{
		recordStore: recordStore{backend: stores.NewRedis(client, cfg.Prefix, cfg.Now)},
	}
}

/*
====================================
PAYLOAD ENCODING
====================================
*/

type registrationRecord struct {
	Email      string            `cbor:"1,keyasint"`
	Name       string            `cbor:"2,keyasint,omitempty"`
	SecretHash string            `cbor:"3,keyasint"`
	Role       string            `cbor:"4,keyasint,omitempty"`
	Profile    map[string]string `cbor:"5,keyasint,omitempty"`
}

func encodeRegistration(reg *Registration) ([]byte, error) {
	if reg == nil {
		return nil, nil
	}
	return stores.Marshal(registrationRecord{
		Email:      reg.Email,
		Name:       reg.Name,
		SecretHash: reg.SecretHash,
		Role:       reg.Role,
		Profile:    reg.Profile,
	})
}

func decodeRegistration(data []byte) (*Registration, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec registrationRecord
	if err := stores.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &Registration{
		Email:      rec.Email,
		Name:       rec.Name,
		SecretHash: rec.SecretHash,
		Role:       rec.Role,
		Profile:    rec.Profile,
	}, nil
}
