package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 4

// Redis keeps one CBOR record per key with a TTL matching the challenge
// deadline. Read-modify-write paths use WATCH/MULTI.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a store that namespaces keys under prefix.
func NewRedis(client redis.UniversalClient, prefix string, now func() time.Time) *Redis {
	if prefix == "" {
		prefix = "otp"
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, prefix: prefix, now: now}
}

func (s *Redis) key(key string) string {
	return s.prefix + ":" + key
}

func (s *Redis) Put(ctx context.Context, key string, r Record) error {
	ttl := time.Duration(r.ExpiresAt - s.now().UnixNano())
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	encoded, err := encodeRecord(r)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r, err := decodeRecord(data)
	if err != nil {
		return Record{}, err
	}
	if r.Expired(s.now()) {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *Redis) DecrementAttempts(ctx context.Context, key string) (int, error) {
	rk := s.key(key)

	for i := 0; i < redisMaxRetries; i++ {
		remaining := 0

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, rk).Bytes()
			if err != nil {
				return err
			}

			r, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if r.Expired(s.now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, rk)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrNotFound
			}

			r.Attempts--
			if r.Attempts <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, rk)
					return nil
				})
				return err
			}

			updated, err := encodeRecord(r)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, rk, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			remaining = r.Attempts
			return nil
		}, rk)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, ErrNotFound):
				return 0, ErrNotFound
			case errors.Is(err, ErrCorrupt):
				return 0, err
			default:
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return remaining, nil
	}

	return 0, fmt.Errorf("%w: decrement contention", ErrUnavailable)
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
