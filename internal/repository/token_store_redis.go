package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// expiryGrace keeps an expired credential readable for a while so that a late
// redemption reports expired rather than not_found. Sweep removes it earlier.
const expiryGrace = time.Minute

var putCredentialScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'subject_id', ARGV[1],
  'issued_at', ARGV[2],
  'expires_at', ARGV[3],
  'signature', ARGV[4],
  'window_label', ARGV[5],
  'consumed', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[8])
return 1
`)

var markConsumedScript = redis.NewScript(`
local consumed = redis.call('HGET', KEYS[1], 'consumed')
if not consumed then
  return -1
end
if consumed == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return 1
`)

// RedisTokenStore persists credentials as Redis hashes. Writes that must be
// atomic (insert-if-absent, consume) run as server-side scripts; a sorted set
// keyed by expiry drives Sweep.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTokenStore constructs a store using keys under prefix.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "checkpoint"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) key(id string) string {
	return s.prefix + ":qr:" + id
}

func (s *RedisTokenStore) indexKey() string {
	return s.prefix + ":qr:expiry"
}

func (s *RedisTokenStore) Put(ctx context.Context, cred *domain.Credential) error {
	ttl := cred.ExpiresAt.Sub(cred.IssuedAt) + expiryGrace
	added, err := putCredentialScript.Run(ctx, s.client,
		[]string{s.key(cred.ID), s.indexKey()},
		cred.SubjectID,
		strconv.FormatInt(cred.IssuedAt.UnixNano(), 10),
		strconv.FormatInt(cred.ExpiresAt.UnixNano(), 10),
		cred.Signature,
		cred.WindowLabel,
		ttl.Milliseconds(),
		cred.ExpiresAt.UnixMicro(),
		cred.ID,
	).Int()
	if err != nil {
		return unavailable("put credential", err)
	}
	if added == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *RedisTokenStore) Get(ctx context.Context, id string) (*domain.Credential, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable("get credential", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	issuedAt, err := parseUnixNano(fields["issued_at"])
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseUnixNano(fields["expires_at"])
	if err != nil {
		return nil, err
	}

	return &domain.Credential{
		ID:          id,
		SubjectID:   fields["subject_id"],
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		Signature:   fields["signature"],
		WindowLabel: fields["window_label"],
		Consumed:    fields["consumed"] == "1",
	}, nil
}

func (s *RedisTokenStore) MarkConsumed(ctx context.Context, id string) error {
	res, err := markConsumedScript.Run(ctx, s.client, []string{s.key(id)}).Int()
	if err != nil {
		return unavailable("mark consumed", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrAlreadyConsumed
	default:
		return nil
	}
}

func (s *RedisTokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return unavailable("delete credential", err)
	}
	return nil
}

func (s *RedisTokenStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	// Scores are expires_at in microseconds; credentials are issued on
	// microsecond boundaries, so rounding now up keeps the bound strict.
	nowNano := now.UnixNano()
	bound := nowNano / 1000
	if nowNano%1000 != 0 {
		bound++
	}

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(bound, 10),
	}).Result()
	if err != nil {
		return 0, unavailable("sweep credentials", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
			pipe.ZRem(ctx, s.indexKey(), id)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("sweep credentials", err)
	}
	return len(ids), nil
}

func parseUnixNano(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("corrupt credential timestamp")
	}
	return time.Unix(0, n).UTC(), nil
}
