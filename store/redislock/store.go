// Package redislock implements store.LockStore on Redis.
//
// Each lease is a hash keyed by operation with a PX expiry matching the
// lease, plus a token key pointing back to the operation so that Renew and
// Delete only ever touch the record created with the same token.
package redislock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

const defaultKeyPrefix = "pupsourcing:migrator:"

var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'operation', ARGV[2], 'acquired_at', ARGV[3], 'expires_at', ARGV[4], 'acquired_by', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[6])
return 1
`)

var renewScript = redis.NewScript(`
local op = redis.call('GET', KEYS[1])
if not op then
  return 0
end
local key = ARGV[1] .. 'lock:' .. op
if redis.call('HGET', key, 'id') ~= ARGV[2] then
  return 0
end
redis.call('HSET', key, 'expires_at', ARGV[3])
redis.call('PEXPIRE', key, ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var deleteScript = redis.NewScript(`
local op = redis.call('GET', KEYS[1])
if not op then
  return 0
end
local key = ARGV[1] .. 'lock:' .. op
if redis.call('HGET', key, 'id') == ARGV[2] then
  redis.call('DEL', key)
end
redis.call('DEL', KEYS[1])
return 1
`)

var purgeScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp then
  return 0
end
if tonumber(exp) > tonumber(ARGV[1]) then
  return 0
end
local id = redis.call('HGET', KEYS[1], 'id')
redis.call('DEL', KEYS[1])
if id then
  redis.call('DEL', ARGV[2] .. 'token:' .. id)
end
return 1
`)

// Config holds configuration for the Redis lock store.
type Config struct {
	// Client is the Redis connection (required).
	Client redis.UniversalClient

	// KeyPrefix namespaces every key (default: "pupsourcing:migrator:").
	KeyPrefix string
}

// Store is a Redis implementation of store.LockStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.LockStore = (*Store)(nil)

// New creates a new Redis lock store.
func New(cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Store{client: cfg.Client, prefix: cfg.KeyPrefix, now: time.Now}
}

func (s *Store) lockKey(operation string) string { return s.prefix + "lock:" + operation }

func (s *Store) tokenKey(id string) string { return s.prefix + "token:" + id }

// ttl is the key lifetime for a lease ending at expiresAt, at least one millisecond.
func (s *Store) ttl(expiresAt time.Time) int64 {
	ms := expiresAt.Sub(s.now()).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// Insert creates a lease record.
// Returns store.ErrLockExists if the operation already has a live record.
func (s *Store) Insert(ctx context.Context, lock migrator.LockRecord) error {
	res, err := insertScript.Run(ctx, s.client,
		[]string{s.lockKey(lock.Operation), s.tokenKey(lock.ID)},
		lock.ID,
		lock.Operation,
		lock.AcquiredAt.UnixMilli(),
		lock.ExpiresAt.UnixMilli(),
		lock.AcquiredBy,
		s.ttl(lock.ExpiresAt),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to insert lock for %s: %w", lock.Operation, err)
	}
	if res == 0 {
		return store.ErrLockExists
	}
	return nil
}

// PurgeExpired removes the operation's record if it expired at or before now.
// Redis also evicts expired leases on its own through key expiry.
func (s *Store) PurgeExpired(ctx context.Context, operation string, now time.Time) (int64, error) {
	n, err := purgeScript.Run(ctx, s.client, []string{s.lockKey(operation)}, now.UnixMilli(), s.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired locks for %s: %w", operation, err)
	}
	return n, nil
}

// Renew moves the expiry of the record held by the lease token.
// Returns store.ErrLockNotFound if the token no longer holds a record.
func (s *Store) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := renewScript.Run(ctx, s.client, []string{s.tokenKey(id)},
		s.prefix, id, expiresAt.UnixMilli(), s.ttl(expiresAt)).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	if res == 0 {
		return store.ErrLockNotFound
	}
	return nil
}

// Delete removes the record held by the lease token, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := deleteScript.Run(ctx, s.client, []string{s.tokenKey(id)}, s.prefix, id).Err(); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// Current returns the record for an operation.
// Returns store.ErrLockNotFound if no record exists.
func (s *Store) Current(ctx context.Context, operation string) (migrator.LockRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.lockKey(operation)).Result()
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("failed to get lock for %s: %w", operation, err)
	}
	if len(fields) == 0 {
		return migrator.LockRecord{}, store.ErrLockNotFound
	}

	acquired, err := strconv.ParseInt(fields["acquired_at"], 10, 64)
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("malformed lock %s: invalid acquired_at: %w", operation, err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("malformed lock %s: invalid expires_at: %w", operation, err)
	}

	return migrator.LockRecord{
		ID:         fields["id"],
		Operation:  fields["operation"],
		AcquiredAt: time.UnixMilli(acquired).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		AcquiredBy: fields["acquired_by"],
	}, nil
}
