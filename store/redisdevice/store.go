package redisdevice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "tierauth"

const createDeviceScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "account_id", ARGV[2], "expires_at", ARGV[3], "last_used_at", ARGV[4], "created_at", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[7])
local ttl = redis.call("PTTL", KEYS[2])
if ttl < tonumber(ARGV[6]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[6])
end
return 1
`

const touchDeviceScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
return 1
`

var (
	createDeviceLua = redis.NewScript(createDeviceScript)
	touchDeviceLua  = redis.NewScript(touchDeviceScript)
)

// Store implements tierauth.TrustedDeviceStore.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ tierauth.TrustedDeviceStore = (*Store)(nil)

// New returns a Store writing under prefix. An empty prefix means
// DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) deviceKey(accountID, tokenHash string) string {
	return s.prefix + ":td:{" + accountID + "}:" + tokenHash
}

func (s *Store) indexKey(accountID string) string {
	return s.prefix + ":tdi:{" + accountID + "}"
}

// Create stores device with a TTL of ExpiresAt minus CreatedAt. An existing
// record for the same token digest yields tierauth.ErrDuplicateResource.
func (s *Store) Create(ctx context.Context, device tierauth.TrustedDevice) error {
	ttl := device.ExpiresAt.Sub(device.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("trusted device %s: expiry not after creation", device.ID)
	}

	created, err := createDeviceLua.Run(ctx, s.redis,
		[]string{s.deviceKey(device.AccountID, device.TokenHash), s.indexKey(device.AccountID)},
		device.ID,
		device.AccountID,
		formatTime(device.ExpiresAt),
		formatTime(device.LastUsedAt),
		formatTime(device.CreatedAt),
		ttl.Milliseconds(),
		device.TokenHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if created == 0 {
		return tierauth.ErrDuplicateResource
	}
	return nil
}

// Get loads the record for accountID and tokenHash.
func (s *Store) Get(ctx context.Context, accountID, tokenHash string) (tierauth.TrustedDevice, error) {
	fields, err := s.redis.HGetAll(ctx, s.deviceKey(accountID, tokenHash)).Result()
	if err != nil {
		return tierauth.TrustedDevice{}, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return tierauth.TrustedDevice{}, tierauth.ErrNotFound
	}

	device := tierauth.TrustedDevice{
		ID:        fields["id"],
		AccountID: fields["account_id"],
		TokenHash: tokenHash,
	}
	for name, dst := range map[string]*time.Time{
		"expires_at":   &device.ExpiresAt,
		"last_used_at": &device.LastUsedAt,
		"created_at":   &device.CreatedAt,
	} {
		if *dst, err = parseTime(fields[name]); err != nil {
			return tierauth.TrustedDevice{}, fmt.Errorf("trusted device %s: corrupt %s: %w", device.ID, name, err)
		}
	}
	return device, nil
}

// Touch sets LastUsedAt without extending the record's TTL.
func (s *Store) Touch(ctx context.Context, accountID, tokenHash string, at time.Time) error {
	ok, err := touchDeviceLua.Run(ctx, s.redis,
		[]string{s.deviceKey(accountID, tokenHash)},
		formatTime(at),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if ok == 0 {
		return tierauth.ErrNotFound
	}
	return nil
}

// DeleteAll removes every record indexed for accountID and reports how many
// unexpired records were deleted. A device created concurrently with the
// call may survive it.
func (s *Store) DeleteAll(ctx context.Context, accountID string) (int, error) {
	indexKey := s.indexKey(accountID)
	hashes, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	cmds := make([]*redis.IntCmd, 0, len(hashes))
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			cmds = append(cmds, pipe.Del(ctx, s.deviceKey(accountID, h)))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	deleted := 0
	for _, cmd := range cmds {
		deleted += int(cmd.Val())
	}
	return deleted, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
