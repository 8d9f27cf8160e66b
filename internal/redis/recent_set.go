package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
)

// seenScript adds ARGV[1] to the set and evicts the oldest member once the
// insertion list grows past ARGV[2]. Returns 1 when the member was present.
var seenScript = redis.NewScript(`
	if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
		return 1
	end

	redis.call('SADD', KEYS[1], ARGV[1])
	redis.call('RPUSH', KEYS[2], ARGV[1])

	while redis.call('LLEN', KEYS[2]) > tonumber(ARGV[2]) do
		local oldest = redis.call('LPOP', KEYS[2])
		redis.call('SREM', KEYS[1], oldest)
	end

	return 0
`)

// RecentSet is a capped, insertion-ordered set shared by every relay instance
type RecentSet struct {
	client   *Client
	name     string
	capacity int
	members  string
	order    string
	log      logger.Logger
}

// NewRecentSet creates a set named name holding at most capacity keys
func NewRecentSet(client *Client, name string, capacity int, log logger.Logger) *RecentSet {
	if capacity < 1 {
		capacity = 1
	}

	return &RecentSet{
		client:   client,
		name:     name,
		capacity: capacity,
		members:  client.Key("recent", name, "members"),
		order:    client.Key("recent", name, "order"),
		log:      log.With(logger.F("component", "recent_set"), logger.F("set", name)),
	}
}

// memberKey hashes key so arbitrary usernames cannot grow the member size
func memberKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

func (s *RecentSet) Seen(ctx context.Context, key string) (bool, error) {
	member := memberKey(key)

	res, err := seenScript.Run(ctx, s.client.rdb, []string{s.members, s.order}, member, s.capacity).Int64()
	if err != nil {
		return false, fmt.Errorf("recent set %s: %w", s.name, err)
	}

	if res == 1 {
		s.log.Debug("key already seen", logger.F("member", member))
	}
	return res == 1, nil
}

func (s *RecentSet) Len(ctx context.Context) (int, error) {
	n, err := s.client.rdb.SCard(ctx, s.members).Result()
	if err != nil {
		return 0, fmt.Errorf("recent set %s: %w", s.name, err)
	}
	return int(n), nil
}

// Reset removes every key
func (s *RecentSet) Reset(ctx context.Context) error {
	return s.client.rdb.Del(ctx, s.members, s.order).Err()
}
