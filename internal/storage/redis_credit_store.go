package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	creditBalancePrefix = "credit:balance:"
	creditChargedPrefix = "credit:charged:"
)

// chargeScript marks the message as charged and debits the balance,
// flooring at zero. Returns {balance, charged}.
var chargeScript = redis.NewScript(`
if not redis.call('SET', KEYS[2], ARGV[2], 'NX', 'EX', ARGV[3]) then
	return {tonumber(redis.call('GET', KEYS[1]) or '0'), 0}
end
local balance = tonumber(redis.call('GET', KEYS[1]) or '0') - tonumber(ARGV[1])
if balance < 0 then
	balance = 0
end
redis.call('SET', KEYS[1], balance)
return {balance, 1}
`)

// topUpScript adds to the balance, flooring at zero
var topUpScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0') + tonumber(ARGV[1])
if balance < 0 then
	balance = 0
end
redis.call('SET', KEYS[1], balance)
return balance
`)

// RedisCreditStore keeps balances in Redis. Charge markers expire after
// markerTTL; acknowledgments for older messages are not expected.
type RedisCreditStore struct {
	client    redis.UniversalClient
	markerTTL time.Duration
}

// NewRedisCreditStore creates a credit store. A non-positive markerTTL
// defaults to seven days.
func NewRedisCreditStore(client redis.UniversalClient, markerTTL time.Duration) *RedisCreditStore {
	if markerTTL <= 0 {
		markerTTL = 7 * 24 * time.Hour
	}
	return &RedisCreditStore{client: client, markerTTL: markerTTL}
}

// Balance returns the balance in cents
func (s *RedisCreditStore) Balance(ctx context.Context, user string) (int64, error) {
	v, err := s.client.Get(ctx, creditBalancePrefix+user).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return v, nil
}

// Charge debits cents once per messageID
func (s *RedisCreditStore) Charge(ctx context.Context, user, messageID string, cents int64) (int64, bool, error) {
	keys := []string{creditBalancePrefix + user, creditChargedPrefix + messageID}
	ttl := int64(s.markerTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	res, err := chargeScript.Run(ctx, s.client, keys, cents, user, ttl).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to charge: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected charge reply: %v", res)
	}
	return res[0], res[1] == 1, nil
}

// TopUp adds cents and returns the new balance
func (s *RedisCreditStore) TopUp(ctx context.Context, user string, cents int64) (int64, error) {
	balance, err := topUpScript.Run(ctx, s.client, []string{creditBalancePrefix + user}, cents).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to top up: %w", err)
	}
	return balance, nil
}

// Seed sets balances that are not present yet
func (s *RedisCreditStore) Seed(ctx context.Context, balances map[string]int64) error {
	for user, cents := range balances {
		if err := s.client.SetNX(ctx, creditBalancePrefix+user, cents, 0).Err(); err != nil {
			return fmt.Errorf("failed to seed balance for %s: %w", user, err)
		}
	}
	return nil
}
