package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const creditKeyPrefix = "entitlements:credits:"

// CachedCreditSignal keeps the credit answer in Redis for a short TTL and
// falls back to the source when the cache is empty or unreachable.
type CachedCreditSignal struct {
	rdb    *redis.Client
	source CreditSignal
	ttl    time.Duration
}

func NewCachedCreditSignal(rdb *redis.Client, source CreditSignal, ttl time.Duration) *CachedCreditSignal {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedCreditSignal{rdb: rdb, source: source, ttl: ttl}
}

func (s *CachedCreditSignal) HasActiveCredits(ctx context.Context, accountID string) (bool, error) {
	key := creditKeyPrefix + accountID
	if s.rdb != nil {
		val, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			return val == "1", nil
		case !errors.Is(err, redis.Nil):
			log.Warnf("[EntitlementGate] Credit cache read failed: %v", err)
		}
	}

	ok, err := s.source.HasActiveCredits(ctx, accountID)
	if err != nil {
		return false, err
	}
	if s.rdb != nil {
		val := "0"
		if ok {
			val = "1"
		}
		if err := s.rdb.Set(ctx, key, val, s.ttl).Err(); err != nil {
			log.Warnf("[EntitlementGate] Credit cache write failed: %v", err)
		}
	}
	return ok, nil
}

// Invalidate drops the cached answer, e.g. after credits were granted.
func (s *CachedCreditSignal) Invalidate(ctx context.Context, accountID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, creditKeyPrefix+accountID).Err(); err != nil {
		log.Warnf("[EntitlementGate] Credit cache invalidate failed: %v", err)
	}
}
