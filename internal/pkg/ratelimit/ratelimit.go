// Package ratelimit throttles device requests with Redis fixed windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

const (
	DefaultBurst           = 1
	DefaultWindow          = time.Second
	DefaultChannelCooldown = 60 * time.Second

	keyPrefix = "rate:"
)

// incrScript counts a request and makes sure the window key expires, also
// when an earlier call left it without a TTL.
const incrScript = `
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

// Operations limited per device.
const (
	OpChannelSet    = "channel_set"
	OpChannelGet    = "channel_get"
	OpChannelDelete = "channel_delete"
	OpChannelList   = "channel_list"
)

type Config struct {
	// Burst is the number of requests allowed per window and operation.
	Burst  int
	Window time.Duration
	// ChannelCooldown blocks setting the same channel again.
	ChannelCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{Burst: DefaultBurst, Window: DefaultWindow, ChannelCooldown: DefaultChannelCooldown}
}

// LoadConfig reads RATE_LIMIT_BURST, RATE_LIMIT_WINDOW and CHANNEL_SET_COOLDOWN.
func LoadConfig() Config {
	return Config{
		Burst:           env.GetEnvInt("RATE_LIMIT_BURST", DefaultBurst),
		Window:          env.GetEnvDuration("RATE_LIMIT_WINDOW", DefaultWindow),
		ChannelCooldown: env.GetEnvDuration("CHANNEL_SET_COOLDOWN", DefaultChannelCooldown),
	}
}

// Key identifies the device a limit applies to.
type Key struct {
	AppID    string
	DeviceID string
}

func (k Key) String() string {
	return k.AppID + ":" + k.DeviceID
}

// Limiter counts requests in Redis. Counters are shared by all instances and
// only eventually consistent; when Redis fails every request is allowed.
type Limiter struct {
	rdb *redis.Client
	cfg Config
}

func New(rdb *redis.Client, cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ChannelCooldown <= 0 {
		cfg.ChannelCooldown = DefaultChannelCooldown
	}
	return &Limiter{rdb: rdb, cfg: cfg}
}

// Allow reports whether the device may perform op in the current window.
func (l *Limiter) Allow(ctx context.Context, key Key, op string) bool {
	if l == nil || l.rdb == nil {
		return true
	}
	rateKey := fmt.Sprintf("%s%s:%s", keyPrefix, op, key)
	n, err := l.rdb.Eval(ctx, incrScript, []string{rateKey}, l.cfg.Window.Milliseconds()).Int64()
	if err != nil {
		log.Warnf("[RateLimit] Counter unavailable for %s, allowing: %v", rateKey, err)
		return true
	}
	return n <= int64(l.cfg.Burst)
}

// AllowChannelSet reports whether the device may set channel again. The
// first call starts the cooldown.
func (l *Limiter) AllowChannelSet(ctx context.Context, key Key, channel string) bool {
	if l == nil || l.rdb == nil {
		return true
	}
	cooldownKey := fmt.Sprintf("%s%s:%s:%s", keyPrefix, OpChannelSet, key, channel)
	ok, err := l.rdb.SetNX(ctx, cooldownKey, 1, l.cfg.ChannelCooldown).Result()
	if err != nil {
		log.Warnf("[RateLimit] Cooldown unavailable for %s, allowing: %v", cooldownKey, err)
		return true
	}
	return ok
}
