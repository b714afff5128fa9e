package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BundleFox/internal/pkg/testutil"
)

func TestAllow_FixedWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		burst int
	}{
		{name: "default burst", burst: 1},
		{name: "larger burst", burst: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mr, rdb := testutil.NewRedis(t)
			l := New(rdb, Config{Burst: tt.burst, Window: time.Second})
			ctx := context.Background()
			key := Key{AppID: "com.demo.app", DeviceID: "device-1"}

			for i := 0; i < tt.burst; i++ {
				assert.True(t, l.Allow(ctx, key, OpChannelGet), "request %d", i+1)
			}
			assert.False(t, l.Allow(ctx, key, OpChannelGet), "request over the burst")

			// Other operations and devices have their own windows.
			assert.True(t, l.Allow(ctx, key, OpChannelList))
			assert.True(t, l.Allow(ctx, Key{AppID: "com.demo.app", DeviceID: "device-2"}, OpChannelGet))

			mr.FastForward(time.Second)
			assert.True(t, l.Allow(ctx, key, OpChannelGet), "allowed again after the window")
		})
	}
}

func TestAllow_CounterWithoutTTLExpires(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()
	key := Key{AppID: "com.demo.app", DeviceID: "device-1"}

	// A counter left behind without a window.
	rateKey := "rate:" + OpChannelGet + ":" + key.String()
	require.NoError(t, mr.Set(rateKey, "7"))
	require.Zero(t, mr.TTL(rateKey))

	assert.False(t, l.Allow(ctx, key, OpChannelGet))
	assert.Equal(t, DefaultWindow, mr.TTL(rateKey))

	mr.FastForward(DefaultWindow)
	assert.True(t, l.Allow(ctx, key, OpChannelGet))
}

func TestAllowChannelSet_Cooldown(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()
	key := Key{AppID: "com.demo.app", DeviceID: "device-1"}

	assert.True(t, l.AllowChannelSet(ctx, key, "beta"))
	assert.False(t, l.AllowChannelSet(ctx, key, "beta"))
	assert.True(t, l.AllowChannelSet(ctx, key, "alpha"), "cooldown is per channel")

	mr.FastForward(DefaultChannelCooldown)
	assert.True(t, l.AllowChannelSet(ctx, key, "beta"))
}

func TestLimiter_FailsOpen(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewRedis(t)
	l := New(rdb, DefaultConfig())
	key := Key{AppID: "com.demo.app", DeviceID: "device-1"}
	mr.Close()

	ctx := context.Background()
	assert.True(t, l.Allow(ctx, key, OpChannelSet))
	assert.True(t, l.Allow(ctx, key, OpChannelSet))
	assert.True(t, l.AllowChannelSet(ctx, key, "beta"))

	var unset *Limiter
	assert.True(t, unset.Allow(ctx, key, OpChannelSet))
}
