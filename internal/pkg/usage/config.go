package usage

import (
	"time"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

const (
	DefaultRecomputeInterval = time.Hour
	DefaultIOSMultiplier     = 2.0
	DefaultAndroidMultiplier = 1.0
)

type Config struct {
	// RecomputeInterval is the minimum age of a result before it is recomputed.
	RecomputeInterval time.Duration
	IOSMultiplier     float64
	AndroidMultiplier float64
}

func DefaultConfig() Config {
	return Config{
		RecomputeInterval: DefaultRecomputeInterval,
		IOSMultiplier:     DefaultIOSMultiplier,
		AndroidMultiplier: DefaultAndroidMultiplier,
	}
}

// LoadConfig reads USAGE_RECOMPUTE_INTERVAL and the BUILD_TIME_MULTIPLIER_* settings.
func LoadConfig() Config {
	return Config{
		RecomputeInterval: env.GetEnvDuration("USAGE_RECOMPUTE_INTERVAL", DefaultRecomputeInterval),
		IOSMultiplier:     env.GetEnvFloat("BUILD_TIME_MULTIPLIER_IOS", DefaultIOSMultiplier),
		AndroidMultiplier: env.GetEnvFloat("BUILD_TIME_MULTIPLIER_ANDROID", DefaultAndroidMultiplier),
	}
}
