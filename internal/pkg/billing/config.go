package billing

import "github.com/ManuelReschke/BundleFox/internal/pkg/env"

// DefaultDeltaThreshold is the relative overage growth that warrants a new event.
const DefaultDeltaThreshold = 0.01

// DefaultUnpricedCreditsPerUnit is charged per overage unit of a metric
// without a matching credit pricing step.
const DefaultUnpricedCreditsPerUnit = 1.0

type Config struct {
	DeltaThreshold         float64
	UnpricedCreditsPerUnit float64
}

func DefaultConfig() Config {
	return Config{
		DeltaThreshold:         DefaultDeltaThreshold,
		UnpricedCreditsPerUnit: DefaultUnpricedCreditsPerUnit,
	}
}

// LoadConfig reads OVERAGE_DELTA_THRESHOLD and OVERAGE_UNPRICED_CREDITS_PER_UNIT.
func LoadConfig() Config {
	return Config{
		DeltaThreshold:         env.GetEnvFloat("OVERAGE_DELTA_THRESHOLD", DefaultDeltaThreshold),
		UnpricedCreditsPerUnit: env.GetEnvFloat("OVERAGE_UNPRICED_CREDITS_PER_UNIT", DefaultUnpricedCreditsPerUnit),
	}
}
