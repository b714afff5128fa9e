package updates

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

const (
	DefaultMinManifestPluginVersion = "6.2.0"
	DefaultURLTTL                   = 10 * time.Minute
	// DefaultPluginVersion is assumed for clients that do not report one.
	DefaultPluginVersion = "2.3.3"
)

// Config holds the update delivery policy.
type Config struct {
	// MinManifestPluginVersion is the lowest client that understands manifest diffs.
	MinManifestPluginVersion *semver.Version
	URLTTL                   time.Duration
}

// DefaultConfig returns the built in policy.
func DefaultConfig() Config {
	return Config{
		MinManifestPluginVersion: semver.MustParse(DefaultMinManifestPluginVersion),
		URLTTL:                   DefaultURLTTL,
	}
}

// LoadConfig reads MANIFEST_MIN_PLUGIN_VERSION and UPDATE_URL_TTL.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if raw := env.GetEnv("MANIFEST_MIN_PLUGIN_VERSION", ""); raw != "" {
		v, err := semver.Validate(raw)
		if err != nil {
			log.Warnf("[Updates] Ignoring MANIFEST_MIN_PLUGIN_VERSION=%q: %v", raw, err)
		} else {
			cfg.MinManifestPluginVersion = v
		}
	}
	cfg.URLTTL = env.GetEnvDuration("UPDATE_URL_TTL", DefaultURLTTL)
	return cfg
}
