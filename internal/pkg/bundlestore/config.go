package bundlestore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

// Config holds the object storage configuration for bundle archives and manifest files
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("S3_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if object storage is configured
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ArchiveKey is the object key of a bundle's full archive.
// Format: apps/<app_id>/bundles/<name>.zip
func ArchiveKey(appID, bundleName string) string {
	return fmt.Sprintf("apps/%s/bundles/%s.zip", appID, bundleName)
}

// ManifestKey is the object key of a single manifest file, addressed by its hash.
func ManifestKey(appID, fileHash string) string {
	return fmt.Sprintf("apps/%s/files/%s", appID, strings.ToLower(fileHash))
}
