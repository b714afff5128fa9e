package bundlestore

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		BucketName:      "bundles",
		EndpointURL:     "http://localhost:9000",
		Enabled:         true,
	}
}

func TestLoadConfig_RequiresCredentialsWhenEnabled(t *testing.T) {
	t.Setenv("S3_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "bundles")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "bundles", cfg.BucketName)
}

func TestNewClient_Disabled(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestPresignGet(t *testing.T) {
	t.Parallel()

	c, err := NewClient(context.Background(), testConfig())
	require.NoError(t, err)

	raw, err := c.PresignGet(context.Background(), ArchiveKey("com.demo.app", "1.2.3"), 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/bundles/apps/com.demo.app/bundles/1.2.3.zip", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestKeys(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "apps/a/bundles/1.0.0.zip", ArchiveKey("a", "1.0.0"))
	assert.Equal(t, "apps/a/files/abcdef", ManifestKey("a", "ABCDEF"))
}
