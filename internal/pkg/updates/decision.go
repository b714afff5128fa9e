package updates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

// ErrCannotGetBundle means the bundle has no deliverable artifact.
var ErrCannotGetBundle = errors.New("cannot_get_bundle")

// URLSigner issues time-limited download URLs for stored objects.
type URLSigner interface {
	PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

type ManifestFile struct {
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
	FileHash    string `json:"file_hash"`
	FileSize    int64  `json:"file_size"`
}

// Decision is what a device downloads: either a manifest or a full archive.
type Decision struct {
	Version  string
	Checksum string
	URL      string
	Manifest []ManifestFile
	// Bytes served from our own storage, counted as bandwidth.
	BandwidthBytes int64
}

func (d *Decision) IsManifest() bool {
	return len(d.Manifest) > 0
}

// Engine turns a resolved bundle into download instructions.
type Engine struct {
	signer URLSigner
	cfg    Config
}

func NewEngine(signer URLSigner, cfg Config) *Engine {
	if cfg.MinManifestPluginVersion == nil {
		cfg.MinManifestPluginVersion = semver.MustParse(DefaultMinManifestPluginVersion)
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	return &Engine{signer: signer, cfg: cfg}
}

// SupportsManifest reports whether a client at pluginVersion can apply manifest diffs.
func (e *Engine) SupportsManifest(pluginVersion *semver.Version) bool {
	return pluginVersion != nil && !pluginVersion.LessThan(e.cfg.MinManifestPluginVersion)
}

func (e *Engine) Decide(ctx context.Context, bundle *models.Bundle, pluginVersion *semver.Version) (*Decision, error) {
	if bundle == nil {
		return nil, ErrCannotGetBundle
	}
	if bundle.HasManifest() && e.SupportsManifest(pluginVersion) {
		return e.manifest(ctx, bundle)
	}
	if bundle.HasArchive() {
		return e.archive(ctx, bundle)
	}
	return nil, ErrCannotGetBundle
}

func (e *Engine) manifest(ctx context.Context, bundle *models.Bundle) (*Decision, error) {
	d := &Decision{Version: bundle.Name, Checksum: bundle.Checksum}
	d.Manifest = make([]ManifestFile, 0, len(bundle.Manifest))
	for _, entry := range bundle.Manifest {
		u, err := e.sign(ctx, entry.StoragePath)
		if err != nil {
			return nil, err
		}
		d.Manifest = append(d.Manifest, ManifestFile{
			FileName:    entry.FileName,
			DownloadURL: u,
			FileHash:    entry.FileHash,
			FileSize:    entry.FileSize,
		})
		d.BandwidthBytes += entry.FileSize
	}
	return d, nil
}

func (e *Engine) archive(ctx context.Context, bundle *models.Bundle) (*Decision, error) {
	d := &Decision{Version: bundle.Name, Checksum: bundle.Checksum}
	if bundle.ExternalURL != "" {
		d.URL = bundle.ExternalURL
		return d, nil
	}
	u, err := e.sign(ctx, bundle.StoragePath)
	if err != nil {
		return nil, err
	}
	d.URL = u
	d.BandwidthBytes = bundle.Size
	return d, nil
}

func (e *Engine) sign(ctx context.Context, key string) (string, error) {
	if e.signer == nil || key == "" {
		return "", ErrCannotGetBundle
	}
	u, err := e.signer.PresignGet(ctx, key, e.cfg.URLTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCannotGetBundle, err)
	}
	return u, nil
}
