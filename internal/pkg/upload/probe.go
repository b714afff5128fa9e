package upload

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

const (
	DefaultProbeRedirects = 3
	DefaultProbeTimeout   = 10 * time.Second
)

var (
	ErrUnreachable = errors.New("bundle url is not reachable")
	ErrNotArchive  = errors.New("bundle url does not serve a zip archive")
)

// Content types storage providers use for zip archives.
var archiveTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip":            true,
	"application/x-zip-compressed": true,
}

// ProbeConfig bounds the HEAD request sent to an external bundle URL.
type ProbeConfig struct {
	MaxRedirects int
	Timeout      time.Duration
	TLSConfig    *tls.Config
}

// LoadProbeConfig reads BUNDLE_URL_MAX_REDIRECTS and BUNDLE_URL_PROBE_TIMEOUT.
func LoadProbeConfig() ProbeConfig {
	return ProbeConfig{
		MaxRedirects: env.GetEnvInt("BUNDLE_URL_MAX_REDIRECTS", DefaultProbeRedirects),
		Timeout:      env.GetEnvDuration("BUNDLE_URL_PROBE_TIMEOUT", DefaultProbeTimeout),
	}
}

// Prober checks that an external bundle URL answers with an archive.
type Prober struct {
	cfg ProbeConfig
}

func NewProber(cfg ProbeConfig) *Prober {
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = DefaultProbeRedirects
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	return &Prober{cfg: cfg}
}

// Probe sends a HEAD request, following at most MaxRedirects redirects.
func (p *Prober) Probe(ctx context.Context, raw string) error {
	_ = ctx
	if err := ValidateExternalURL(raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)

	a := fiber.Head(raw)
	if err := a.Parse(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	// Agent.Timeout disables redirect following, so bound the connection instead.
	a.ReadTimeout = p.cfg.Timeout
	a.WriteTimeout = p.cfg.Timeout
	a.MaxRedirectsCount(p.cfg.MaxRedirects)
	if p.cfg.TLSConfig != nil {
		a.TLSConfig(p.cfg.TLSConfig)
	}
	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	a.SetResponse(resp)

	code, _, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrUnreachable, errs[0])
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrUnreachable, code)
	}
	if !IsArchive(string(resp.Header.ContentType()), raw) {
		return ErrNotArchive
	}
	return nil
}

// IsArchive accepts a zip content type, or a generic binary type on a .zip path.
func IsArchive(contentType, rawURL string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if archiveTypes[ct] {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(path.Ext(u.Path), ".zip") {
		return false
	}
	return ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream"
}
