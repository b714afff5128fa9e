// Package services assembles the domain services on top of one database and
// one Redis client.
package services

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/controllers"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/bundlestore"
	"github.com/ManuelReschke/BundleFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BundleFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/BundleFox/internal/pkg/resolver"
	"github.com/ManuelReschke/BundleFox/internal/pkg/updates"
	"github.com/ManuelReschke/BundleFox/internal/pkg/upload"
	"github.com/ManuelReschke/BundleFox/internal/pkg/usage"
)

type Config struct {
	Queue          jobqueue.Config
	Usage          usage.Config
	Updates        updates.Config
	RateLimit      ratelimit.Config
	Ledger         billing.Config
	CreditCacheTTL time.Duration
	// ProbeBundleURLs sends a HEAD request to external bundle URLs on publish.
	ProbeBundleURLs bool
	Probe           upload.ProbeConfig
}

func DefaultConfig() Config {
	return Config{
		Queue:          jobqueue.DefaultConfig(),
		Usage:          usage.DefaultConfig(),
		Updates:        updates.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Ledger:         billing.DefaultConfig(),
		CreditCacheTTL: 30 * time.Second,
	}
}

// LoadConfig reads every package's settings from the environment.
func LoadConfig() Config {
	return Config{
		Queue:           jobqueue.LoadConfig(),
		Usage:           usage.LoadConfig(),
		Updates:         updates.LoadConfig(),
		RateLimit:       ratelimit.LoadConfig(),
		Ledger:          billing.LoadConfig(),
		CreditCacheTTL:  env.GetEnvDuration("CREDIT_CACHE_TTL", 30*time.Second),
		ProbeBundleURLs: env.GetEnvBool("BUNDLE_URL_PROBE", true),
		Probe:           upload.LoadProbeConfig(),
	}
}

// Services holds the wired domain services.
type Services struct {
	Repos      *repository.Repositories
	Ledger     *billing.Service
	Queue      *jobqueue.Queue
	Counters   *counter.Counters
	Aggregator *usage.Aggregator
	Credits    *entitlements.CachedCreditSignal
	Gate       *entitlements.Gate
	Updates    *updates.Service
	Limiter    *ratelimit.Limiter
	Store      *bundlestore.Client
	Prober     *upload.Prober
}

// New wires the services. store may be nil when object storage is disabled;
// bundles hosted there then answer cannot_get_bundle.
func New(db *gorm.DB, rdb *redis.Client, store *bundlestore.Client, cfg Config) *Services {
	s := &Services{
		Repos:    repository.NewRepositories(db),
		Ledger:   billing.NewService(billing.NewRepository(db), cfg.Ledger),
		Queue:    jobqueue.NewQueue(rdb, cfg.Queue),
		Counters: counter.New(rdb, db),
		Limiter:  ratelimit.New(rdb, cfg.RateLimit),
		Store:    store,
	}
	if cfg.ProbeBundleURLs {
		s.Prober = upload.NewProber(cfg.Probe)
	}
	s.Aggregator = usage.NewAggregator(db, s.Counters, s.Ledger, s.Queue, cfg.Usage)
	s.Aggregator.RegisterHandlers(s.Queue)

	s.Credits = entitlements.NewCachedCreditSignal(rdb, s.Ledger, cfg.CreditCacheTTL)
	s.Gate = entitlements.NewGate(s.Repos.Account, s.Credits)

	var signer updates.URLSigner
	if store != nil {
		signer = store
	}
	s.Updates = updates.NewService(
		s.Repos.App,
		s.Gate,
		resolver.NewFromRepositories(s.Repos),
		updates.NewEngine(signer, cfg.Updates),
		s.Aggregator,
	)
	return s
}

// Dependencies returns what the HTTP controllers need.
func (s *Services) Dependencies() controllers.Dependencies {
	deps := controllers.Dependencies{
		Repos:      s.Repos,
		Updates:    s.Updates,
		Limiter:    s.Limiter,
		Aggregator: s.Aggregator,
		Queue:      s.Queue,
		Ledger:     s.Ledger,
		Credits:    s.Credits,
	}
	if s.Store != nil {
		deps.Store = s.Store
	}
	if s.Prober != nil {
		deps.Probe = s.Prober
	}
	return deps
}
