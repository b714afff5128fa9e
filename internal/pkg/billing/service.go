package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
)

var (
	ErrInvalidOverage = errors.New("invalid overage request")
	ErrInvalidGrant   = errors.New("invalid credit grant")
)

// Service is the overage and credit ledger.
type Service struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

// NewService creates a ledger from an injected repository.
func NewService(repo Repository, cfg Config) *Service {
	if cfg.DeltaThreshold < 0 {
		cfg.DeltaThreshold = DefaultDeltaThreshold
	}
	if cfg.UnpricedCreditsPerUnit <= 0 {
		cfg.UnpricedCreditsPerUnit = DefaultUnpricedCreditsPerUnit
	}
	return &Service{repo: repo, cfg: cfg, now: time.Now}
}

// NewServiceFromDB creates a ledger from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), LoadConfig())
}

// OverageRequest reports usage above the plan limit for one metric and cycle.
type OverageRequest struct {
	AccountID     string
	Metric        models.UsageMetric
	CycleStart    time.Time
	CycleEnd      time.Time
	OverageAmount float64
	Details       map[string]interface{}
}

// OverageResult describes the episode after the call. CreditsApplied only
// counts credits debited by this call.
type OverageResult struct {
	OverageEventID   string  `json:"overage_event_id"`
	CreditStepID     *uint   `json:"credit_step_id,omitempty"`
	CreditsRequired  float64 `json:"credits_required"`
	CreditsApplied   float64 `json:"credits_applied"`
	CreditsRemaining float64 `json:"credits_remaining"`
	OverageCovered   float64 `json:"overage_covered"`
	OverageUnpaid    float64 `json:"overage_unpaid"`
	Created          bool    `json:"created"`
}

func (r OverageRequest) validate() error {
	switch {
	case strings.TrimSpace(r.AccountID) == "":
		return fmt.Errorf("%w: account_id is required", ErrInvalidOverage)
	case !r.Metric.IsValid():
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidOverage, r.Metric)
	case r.CycleStart.IsZero() || !r.CycleEnd.After(r.CycleStart):
		return fmt.Errorf("%w: invalid billing cycle", ErrInvalidOverage)
	case r.OverageAmount < 0 || math.IsNaN(r.OverageAmount) || math.IsInf(r.OverageAmount, 0):
		return fmt.Errorf("%w: invalid overage amount", ErrInvalidOverage)
	}
	return nil
}

// ApplyOverage records an overage and debits available credits. Repeated calls
// for the same tuple are idempotent unless the amount grew beyond the delta
// threshold or owed credits can now be paid.
func (s *Service) ApplyOverage(ctx context.Context, req OverageRequest) (*OverageResult, error) {
	_ = ctx
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := EpisodeKey{
		AccountID:  req.AccountID,
		Metric:     req.Metric,
		CycleStart: req.CycleStart.UTC().Truncate(time.Second),
		CycleEnd:   req.CycleEnd.UTC().Truncate(time.Second),
	}
	now := s.now()

	var result *OverageResult
	err := s.repo.Transaction(func(repo Repository) error {
		ep, err := repo.LockEpisode(key)
		if err != nil {
			return fmt.Errorf("lock episode: %w", err)
		}
		step, err := repo.FindPricingStep(req.Metric, req.OverageAmount)
		if err != nil {
			return fmt.Errorf("find pricing step: %w", err)
		}
		required := req.OverageAmount * s.cfg.UnpricedCreditsPerUnit
		var stepID *uint
		if step != nil {
			required = step.Credits(req.OverageAmount)
			stepID = &step.ID
		}

		grants, err := repo.ActiveGrants(req.AccountID, now)
		if err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		available := 0.0
		for i := range grants {
			available += grants[i].Remaining()
		}

		if ep.HasEvent() && !s.shouldAppend(ep, req.OverageAmount, available) {
			result = &OverageResult{
				OverageEventID:   ep.LastEventID,
				CreditStepID:     stepID,
				CreditsRequired:  ep.CreditsRequired,
				CreditsRemaining: available,
				Created:          false,
			}
			result.OverageCovered, result.OverageUnpaid = coverage(math.Max(ep.LastOverageAmount, req.OverageAmount), ep.CreditsRequired, ep.CreditsDebited)
			return nil
		}

		totalRequired := math.Max(ep.CreditsRequired, required)
		ev := &models.UsageOverageEvent{
			ID:                uuid.New().String(),
			AccountID:         req.AccountID,
			Metric:            req.Metric,
			BillingCycleStart: key.CycleStart,
			BillingCycleEnd:   key.CycleEnd,
			OverageAmount:     req.OverageAmount,
			CreditsEstimated:  totalRequired - ep.CreditsRequired,
			CreditStepID:      stepID,
			Details:           datatypes.JSONMap(eventDetails(req, totalRequired)),
		}
		applied, err := consume(repo, grants, ev, totalRequired-ep.CreditsDebited, now)
		if err != nil {
			return err
		}
		ev.CreditsDebited = applied
		if err := repo.CreateEvent(ev); err != nil {
			return fmt.Errorf("create event: %w", err)
		}

		ep.LastEventID = ev.ID
		ep.LastOverageAmount = math.Max(ep.LastOverageAmount, req.OverageAmount)
		ep.CreditsRequired = totalRequired
		ep.CreditsDebited += applied
		ep.EventCount++
		if err := repo.SaveEpisode(ep); err != nil {
			return fmt.Errorf("save episode: %w", err)
		}

		result = &OverageResult{
			OverageEventID:   ev.ID,
			CreditStepID:     stepID,
			CreditsRequired:  totalRequired,
			CreditsApplied:   applied,
			CreditsRemaining: available - applied,
			Created:          true,
		}
		result.OverageCovered, result.OverageUnpaid = coverage(ep.LastOverageAmount, ep.CreditsRequired, ep.CreditsDebited)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Created {
		log.Infof("[Ledger] Overage event %s for %s/%s: amount=%.2f required=%.4f applied=%.4f",
			result.OverageEventID, req.AccountID, req.Metric, req.OverageAmount, result.CreditsRequired, result.CreditsApplied)
	}
	return result, nil
}

func (s *Service) shouldAppend(ep *models.OverageEpisode, amount, available float64) bool {
	if amount > ep.LastOverageAmount*(1+s.cfg.DeltaThreshold) {
		return true
	}
	return ep.Outstanding() > 0 && available > 0
}

// consume debits up to need credits from grants in order and records each debit.
func consume(repo Repository, grants []models.UsageCreditGrant, ev *models.UsageOverageEvent, need float64, now time.Time) (float64, error) {
	applied := 0.0
	for i := range grants {
		if need-applied <= consumeEpsilon {
			break
		}
		take := math.Min(need-applied, grants[i].Remaining())
		if take <= 0 {
			continue
		}
		ok, err := repo.ConsumeGrant(grants[i].ID, take)
		if err != nil {
			return 0, fmt.Errorf("consume grant %s: %w", grants[i].ID, err)
		}
		if !ok {
			// Drained concurrently; move on to the next grant
			continue
		}
		if err := repo.CreateConsumption(&models.UsageCreditConsumption{
			GrantID:        grants[i].ID,
			AccountID:      ev.AccountID,
			OverageEventID: ev.ID,
			Metric:         ev.Metric,
			CreditsUsed:    take,
			AppliedAt:      now,
		}); err != nil {
			return 0, fmt.Errorf("record consumption: %w", err)
		}
		applied += take
	}
	return applied, nil
}

// coverage splits an overage amount into the part paid by credits and the rest.
func coverage(amount, required, debited float64) (covered, unpaid float64) {
	if required <= 0 {
		return 0, amount
	}
	ratio := math.Min(debited/required, 1)
	covered = amount * ratio
	return covered, amount - covered
}

func eventDetails(req OverageRequest, required float64) map[string]interface{} {
	d := make(map[string]interface{}, len(req.Details)+2)
	for k, v := range req.Details {
		d[k] = v
	}
	d["overage_amount"] = req.OverageAmount
	d["credits_required_total"] = required
	return d
}

// GrantRequest adds prepaid credits to an account.
type GrantRequest struct {
	AccountID string    `json:"account_id" validate:"required"`
	Credits   float64   `json:"credits" validate:"gt=0"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
	Source    string    `json:"source"`
	SourceRef string    `json:"source_ref"`
}

// GrantCredits stores a grant. A repeated SourceRef returns the existing grant.
func (s *Service) GrantCredits(ctx context.Context, req GrantRequest) (*models.UsageCreditGrant, bool, error) {
	_ = ctx
	now := s.now()
	if strings.TrimSpace(req.AccountID) == "" || req.Credits <= 0 || !req.ExpiresAt.After(now) {
		return nil, false, ErrInvalidGrant
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "manual"
	}
	ref := strings.TrimSpace(req.SourceRef)
	if ref != "" {
		existing, err := s.repo.FindGrantBySourceRef(req.AccountID, source, ref)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	g := &models.UsageCreditGrant{
		AccountID:    req.AccountID,
		CreditsTotal: req.Credits,
		GrantedAt:    now,
		ExpiresAt:    req.ExpiresAt,
		Source:       source,
		SourceRef:    ref,
	}
	if err := s.repo.CreateGrant(g); err != nil {
		return nil, false, err
	}
	log.Infof("[Ledger] Granted %.2f credits to %s (source=%s)", g.CreditsTotal, g.AccountID, g.Source)
	return g, true, nil
}

// Balance summarizes the unexpired grants of an account.
type Balance struct {
	Total     float64 `json:"total"`
	Consumed  float64 `json:"consumed"`
	Available float64 `json:"available"`
	Grants    int     `json:"grants"`
}

func (s *Service) CreditBalance(ctx context.Context, accountID string) (*Balance, error) {
	_ = ctx
	grants, err := s.repo.ActiveGrants(accountID, s.now())
	if err != nil {
		return nil, err
	}
	b := &Balance{Grants: len(grants)}
	for i := range grants {
		b.Total += grants[i].CreditsTotal
		b.Consumed += grants[i].CreditsConsumed
		b.Available += grants[i].Remaining()
	}
	return b, nil
}

// HasActiveCredits reports whether any unexpired grant has credits left.
func (s *Service) HasActiveCredits(ctx context.Context, accountID string) (bool, error) {
	b, err := s.CreditBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return b.Available > consumeEpsilon, nil
}

// ListEvents returns the newest overage events of an account.
func (s *Service) ListEvents(ctx context.Context, accountID string, limit int) ([]models.UsageOverageEvent, error) {
	_ = ctx
	return s.repo.ListEvents(accountID, limit)
}
