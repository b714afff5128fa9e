package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageCreditGrant is a prepaid allowance that offsets overage billing.
type UsageCreditGrant struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID       string    `gorm:"type:varchar(36);not null;index:idx_credit_grants_account_expiry,priority:1" json:"account_id"`
	CreditsTotal    float64   `gorm:"not null" json:"credits_total"`
	CreditsConsumed float64   `gorm:"not null;default:0" json:"credits_consumed"`
	GrantedAt       time.Time `gorm:"type:timestamp;not null" json:"granted_at"`
	ExpiresAt       time.Time `gorm:"type:timestamp;not null;index:idx_credit_grants_account_expiry,priority:2" json:"expires_at"`
	Source          string    `gorm:"type:varchar(50);not null;default:'manual'" json:"source"`
	SourceRef       string    `gorm:"type:varchar(191);not null;default:''" json:"source_ref"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (g *UsageCreditGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

// Remaining returns the unconsumed credits of the grant.
func (g *UsageCreditGrant) Remaining() float64 {
	r := g.CreditsTotal - g.CreditsConsumed
	if r < 0 {
		return 0
	}
	return r
}

// UsageCreditConsumption records credits taken from one grant for one overage event.
type UsageCreditConsumption struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	GrantID        string      `gorm:"type:varchar(36);not null;index" json:"grant_id"`
	AccountID      string      `gorm:"type:varchar(36);not null;index" json:"account_id"`
	OverageEventID string      `gorm:"type:varchar(36);not null;index" json:"overage_event_id"`
	Metric         UsageMetric `gorm:"type:varchar(20);not null" json:"metric"`
	CreditsUsed    float64     `gorm:"not null" json:"credits_used"`
	AppliedAt      time.Time   `gorm:"type:timestamp;not null" json:"applied_at"`
}

// CreditPricingStep prices an overage range of a metric in credits.
// StepMax == 0 means the step is open ended.
type CreditPricingStep struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Metric       UsageMetric `gorm:"type:varchar(20);not null;index" json:"metric"`
	StepMin      float64     `gorm:"not null;default:0" json:"step_min"`
	StepMax      float64     `gorm:"not null;default:0" json:"step_max"`
	PricePerUnit float64     `gorm:"not null" json:"price_per_unit"`
	UnitFactor   float64     `gorm:"not null;default:1" json:"unit_factor"`
}

// Contains reports whether amount falls into the step.
func (s *CreditPricingStep) Contains(amount float64) bool {
	if amount < s.StepMin {
		return false
	}
	return s.StepMax == 0 || amount < s.StepMax
}

// Credits prices amount units.
func (s *CreditPricingStep) Credits(amount float64) float64 {
	factor := s.UnitFactor
	if factor <= 0 {
		factor = 1
	}
	return amount / factor * s.PricePerUnit
}
