package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UsageOverageEvent is an append-only billing record for usage above a plan limit.
type UsageOverageEvent struct {
	ID                string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID         string            `gorm:"type:varchar(36);not null;index:idx_overage_events_tuple,priority:1" json:"account_id"`
	Metric            UsageMetric       `gorm:"type:varchar(20);not null;index:idx_overage_events_tuple,priority:2" json:"metric"`
	BillingCycleStart time.Time         `gorm:"type:timestamp;not null;index:idx_overage_events_tuple,priority:3" json:"billing_cycle_start"`
	BillingCycleEnd   time.Time         `gorm:"type:timestamp;not null" json:"billing_cycle_end"`
	OverageAmount     float64           `gorm:"not null" json:"overage_amount"`
	CreditsEstimated  float64           `gorm:"not null;default:0" json:"credits_estimated"`
	CreditsDebited    float64           `gorm:"not null;default:0" json:"credits_debited"`
	CreditStepID      *uint             `json:"credit_step_id,omitempty"`
	Details           datatypes.JSONMap `json:"details"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (e *UsageOverageEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// OverageEpisode tracks the billed state of one (account, metric, cycle)
// tuple. Its row is locked while the ledger decides whether to append an event.
type OverageEpisode struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	AccountID         string      `gorm:"type:varchar(36);not null;index:ux_overage_episodes,unique,priority:1" json:"account_id"`
	Metric            UsageMetric `gorm:"type:varchar(20);not null;index:ux_overage_episodes,unique,priority:2" json:"metric"`
	CycleStart        time.Time   `gorm:"type:timestamp;not null;index:ux_overage_episodes,unique,priority:3" json:"cycle_start"`
	CycleEnd          time.Time   `gorm:"type:timestamp;not null;index:ux_overage_episodes,unique,priority:4" json:"cycle_end"`
	LastEventID       string      `gorm:"type:varchar(36);not null;default:''" json:"last_event_id"`
	LastOverageAmount float64     `gorm:"not null;default:0" json:"last_overage_amount"`
	CreditsRequired   float64     `gorm:"not null;default:0" json:"credits_required"`
	CreditsDebited    float64     `gorm:"not null;default:0" json:"credits_debited"`
	EventCount        int         `gorm:"not null;default:0" json:"event_count"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasEvent reports whether the episode already produced a billing event.
func (e *OverageEpisode) HasEvent() bool {
	return e.EventCount > 0
}

// Outstanding returns the credits still owed for the episode.
func (e *OverageEpisode) Outstanding() float64 {
	o := e.CreditsRequired - e.CreditsDebited
	if o < 1e-9 {
		return 0
	}
	return o
}
