package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the billing owner of one or more apps.
type Account struct {
	ID                 string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name               string     `gorm:"type:varchar(191);not null;default:''" json:"name"`
	PlanID             *uint      `gorm:"index" json:"plan_id,omitempty"`
	Plan               *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	OnPremise          bool       `json:"on_premise"`
	BillingCycleAnchor time.Time  `gorm:"type:timestamp" json:"billing_cycle_anchor"`
	TrialEndsAt        *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// InTrial reports whether the account is still inside its trial period.
func (a *Account) InTrial(now time.Time) bool {
	return a.TrialEndsAt != nil && now.Before(*a.TrialEndsAt)
}

// Plan holds the metered limits of a subscription tier. A zero limit means unlimited.
type Plan struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"name"`
	MAU              int64     `gorm:"column:mau;not null;default:0" json:"mau"`
	StorageBytes     int64     `gorm:"not null;default:0" json:"storage_bytes"`
	BandwidthBytes   int64     `gorm:"not null;default:0" json:"bandwidth_bytes"`
	BuildTimeSeconds int64     `gorm:"not null;default:0" json:"build_time_seconds"`
	PriceMonthly     float64   `gorm:"not null;default:0" json:"price_monthly"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Limit returns the plan limit for a metric.
func (p *Plan) Limit(metric UsageMetric) int64 {
	switch metric {
	case MetricMAU:
		return p.MAU
	case MetricStorage:
		return p.StorageBytes
	case MetricBandwidth:
		return p.BandwidthBytes
	case MetricBuildTime:
		return p.BuildTimeSeconds
	default:
		return 0
	}
}

// AccountUsageState caches the outcome of the last usage recomputation.
type AccountUsageState struct {
	AccountID         string     `gorm:"type:varchar(36);primaryKey" json:"account_id"`
	MAUExceeded       bool       `gorm:"column:mau_exceeded" json:"mau_exceeded"`
	StorageExceeded   bool       `json:"storage_exceeded"`
	BandwidthExceeded bool       `json:"bandwidth_exceeded"`
	BuildTimeExceeded bool       `json:"build_time_exceeded"`
	IsGoodPlan        bool       `json:"is_good_plan"`
	PlanUsagePercent  float64    `gorm:"not null;default:0" json:"plan_usage_percent"`
	PlanCalculatedAt  *time.Time `gorm:"type:timestamp;default:null;index" json:"plan_calculated_at,omitempty"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Exceeded returns the flag for a single metric.
func (s *AccountUsageState) Exceeded(metric UsageMetric) bool {
	switch metric {
	case MetricMAU:
		return s.MAUExceeded
	case MetricStorage:
		return s.StorageExceeded
	case MetricBandwidth:
		return s.BandwidthExceeded
	case MetricBuildTime:
		return s.BuildTimeExceeded
	default:
		return false
	}
}
