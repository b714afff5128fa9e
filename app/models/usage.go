package models

import "time"

// UsageMetric names a metered dimension of a plan.
type UsageMetric string

const (
	MetricMAU       UsageMetric = "mau"
	MetricStorage   UsageMetric = "storage"
	MetricBandwidth UsageMetric = "bandwidth"
	MetricBuildTime UsageMetric = "build_time"
)

// UsageMetrics lists all metered dimensions in a stable order.
var UsageMetrics = []UsageMetric{MetricMAU, MetricStorage, MetricBandwidth, MetricBuildTime}

// IsValid reports whether m is a known metric.
func (m UsageMetric) IsValid() bool {
	switch m {
	case MetricMAU, MetricStorage, MetricBandwidth, MetricBuildTime:
		return true
	}
	return false
}

// UsageDateLayout is the bucket key format of AppDailyUsage.Date.
const UsageDateLayout = "2006-01-02"

// AppDailyUsage holds raw usage counters of one app for one day.
type AppDailyUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AppID          string    `gorm:"type:varchar(191);not null;index:ux_app_daily_usage,unique,priority:1" json:"app_id"`
	Date           string    `gorm:"type:varchar(10);not null;index:ux_app_daily_usage,unique,priority:2" json:"date"`
	MAU            int64     `gorm:"column:mau;not null;default:0" json:"mau"`
	BandwidthBytes int64     `gorm:"not null;default:0" json:"bandwidth_bytes"`
	StorageBytes   int64     `gorm:"not null;default:0" json:"storage_bytes"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BuildLog records one native build and its billable duration.
type BuildLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	BuildID          string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"build_id"`
	AccountID        string    `gorm:"type:varchar(36);not null;index" json:"account_id"`
	AppID            string    `gorm:"type:varchar(191);not null;index" json:"app_id"`
	Platform         string    `gorm:"type:varchar(16);not null" json:"platform"`
	BuildTimeSeconds int64     `gorm:"not null" json:"build_time_seconds"`
	BillableSeconds  int64     `gorm:"not null" json:"billable_seconds"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
