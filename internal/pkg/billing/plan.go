package billing

import (
	"strings"

	"github.com/ManuelReschke/BundleFox/app/models"
)

// Usage is the metered total of one billing cycle per metric.
type Usage map[models.UsageMetric]int64

// NormalizePlan canonicalizes a plan name for lookups.
func NormalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

// Exceeded returns the metrics whose usage is above the plan limit.
func Exceeded(plan *models.Plan, usage Usage) []models.UsageMetric {
	var out []models.UsageMetric
	for _, m := range models.UsageMetrics {
		limit := plan.Limit(m)
		if limit > 0 && usage[m] > limit {
			out = append(out, m)
		}
	}
	return out
}

// Fits reports whether usage stays within every limit of the plan.
func Fits(plan *models.Plan, usage Usage) bool {
	return len(Exceeded(plan, usage)) == 0
}

// UsagePercent is the highest usage to limit ratio across metrics, in percent.
func UsagePercent(plan *models.Plan, usage Usage) float64 {
	max := 0.0
	for _, m := range models.UsageMetrics {
		limit := plan.Limit(m)
		if limit <= 0 {
			continue
		}
		if p := float64(usage[m]) / float64(limit) * 100; p > max {
			max = p
		}
	}
	return max
}

// BestPlan returns the cheapest plan that fits usage, or nil when none does.
func BestPlan(plans []models.Plan, usage Usage) *models.Plan {
	var best *models.Plan
	for i := range plans {
		p := &plans[i]
		if !Fits(p, usage) {
			continue
		}
		if best == nil || planRank(p) < planRank(best) {
			best = p
		}
	}
	return best
}

func planRank(p *models.Plan) float64 {
	return p.PriceMonthly
}
