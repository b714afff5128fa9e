package billing

import (
	"testing"

	"github.com/ManuelReschke/BundleFox/app/models"
)

func testPlans() []models.Plan {
	return []models.Plan{
		{ID: 3, Name: "team", MAU: 100000, StorageBytes: 10 << 30, BandwidthBytes: 1 << 40, PriceMonthly: 99},
		{ID: 1, Name: "solo", MAU: 1000, StorageBytes: 1 << 30, BandwidthBytes: 10 << 30, PriceMonthly: 12},
		{ID: 2, Name: "maker", MAU: 10000, StorageBytes: 2 << 30, BandwidthBytes: 100 << 30, PriceMonthly: 33},
	}
}

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "solo", want: "solo"},
		{in: " Maker ", want: "maker"},
		{in: "TEAM", want: "team"},
	}

	for _, tt := range tests {
		if got := NormalizePlan(tt.in); got != tt.want {
			t.Fatalf("NormalizePlan(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBestPlan(t *testing.T) {
	plans := testPlans()

	if got := BestPlan(plans, Usage{models.MetricMAU: 500}); got == nil || got.Name != "solo" {
		t.Fatalf("expected solo for small usage, got %+v", got)
	}
	if got := BestPlan(plans, Usage{models.MetricMAU: 5000}); got == nil || got.Name != "maker" {
		t.Fatalf("expected maker, got %+v", got)
	}
	if got := BestPlan(plans, Usage{models.MetricMAU: 500, models.MetricStorage: 5 << 30}); got == nil || got.Name != "team" {
		t.Fatalf("expected storage to force team, got %+v", got)
	}
	if got := BestPlan(plans, Usage{models.MetricMAU: 1 << 40}); got != nil {
		t.Fatalf("expected no plan to fit, got %+v", got)
	}
}

func TestExceededAndPercent(t *testing.T) {
	plan := &models.Plan{MAU: 1000, StorageBytes: 100}
	usage := Usage{models.MetricMAU: 1500, models.MetricStorage: 50, models.MetricBuildTime: 1 << 20}

	ex := Exceeded(plan, usage)
	if len(ex) != 1 || ex[0] != models.MetricMAU {
		t.Fatalf("expected only mau exceeded (build time is unlimited), got %v", ex)
	}
	if p := UsagePercent(plan, usage); p != 150 {
		t.Fatalf("UsagePercent = %v, want 150", p)
	}
}
