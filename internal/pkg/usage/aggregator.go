package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/metrics/counter"
)

var (
	// ErrSkipped is returned when a recomputation was not performed, either
	// because the account is unknown or another run claimed the slot.
	ErrSkipped      = errors.New("usage recomputation skipped")
	ErrInvalidBuild = errors.New("invalid build record")
)

// Ledger receives overages of exceeded metrics.
type Ledger interface {
	ApplyOverage(ctx context.Context, req billing.OverageRequest) (*billing.OverageResult, error)
}

// Enqueuer schedules background jobs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// Aggregator turns raw usage counters into per-account plan flags.
type Aggregator struct {
	db       *gorm.DB
	repos    *repository.Repositories
	counters *counter.Counters
	ledger   Ledger
	queue    Enqueuer
	cfg      Config
	now      func() time.Time
}

func NewAggregator(db *gorm.DB, counters *counter.Counters, ledger Ledger, queue Enqueuer, cfg Config) *Aggregator {
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = DefaultRecomputeInterval
	}
	if cfg.IOSMultiplier <= 0 {
		cfg.IOSMultiplier = DefaultIOSMultiplier
	}
	if cfg.AndroidMultiplier <= 0 {
		cfg.AndroidMultiplier = DefaultAndroidMultiplier
	}
	return &Aggregator{
		db:       db,
		repos:    repository.NewRepositories(db),
		counters: counters,
		ledger:   ledger,
		queue:    queue,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Result summarizes one recomputation.
type Result struct {
	AccountID       string                   `json:"account_id"`
	CycleStart      time.Time                `json:"cycle_start"`
	CycleEnd        time.Time                `json:"cycle_end"`
	Usage           billing.Usage            `json:"usage"`
	Exceeded        []models.UsageMetric     `json:"exceeded"`
	IsGoodPlan      bool                     `json:"is_good_plan"`
	UsagePercent    float64                  `json:"plan_usage_percent"`
	RecommendedPlan string                   `json:"recommended_plan,omitempty"`
	Overages        []*billing.OverageResult `json:"overages,omitempty"`
}

// Recompute totals the account's usage for the current billing cycle and
// writes the plan flags. Unless forced, at most one run per account
// succeeds within the recompute interval.
func (a *Aggregator) Recompute(ctx context.Context, accountID string, force bool) (*Result, error) {
	account, err := a.repos.Account.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[UsageAggregator] Account %s not found, leaving usage flags unchanged", accountID)
			return nil, ErrSkipped
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Plan == nil {
		log.Warnf("[UsageAggregator] Account %s has no plan, leaving usage flags unchanged", accountID)
		return nil, ErrSkipped
	}

	now := a.now().UTC().Truncate(time.Second)
	prev, claimed, err := a.claim(ctx, accountID, now, force)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Debugf("[UsageAggregator] Account %s was computed recently, skipping", accountID)
		return nil, ErrSkipped
	}

	res, err := a.recompute(ctx, account, now)
	if err != nil {
		// Hand the slot back so the queue redelivery can retry.
		a.release(context.WithoutCancel(ctx), accountID, now, prev)
		return nil, err
	}
	return res, nil
}

func (a *Aggregator) recompute(ctx context.Context, account *models.Account, now time.Time) (*Result, error) {
	accountID := account.ID
	start, end := CycleWindow(account.BillingCycleAnchor, now)
	totals, err := a.totals(ctx, account, start, end)
	if err != nil {
		return nil, err
	}

	exceeded := billing.Exceeded(account.Plan, totals)
	res := &Result{
		AccountID:    accountID,
		CycleStart:   start,
		CycleEnd:     end,
		Usage:        totals,
		Exceeded:     exceeded,
		IsGoodPlan:   len(exceeded) == 0,
		UsagePercent: billing.UsagePercent(account.Plan, totals),
	}

	flags := map[string]interface{}{
		"mau_exceeded":        false,
		"storage_exceeded":    false,
		"bandwidth_exceeded":  false,
		"build_time_exceeded": false,
		"is_good_plan":        res.IsGoodPlan,
		"plan_usage_percent":  res.UsagePercent,
		"plan_calculated_at":  now,
	}
	for _, m := range exceeded {
		flags[flagColumn(m)] = true
	}
	err = a.db.WithContext(ctx).Model(&models.AccountUsageState{}).
		Where("account_id = ?", accountID).
		Updates(flags).Error
	if err != nil {
		return nil, fmt.Errorf("write usage state: %w", err)
	}

	for _, m := range exceeded {
		over, err := a.ledger.ApplyOverage(ctx, billing.OverageRequest{
			AccountID:     accountID,
			Metric:        m,
			CycleStart:    start,
			CycleEnd:      end,
			OverageAmount: float64(totals[m] - account.Plan.Limit(m)),
			Details: map[string]interface{}{
				"usage": totals[m],
				"limit": account.Plan.Limit(m),
				"plan":  account.Plan.Name,
			},
		})
		if err != nil {
			// The ledger is idempotent per cycle, the next run retries.
			log.Errorf("[UsageAggregator] Failed to apply %s overage for account %s: %v", m, accountID, err)
			continue
		}
		res.Overages = append(res.Overages, over)
	}

	if plans, err := a.repos.Account.ListPlans(); err == nil {
		if best := billing.BestPlan(plans, totals); best != nil {
			res.RecommendedPlan = best.Name
			if billing.NormalizePlan(best.Name) != billing.NormalizePlan(account.Plan.Name) {
				log.Infof("[UsageAggregator] Account %s on plan %s fits best on %s", accountID, account.Plan.Name, best.Name)
			}
		}
	}

	log.Infof("[UsageAggregator] Account %s recomputed: good_plan=%t usage=%.1f%% exceeded=%v",
		accountID, res.IsGoodPlan, res.UsagePercent, exceeded)
	return res, nil
}

func flagColumn(m models.UsageMetric) string {
	return string(m) + "_exceeded"
}

// claim takes the account's recompute slot with a single conditional write.
// It returns the previous calculation time so a failed run can release the slot.
func (a *Aggregator) claim(ctx context.Context, accountID string, now time.Time, force bool) (*time.Time, bool, error) {
	db := a.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.AccountUsageState{AccountID: accountID, IsGoodPlan: true}).Error
	if err != nil {
		return nil, false, fmt.Errorf("create usage state: %w", err)
	}

	var state models.AccountUsageState
	if err := db.Select("plan_calculated_at").Where("account_id = ?", accountID).Take(&state).Error; err != nil {
		return nil, false, fmt.Errorf("load usage state: %w", err)
	}

	q := db.Model(&models.AccountUsageState{}).Where("account_id = ?", accountID)
	if !force {
		q = q.Where("(plan_calculated_at IS NULL OR plan_calculated_at < ?)", now.Add(-a.cfg.RecomputeInterval))
	}
	res := q.Update("plan_calculated_at", now)
	if res.Error != nil {
		return nil, false, fmt.Errorf("claim recompute slot: %w", res.Error)
	}
	return state.PlanCalculatedAt, res.RowsAffected > 0, nil
}

// release restores the calculation time a failed run claimed. A newer claim
// by another run is left alone.
func (a *Aggregator) release(ctx context.Context, accountID string, claimedAt time.Time, prev *time.Time) {
	var value interface{} = gorm.Expr("NULL")
	if prev != nil {
		value = *prev
	}
	err := a.db.WithContext(ctx).Model(&models.AccountUsageState{}).
		Where("account_id = ? AND plan_calculated_at = ?", accountID, claimedAt).
		Update("plan_calculated_at", value).Error
	if err != nil {
		log.Errorf("[UsageAggregator] Failed to release recompute slot for account %s: %v", accountID, err)
	}
}

// totals sums MAU, bandwidth and build time over the cycle. Storage is the
// largest daily footprint across the account's apps.
func (a *Aggregator) totals(ctx context.Context, account *models.Account, start, end time.Time) (billing.Usage, error) {
	out := billing.Usage{}
	db := a.db.WithContext(ctx)

	apps, err := a.repos.App.ListByOwner(account.ID)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	if len(apps) > 0 {
		ids := make([]string, 0, len(apps))
		for _, app := range apps {
			ids = append(ids, app.AppID)
		}
		from := start.Format(models.UsageDateLayout)
		to := end.Format(models.UsageDateLayout)

		var sums struct {
			MAU       int64 `gorm:"column:mau"`
			Bandwidth int64 `gorm:"column:bandwidth"`
		}
		err = db.Model(&models.AppDailyUsage{}).
			Select("COALESCE(SUM(mau), 0) AS mau, COALESCE(SUM(bandwidth_bytes), 0) AS bandwidth").
			Where("app_id IN ? AND date >= ? AND date < ?", ids, from, to).
			Scan(&sums).Error
		if err != nil {
			return nil, fmt.Errorf("sum daily usage: %w", err)
		}
		out[models.MetricMAU] = sums.MAU
		out[models.MetricBandwidth] = sums.Bandwidth

		var days []struct {
			Date  string `gorm:"column:date"`
			Total int64  `gorm:"column:total"`
		}
		err = db.Model(&models.AppDailyUsage{}).
			Select("date, COALESCE(SUM(storage_bytes), 0) AS total").
			Where("app_id IN ? AND date >= ? AND date < ?", ids, from, to).
			Group("date").
			Scan(&days).Error
		if err != nil {
			return nil, fmt.Errorf("sum storage: %w", err)
		}
		for _, d := range days {
			if d.Total > out[models.MetricStorage] {
				out[models.MetricStorage] = d.Total
			}
		}
	}

	var build struct {
		Seconds int64 `gorm:"column:seconds"`
	}
	err = db.Model(&models.BuildLog{}).
		Select("COALESCE(SUM(billable_seconds), 0) AS seconds").
		Where("account_id = ? AND created_at >= ? AND created_at < ?", account.ID, start, end).
		Scan(&build).Error
	if err != nil {
		return nil, fmt.Errorf("sum build time: %w", err)
	}
	out[models.MetricBuildTime] = build.Seconds
	return out, nil
}

// MaybeEnqueue schedules a recomputation unless the account was computed
// within the recompute interval.
func (a *Aggregator) MaybeEnqueue(ctx context.Context, accountID string) (bool, error) {
	if strings.TrimSpace(accountID) == "" {
		return false, nil
	}
	state, err := a.repos.Account.GetUsageState(accountID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("load usage state: %w", err)
	}
	if state != nil && state.PlanCalculatedAt != nil &&
		a.now().Sub(*state.PlanCalculatedAt) < a.cfg.RecomputeInterval {
		return false, nil
	}
	payload := jobqueue.CronStatOrgPayload{AccountID: accountID}
	if _, err := a.queue.EnqueueJob(ctx, jobqueue.JobTypeCronStatOrg, payload.ToMap()); err != nil {
		return false, fmt.Errorf("enqueue recompute: %w", err)
	}
	return true, nil
}

// FlushCounters writes buffered counters to the database and schedules
// recomputations for the owners of every touched app.
func (a *Aggregator) FlushCounters(ctx context.Context) error {
	apps, err := a.counters.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush counters: %w", err)
	}
	owners := map[string]struct{}{}
	for _, appID := range apps {
		app, err := a.repos.App.GetByAppID(appID)
		if err != nil {
			log.Warnf("[UsageAggregator] Flushed counters for unknown app %s: %v", appID, err)
			continue
		}
		owners[app.OwnerOrg] = struct{}{}
	}
	for owner := range owners {
		if _, err := a.MaybeEnqueue(ctx, owner); err != nil {
			log.Errorf("[UsageAggregator] Failed to schedule recompute for %s: %v", owner, err)
		}
	}
	return nil
}

// RecomputeApp flushes pending counters, records today's storage footprint of
// the app and schedules a recomputation of its owner.
func (a *Aggregator) RecomputeApp(ctx context.Context, appID string) error {
	app, err := a.repos.App.GetByAppID(appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[UsageAggregator] App %s not found, skipping stats", appID)
			return ErrSkipped
		}
		return fmt.Errorf("load app: %w", err)
	}
	if err := a.FlushCounters(ctx); err != nil {
		return err
	}

	bundles, err := a.repos.Bundle.ListLive(appID)
	if err != nil {
		return fmt.Errorf("list bundles: %w", err)
	}
	footprint := int64(0)
	for i := range bundles {
		footprint += bundles[i].Footprint()
	}
	if err := a.counters.RecordStorage(ctx, appID, a.now(), footprint); err != nil {
		return fmt.Errorf("record storage: %w", err)
	}

	_, err = a.MaybeEnqueue(ctx, app.OwnerOrg)
	return err
}

// BuildRecord is one native build reported by the build system.
type BuildRecord struct {
	BuildID          string `json:"build_id" validate:"required"`
	AppID            string `json:"app_id" validate:"required"`
	Platform         string `json:"platform" validate:"required"`
	BuildTimeSeconds int64  `json:"build_time_seconds"`
}

// Multiplier returns the billing weight of a platform.
func (a *Aggregator) Multiplier(platform string) (float64, bool) {
	switch platform {
	case models.PlatformIOS:
		return a.cfg.IOSMultiplier, true
	case models.PlatformAndroid:
		return a.cfg.AndroidMultiplier, true
	}
	return 0, false
}

// RecordBuildTime stores a build with its billable seconds. Recording the
// same build id again replaces the previous row.
func (a *Aggregator) RecordBuildTime(ctx context.Context, rec BuildRecord) (*models.BuildLog, error) {
	mult, ok := a.Multiplier(rec.Platform)
	switch {
	case strings.TrimSpace(rec.BuildID) == "":
		return nil, fmt.Errorf("%w: build_id is required", ErrInvalidBuild)
	case !ok:
		return nil, fmt.Errorf("%w: invalid platform %q", ErrInvalidBuild, rec.Platform)
	case rec.BuildTimeSeconds < 0:
		return nil, fmt.Errorf("%w: negative build time", ErrInvalidBuild)
	}

	app, err := a.repos.App.GetByAppID(rec.AppID)
	if err != nil {
		return nil, fmt.Errorf("load app: %w", err)
	}

	now := a.now().UTC()
	row := &models.BuildLog{
		BuildID:          rec.BuildID,
		AccountID:        app.OwnerOrg,
		AppID:            app.AppID,
		Platform:         rec.Platform,
		BuildTimeSeconds: rec.BuildTimeSeconds,
		BillableSeconds:  int64(math.Round(float64(rec.BuildTimeSeconds) * mult)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "build_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "app_id", "platform", "build_time_seconds", "billable_seconds", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("store build log: %w", err)
	}

	if _, err := a.MaybeEnqueue(ctx, app.OwnerOrg); err != nil {
		log.Errorf("[UsageAggregator] Failed to schedule recompute for %s: %v", app.OwnerOrg, err)
	}
	return row, nil
}

// Activity is a device check-in seen by the update endpoint.
type Activity struct {
	App            *models.App
	Device         models.Device
	BandwidthBytes int64
	At             time.Time
}

// RecordActivity stores the device state and bumps the MAU and bandwidth counters.
func (a *Aggregator) RecordActivity(ctx context.Context, act Activity) error {
	if act.App == nil || act.Device.DeviceID == "" {
		return nil
	}
	at := act.At
	if at.IsZero() {
		at = a.now()
	}

	dev := act.Device
	dev.AppID = act.App.AppID
	if err := a.repos.Device.Upsert(&dev); err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}

	var anchor time.Time
	if account, err := a.repos.Account.GetByID(act.App.OwnerOrg); err == nil {
		anchor = account.BillingCycleAnchor
	}
	cycleStart, _ := CycleWindow(anchor, at)
	if _, err := a.counters.AddMAU(ctx, act.App.AppID, dev.DeviceID, cycleStart, at); err != nil {
		return fmt.Errorf("count device: %w", err)
	}
	if err := a.counters.AddBandwidth(ctx, act.App.AppID, at, act.BandwidthBytes); err != nil {
		return fmt.Errorf("count bandwidth: %w", err)
	}
	return nil
}

// RegisterHandlers binds the aggregator to its queues. Skipped runs count as done.
func (a *Aggregator) RegisterHandlers(q *jobqueue.Queue) {
	q.Register(jobqueue.JobTypeCronStatOrg, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.CronStatOrgPayloadFromMap(job.Payload)
		if err != nil || payload.AccountID == "" {
			log.Warnf("[UsageAggregator] Dropping malformed %s job %s", job.Type, job.ID)
			return nil
		}
		_, err = a.Recompute(ctx, payload.AccountID, payload.Force)
		if errors.Is(err, ErrSkipped) {
			return nil
		}
		return err
	})
	q.Register(jobqueue.JobTypeCronStatApp, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.CronStatAppPayloadFromMap(job.Payload)
		if err != nil || payload.AppID == "" {
			log.Warnf("[UsageAggregator] Dropping malformed %s job %s", job.Type, job.ID)
			return nil
		}
		err = a.RecomputeApp(ctx, payload.AppID)
		if errors.Is(err, ErrSkipped) {
			return nil
		}
		return err
	})
}
