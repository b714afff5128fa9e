package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BundleFox/internal/pkg/testutil"
)

type fakeLedger struct {
	mu   sync.Mutex
	reqs []billing.OverageRequest
}

func (f *fakeLedger) ApplyOverage(_ context.Context, req billing.OverageRequest) (*billing.OverageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &billing.OverageResult{OverageEventID: "ev", Created: true}, nil
}

func (f *fakeLedger) requests() []billing.OverageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]billing.OverageRequest(nil), f.reqs...)
}

type fakeQueue struct {
	mu       sync.Mutex
	accounts []string
}

func (f *fakeQueue) EnqueueJob(_ context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := payload["account_id"].(string)
	f.accounts = append(f.accounts, id)
	return &jobqueue.Job{ID: "job", Type: jobType, Payload: payload}, nil
}

func (f *fakeQueue) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

var (
	testAnchor = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	testNow    = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	db     *gorm.DB
	agg    *Aggregator
	ledger *fakeLedger
	queue  *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)

	plan := models.Plan{Name: "Solo", MAU: 2, StorageBytes: 20, BuildTimeSeconds: 100, PriceMonthly: 10}
	require.NoError(t, db.Create(&plan).Error)
	big := models.Plan{Name: "Team", MAU: 1000, StorageBytes: 1000, BuildTimeSeconds: 10000, PriceMonthly: 50}
	require.NoError(t, db.Create(&big).Error)
	require.NoError(t, db.Create(&models.Account{ID: "acc-1", Name: "Acme", PlanID: &plan.ID, BillingCycleAnchor: testAnchor}).Error)
	require.NoError(t, db.Create(&models.App{AppID: "com.acme.one", OwnerOrg: "acc-1"}).Error)
	require.NoError(t, db.Create(&models.App{AppID: "com.acme.two", OwnerOrg: "acc-1"}).Error)

	f := &fixture{db: db, ledger: &fakeLedger{}, queue: &fakeQueue{}}
	f.agg = NewAggregator(db, counter.New(rdb, db), f.ledger, f.queue, DefaultConfig())
	f.agg.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) daily(t *testing.T, appID, date string, mau, storage int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.AppDailyUsage{AppID: appID, Date: date, MAU: mau, StorageBytes: storage}).Error)
}

func TestCycleWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		anchor     time.Time
		now        time.Time
		start, end time.Time
	}{
		{
			name:  "calendar month without anchor",
			now:   time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
			start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "mid month anchor before the anchor day",
			anchor: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
			start:  time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "anchor day clamped to a short month",
			anchor: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
			start:  time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "year rollover",
			anchor: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
			start:  time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, end := CycleWindow(tt.anchor, tt.now)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestRecordBuildTime_AppliesPlatformMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		platform string
		seconds  int64
		billable int64
		wantErr  bool
	}{
		{name: "ios counts double", platform: models.PlatformIOS, seconds: 600, billable: 1200},
		{name: "android counts once", platform: models.PlatformAndroid, seconds: 150, billable: 150},
		{name: "zero seconds", platform: models.PlatformAndroid, seconds: 0, billable: 0},
		{name: "unknown platform", platform: "web", seconds: 10, wantErr: true},
		{name: "negative seconds", platform: models.PlatformIOS, seconds: -1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			row, err := f.agg.RecordBuildTime(context.Background(), BuildRecord{
				BuildID:          "build-" + tt.platform,
				AppID:            "com.acme.one",
				Platform:         tt.platform,
				BuildTimeSeconds: tt.seconds,
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBuild)
				var count int64
				require.NoError(t, f.db.Model(&models.BuildLog{}).Count(&count).Error)
				assert.Zero(t, count)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.billable, row.BillableSeconds)
			assert.Equal(t, "acc-1", row.AccountID)
			assert.Equal(t, []string{"acc-1"}, f.queue.enqueued())
		})
	}
}

func TestRecordBuildTime_ReRecordReplaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.RecordBuildTime(ctx, BuildRecord{BuildID: "b-1", AppID: "com.acme.one", Platform: models.PlatformIOS, BuildTimeSeconds: 600})
	require.NoError(t, err)
	_, err = f.agg.RecordBuildTime(ctx, BuildRecord{BuildID: "b-1", AppID: "com.acme.one", Platform: models.PlatformAndroid, BuildTimeSeconds: 150})
	require.NoError(t, err)

	var rows []models.BuildLog
	require.NoError(t, f.db.Where("build_id = ?", "b-1").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PlatformAndroid, rows[0].Platform)
	assert.EqualValues(t, 150, rows[0].BuildTimeSeconds)
	assert.EqualValues(t, 150, rows[0].BillableSeconds)
}

func TestRecordBuildTime_UnknownApp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.agg.RecordBuildTime(context.Background(), BuildRecord{BuildID: "b", AppID: "missing", Platform: models.PlatformIOS})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRecompute_WritesFlagsAndReportsOverages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.daily(t, "com.acme.one", "2025-03-02", 3, 10)
	f.daily(t, "com.acme.two", "2025-03-02", 0, 5)
	f.daily(t, "com.acme.one", "2025-03-03", 0, 12)
	f.daily(t, "com.acme.two", "2025-03-03", 1, 0)
	// Previous cycle
	f.daily(t, "com.acme.one", "2025-02-20", 100, 900)

	_, err := f.agg.RecordBuildTime(ctx, BuildRecord{BuildID: "b-1", AppID: "com.acme.one", Platform: models.PlatformAndroid, BuildTimeSeconds: 150})
	require.NoError(t, err)

	res, err := f.agg.Recompute(ctx, "acc-1", false)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), res.CycleStart)
	assert.EqualValues(t, 4, res.Usage[models.MetricMAU])
	assert.EqualValues(t, 15, res.Usage[models.MetricStorage], "storage is the largest daily sum")
	assert.EqualValues(t, 150, res.Usage[models.MetricBuildTime])
	assert.ElementsMatch(t, []models.UsageMetric{models.MetricMAU, models.MetricBuildTime}, res.Exceeded)
	assert.False(t, res.IsGoodPlan)
	assert.InDelta(t, 200.0, res.UsagePercent, 0.001)
	assert.Equal(t, "Team", res.RecommendedPlan)

	var state models.AccountUsageState
	require.NoError(t, f.db.First(&state, "account_id = ?", "acc-1").Error)
	assert.True(t, state.MAUExceeded)
	assert.True(t, state.BuildTimeExceeded)
	assert.False(t, state.StorageExceeded)
	assert.False(t, state.BandwidthExceeded)
	assert.False(t, state.IsGoodPlan)
	require.NotNil(t, state.PlanCalculatedAt)

	amounts := map[models.UsageMetric]float64{}
	for _, r := range f.ledger.requests() {
		amounts[r.Metric] = r.OverageAmount
		assert.Equal(t, res.CycleStart, r.CycleStart)
		assert.Equal(t, res.CycleEnd, r.CycleEnd)
	}
	assert.Equal(t, map[models.UsageMetric]float64{models.MetricMAU: 2, models.MetricBuildTime: 50}, amounts)
}

func TestRecompute_ClaimsOncePerInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.Recompute(ctx, "acc-1", false)
	require.NoError(t, err)

	_, err = f.agg.Recompute(ctx, "acc-1", false)
	assert.ErrorIs(t, err, ErrSkipped)

	_, err = f.agg.Recompute(ctx, "acc-1", true)
	assert.NoError(t, err, "forced runs bypass the claim")

	f.agg.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = f.agg.Recompute(ctx, "acc-1", false)
	assert.NoError(t, err)
}

func TestRecompute_FailedRunCanBeRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	earlier := testNow.Add(-2 * time.Hour)
	f.agg.now = func() time.Time { return earlier }
	_, err := f.agg.Recompute(ctx, "acc-1", false)
	require.NoError(t, err)

	f.daily(t, "com.acme.one", "2025-03-02", 5, 0)
	require.NoError(t, f.db.Migrator().DropTable(&models.BuildLog{}))
	f.agg.now = func() time.Time { return testNow }

	_, err = f.agg.Recompute(ctx, "acc-1", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSkipped)

	var state models.AccountUsageState
	require.NoError(t, f.db.First(&state, "account_id = ?", "acc-1").Error)
	require.NotNil(t, state.PlanCalculatedAt)
	assert.True(t, state.PlanCalculatedAt.Equal(earlier), "slot released to %s, got %s", earlier, state.PlanCalculatedAt)
	assert.False(t, state.MAUExceeded)

	// Redelivery after the failure
	require.NoError(t, f.db.AutoMigrate(&models.BuildLog{}))
	res, err := f.agg.Recompute(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.Contains(t, res.Exceeded, models.MetricMAU)

	require.NoError(t, f.db.First(&state, "account_id = ?", "acc-1").Error)
	assert.True(t, state.MAUExceeded)
	assert.False(t, state.IsGoodPlan)
}

func TestRecompute_FirstRunFailureLeavesSlotFree(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Migrator().DropTable(&models.BuildLog{}))
	_, err := f.agg.Recompute(ctx, "acc-1", false)
	require.Error(t, err)

	state, err := f.agg.repos.Account.GetUsageState("acc-1")
	require.NoError(t, err)
	assert.Nil(t, state.PlanCalculatedAt)

	enqueued, err := f.agg.MaybeEnqueue(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, enqueued)
}

func TestRecompute_UnknownAccountLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.agg.Recompute(context.Background(), "nobody", false)
	assert.ErrorIs(t, err, ErrSkipped)

	var count int64
	require.NoError(t, f.db.Model(&models.AccountUsageState{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMaybeEnqueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.agg.MaybeEnqueue(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok, "never computed")

	_, err = f.agg.Recompute(ctx, "acc-1", false)
	require.NoError(t, err)

	ok, err = f.agg.MaybeEnqueue(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok, "computed within the interval")

	f.agg.now = func() time.Time { return testNow.Add(61 * time.Minute) }
	ok, err = f.agg.MaybeEnqueue(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"acc-1", "acc-1"}, f.queue.enqueued())
}

func TestRecordActivity_FlushCountsEachDeviceOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var app models.App
	require.NoError(t, f.db.First(&app, "app_id = ?", "com.acme.one").Error)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.agg.RecordActivity(ctx, Activity{
			App:            &app,
			Device:         models.Device{DeviceID: "dev-1", Platform: models.PlatformIOS, VersionName: "1.0.0"},
			BandwidthBytes: 100,
			At:             testNow,
		}))
	}
	require.NoError(t, f.agg.RecordActivity(ctx, Activity{
		App:    &app,
		Device: models.Device{DeviceID: "dev-2", Platform: models.PlatformAndroid},
		At:     testNow,
	}))

	require.NoError(t, f.agg.FlushCounters(ctx))

	var row models.AppDailyUsage
	require.NoError(t, f.db.First(&row, "app_id = ? AND date = ?", "com.acme.one", "2025-03-15").Error)
	assert.EqualValues(t, 2, row.MAU)
	assert.EqualValues(t, 300, row.BandwidthBytes)

	var devices int64
	require.NoError(t, f.db.Model(&models.Device{}).Where("app_id = ?", "com.acme.one").Count(&devices).Error)
	assert.EqualValues(t, 2, devices)

	assert.Equal(t, []string{"acc-1"}, f.queue.enqueued())
}

func TestRecomputeApp_RecordsStorageFootprint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.Bundle{
		AppID: "com.acme.one", Name: "1.0.0", StoragePath: "apps/com.acme.one/bundles/1.0.0.zip", Size: 100,
		Manifest: []models.ManifestEntry{{FileName: "index.js", FileHash: "abc", FileSize: 10, StoragePath: "apps/com.acme.one/files/abc"}},
	}).Error)
	require.NoError(t, f.db.Create(&models.Bundle{
		AppID: "com.acme.one", Name: "0.9.0", ExternalURL: "https://cdn.example.com/0.9.0.zip", Size: 500,
	}).Error)

	require.NoError(t, f.agg.RecomputeApp(ctx, "com.acme.one"))

	var row models.AppDailyUsage
	require.NoError(t, f.db.First(&row, "app_id = ? AND date = ?", "com.acme.one", "2025-03-15").Error)
	assert.EqualValues(t, 110, row.StorageBytes, "externally hosted archives take no storage")
	assert.Equal(t, []string{"acc-1"}, f.queue.enqueued())

	assert.ErrorIs(t, f.agg.RecomputeApp(ctx, "missing"), ErrSkipped)
}

func TestRegisterHandlers_ProcessesRecomputeJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, rdb := testutil.NewRedis(t)
	q := jobqueue.NewQueue(rdb, jobqueue.DefaultConfig())
	f.agg.RegisterHandlers(q)

	_, err := q.EnqueueJob(ctx, jobqueue.JobTypeCronStatOrg, jobqueue.CronStatOrgPayload{AccountID: "acc-1"}.ToMap())
	require.NoError(t, err)
	_, err = q.EnqueueJob(ctx, jobqueue.JobTypeCronStatOrg, jobqueue.CronStatOrgPayload{AccountID: "acc-1"}.ToMap())
	require.NoError(t, err)
	_, err = q.EnqueueJob(ctx, jobqueue.JobTypeCronStatOrg, map[string]interface{}{"unexpected": true})
	require.NoError(t, err)

	res, err := q.ProcessBatch(ctx, jobqueue.JobTypeCronStatOrg, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 3, res.Completed, "skipped and malformed jobs are done")

	var state models.AccountUsageState
	require.NoError(t, f.db.First(&state, "account_id = ?", "acc-1").Error)
	assert.NotNil(t, state.PlanCalculatedAt)
}
