package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/controllers"
	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/middleware"
	"github.com/ManuelReschke/BundleFox/internal/pkg/services"
	"github.com/ManuelReschke/BundleFox/internal/pkg/testutil"
)

const testSecret = "s3cret"

type testServer struct {
	app *fiber.App
	db  *gorm.DB
	svc *services.Services
	ctl *controllers.Controllers
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)

	cfg := services.DefaultConfig()
	cfg.RateLimit.Burst = 100
	svc := services.New(db, rdb, nil, cfg)
	t.Cleanup(svc.Updates.Wait)

	ctl := controllers.New(svc.Dependencies())
	t.Cleanup(ctl.Triggers.Wait)

	app := fiber.New()
	InstallRouter(app, Config{Controllers: ctl, APISecret: testSecret, LimiterMax: 1000})

	plan := models.Plan{Name: "Solo", MAU: 1, PriceMonthly: 10}
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Create(&models.Account{ID: "acc-1", Name: "Acme", PlanID: &plan.ID}).Error)
	require.NoError(t, db.Create(&models.App{AppID: "com.demo.app", OwnerOrg: "acc-1"}).Error)

	return &testServer{app: app, db: db, svc: svc, ctl: ctl}
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
	raw    []byte
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, internal bool) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if internal {
		req.Header.Set(middleware.HeaderAPISecret, testSecret)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, header: resp.Header, raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func (s *testServer) publish(t *testing.T) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/private/bundle", fiber.Map{
		"app_id":       "com.demo.app",
		"name":         "1.0.1",
		"external_url": "https://cdn.example.com/1.0.1.zip",
		"checksum":     "deadbeef",
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app",
		"name":   "production",
		"bundle": "1.0.1",
		"public": true,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/private/app/defaults", fiber.Map{
		"app_id":          "com.demo.app",
		"ios_channel":     "production",
		"android_channel": "production",
	}, true)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
}

func device(id string) fiber.Map {
	return fiber.Map{
		"app_id":         "com.demo.app",
		"device_id":      id,
		"platform":       models.PlatformIOS,
		"version_name":   "1.0.0",
		"version_build":  "1.0.0",
		"plugin_version": "6.0.0",
	}
}

func TestInternalRoutesRequireSecret(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/private/bundle", fiber.Map{"app_id": "com.demo.app"}, false)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
	assert.Equal(t, constants.ErrUnauthorized, resp.body["error"])

	resp = s.do(t, http.MethodGet, "/api/v1/ping", nil, false)
	assert.Equal(t, fiber.StatusOK, resp.status)
}

func TestUpdateFlow_GateAndCredits(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.publish(t)
	ctx := context.Background()

	resp := s.do(t, http.MethodPost, "/api/v1/updates", device("dev-1"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "1.0.1", resp.body["version"])
	assert.Equal(t, "https://cdn.example.com/1.0.1.zip", resp.body["url"])
	assert.Equal(t, "new_version", resp.header.Get(controllers.HeaderUpdateStatus))
	assert.Equal(t, "false", resp.header.Get(controllers.HeaderUpdateOverwritten))

	resp = s.do(t, http.MethodPost, "/api/v1/stats", device("dev-2"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	// Two devices on a plan with one MAU.
	s.svc.Updates.Wait()
	require.NoError(t, s.svc.Aggregator.FlushCounters(ctx))

	resp = s.do(t, http.MethodPost, "/api/v1/triggers/cron_stat_org", fiber.Map{"account_id": "acc-1", "force": true}, true)
	require.Equal(t, fiber.StatusAccepted, resp.status, string(resp.raw))
	resp = s.do(t, http.MethodPost, "/api/v1/triggers/queue_consumer", fiber.Map{"queue_name": "cron_stat_org"}, true)
	require.Equal(t, fiber.StatusAccepted, resp.status, string(resp.raw))
	s.ctl.Triggers.Wait()

	var state models.AccountUsageState
	require.NoError(t, s.db.First(&state, "account_id = ?", "acc-1").Error)
	assert.True(t, state.MAUExceeded)
	assert.False(t, state.IsGoodPlan)

	resp = s.do(t, http.MethodPost, "/api/v1/updates", device("dev-1"), false)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.status)
	assert.Equal(t, constants.ErrNeedPlanUpgrade, resp.body["error"])

	resp = s.do(t, http.MethodPost, "/api/v1/triggers/credits", fiber.Map{
		"account_id": "acc-1",
		"credits":    100,
		"expires_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"source_ref": "invoice-1",
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/updates", device("dev-1"), false)
	assert.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "1.0.1", resp.body["version"])

	resp = s.do(t, http.MethodGet, "/api/v1/private/account/usage?account_id=acc-1", nil, true)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	credits, ok := resp.body["credits"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, credits["grants"])
}

func TestChannelSelfFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.publish(t)

	resp := s.do(t, http.MethodPost, "/api/v1/private/bundle", fiber.Map{
		"app_id":       "com.demo.app",
		"name":         "1.1.0",
		"external_url": "https://cdn.example.com/1.1.0.zip",
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id":                "com.demo.app",
		"name":                  "beta",
		"bundle":                "1.1.0",
		"allow_device_self_set": true,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	req := device("dev-1")
	req["channel"] = "beta"
	resp = s.do(t, http.MethodPost, "/api/v1/channel_self", req, false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/channel_self", req, false)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.status, "same channel within the cooldown")

	resp = s.do(t, http.MethodPut, "/api/v1/channel_self", device("dev-1"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "beta", resp.body["channel"])
	assert.Equal(t, "override", resp.body["status"])

	resp = s.do(t, http.MethodPost, "/api/v1/updates", device("dev-1"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "1.1.0", resp.body["version"])
	assert.Equal(t, "true", resp.header.Get(controllers.HeaderUpdateOverwritten))

	resp = s.do(t, http.MethodGet, "/api/v1/channel_self?app_id=com.demo.app&device_id=dev-1&platform=ios", nil, false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	var list []controllers.SelfChannel
	require.NoError(t, json.Unmarshal(resp.raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "beta", list[0].Name)

	resp = s.do(t, http.MethodDelete, "/api/v1/channel_self", device("dev-1"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPut, "/api/v1/channel_self", device("dev-1"), false)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.Equal(t, "production", resp.body["channel"])
	assert.Equal(t, "default", resp.body["status"])

	resp = s.do(t, http.MethodDelete, "/api/v1/channel_self", device("dev-1"), false)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, constants.ErrCannotOverride, resp.body["error"])
}

func TestChannelSelf_AdminAssignmentCannotBeOverridden(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.publish(t)

	resp := s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id":                "com.demo.app",
		"name":                  "beta",
		"allow_device_self_set": true,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{"app_id": "com.demo.app", "name": "qa"}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/private/device/override", fiber.Map{
		"app_id": "com.demo.app", "device_id": "dev-1", "channel": "qa",
	}, true)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	req := device("dev-1")
	req["channel"] = "beta"
	resp = s.do(t, http.MethodPost, "/api/v1/channel_self", req, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, constants.ErrCannotOverride, resp.body["error"])

	req["device_id"] = "dev-2"
	req["channel"] = "qa"
	resp = s.do(t, http.MethodPost, "/api/v1/channel_self", req, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, constants.ErrSelfSetNotAllowed, resp.body["error"])
}

func TestBundleLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.publish(t)

	tests := []struct {
		name   string
		body   fiber.Map
		status int
		code   string
	}{
		{
			name:   "duplicate name",
			body:   fiber.Map{"app_id": "com.demo.app", "name": "1.0.1", "external_url": "https://cdn.example.com/x.zip"},
			status: fiber.StatusConflict,
			code:   constants.ErrBundleExists,
		},
		{
			name:   "not semver",
			body:   fiber.Map{"app_id": "com.demo.app", "name": "v1", "external_url": "https://cdn.example.com/x.zip"},
			status: fiber.StatusBadRequest,
			code:   constants.ErrInvalidVersionFormat,
		},
		{
			name:   "plain http url",
			body:   fiber.Map{"app_id": "com.demo.app", "name": "2.0.0", "external_url": "http://cdn.example.com/x.zip"},
			status: fiber.StatusBadRequest,
			code:   constants.ErrInvalidBundleURL,
		},
		{
			name:   "unknown app",
			body:   fiber.Map{"app_id": "com.other", "name": "2.0.0", "external_url": "https://cdn.example.com/x.zip"},
			status: fiber.StatusNotFound,
			code:   constants.ErrAppNotFound,
		},
	}
	for _, tt := range tests {
		resp := s.do(t, http.MethodPost, "/api/v1/private/bundle", tt.body, true)
		assert.Equal(t, tt.status, resp.status, tt.name)
		assert.Equal(t, tt.code, resp.body["error"], tt.name)
	}

	resp := s.do(t, http.MethodDelete, "/api/v1/private/bundle", fiber.Map{"app_id": "com.demo.app", "name": "1.0.1"}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, constants.ErrBundleInUse, resp.body["error"])

	resp = s.do(t, http.MethodPost, "/api/v1/private/bundle", fiber.Map{
		"app_id": "com.demo.app", "name": "0.9.0", "external_url": "https://cdn.example.com/0.9.0.zip",
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	resp = s.do(t, http.MethodDelete, "/api/v1/private/bundle", fiber.Map{"app_id": "com.demo.app", "name": "0.9.0"}, true)
	assert.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	// Deleted names stay taken.
	resp = s.do(t, http.MethodPost, "/api/v1/private/bundle", fiber.Map{
		"app_id": "com.demo.app", "name": "0.9.0", "external_url": "https://cdn.example.com/0.9.0.zip",
	}, true)
	assert.Equal(t, fiber.StatusConflict, resp.status)
}

func TestAppDefaultsValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.publish(t)

	resp := s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app", "name": "android-only", "ios": false,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/private/app/defaults", fiber.Map{
		"app_id": "com.demo.app", "ios_channel": "android-only", "android_channel": "android-only",
	}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, models.ErrCodeDefaultDropsPlatform, resp.body["error"])

	// The production channel is the default of both platforms.
	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app", "name": "production", "ios": false,
	}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, models.ErrCodeDefaultDropsPlatform, resp.body["error"])

	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app", "name": "ghost", "public": true, "ios": false, "android": false,
	}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, models.ErrCodePublicWithoutPlatform, resp.body["error"])

	// Split defaults, then the ios default tries to take android as well.
	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app", "name": "ios-only", "android": false,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.raw))
	resp = s.do(t, http.MethodPost, "/api/v1/private/app/defaults", fiber.Map{
		"app_id": "com.demo.app", "ios_channel": "ios-only", "android_channel": "android-only",
	}, true)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))

	resp = s.do(t, http.MethodPost, "/api/v1/private/channel", fiber.Map{
		"app_id": "com.demo.app", "name": "ios-only", "android": true,
	}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, models.ErrCodeDefaultConflict, resp.body["error"])
}

func TestBuildTimeTrigger(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/triggers/build_time", fiber.Map{
		"build_id": "b-1", "app_id": "com.demo.app", "platform": "ios", "build_time_seconds": 90,
	}, true)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.raw))
	assert.EqualValues(t, 180, resp.body["billable_seconds"])

	resp = s.do(t, http.MethodPost, "/api/v1/triggers/build_time", fiber.Map{
		"build_id": "b-2", "app_id": "com.demo.app", "platform": "web", "build_time_seconds": 90,
	}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = s.do(t, http.MethodPost, "/api/v1/triggers/queue_consumer", fiber.Map{"queue_name": "nope"}, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
}
