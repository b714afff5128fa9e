package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
	"github.com/ManuelReschke/BundleFox/internal/pkg/testutil"
)

func bundle(id uint, name string) *models.Bundle {
	return &models.Bundle{ID: id, AppID: "com.demo.app", Name: name, StoragePath: "orgs/demo/" + name + ".zip"}
}

func openChannel(id uint, name string, b *models.Bundle) *models.Channel {
	ch := &models.Channel{
		ID:            id,
		AppID:         "com.demo.app",
		Name:          name,
		Bundle:        b,
		IOS:           true,
		Android:       true,
		AllowEmulator: true,
		AllowDev:      true,
		AllowProd:     true,
	}
	if b != nil {
		ch.BundleID = &b.ID
	}
	ch.DisableAutoUpdate = models.AutoUpdateNone
	return ch
}

func device(current string) Device {
	return Device{
		AppID:          "com.demo.app",
		DeviceID:       "device-1",
		Platform:       models.PlatformIOS,
		CurrentVersion: semver.MustParse(current),
		NativeVersion:  semver.MustParse("1.0.0"),
		IsProd:         true,
	}
}

func TestEvaluate_Precedence(t *testing.T) {
	t.Parallel()

	pinned := bundle(1, "1.0.5")
	assigned := openChannel(10, "qa", bundle(2, "2.0.0"))
	selfSet := openChannel(11, "beta", bundle(3, "3.0.0"))
	selfSet.AllowDeviceSelfSet = true
	def := openChannel(12, "production", bundle(4, "4.0.0"))
	app := &models.App{AppID: "com.demo.app", DefaultChannelIOSID: &def.ID}

	dev := device("1.0.0")
	dev.DefaultChannel = "beta"

	tests := []struct {
		name       string
		snap       Snapshot
		wantSource Source
		wantName   string
	}{
		{
			name:       "pin wins over everything",
			snap:       Snapshot{App: app, PinnedBundle: pinned, AssignedChannel: assigned, SelfSetChannel: selfSet, PlatformDefault: def},
			wantSource: SourcePinnedBundle,
			wantName:   "1.0.5",
		},
		{
			name:       "channel override beats self set",
			snap:       Snapshot{App: app, AssignedChannel: assigned, SelfSetChannel: selfSet, PlatformDefault: def},
			wantSource: SourceChannelOverride,
			wantName:   "2.0.0",
		},
		{
			name:       "self set beats platform default",
			snap:       Snapshot{App: app, SelfSetChannel: selfSet, PlatformDefault: def},
			wantSource: SourceSelfSetChannel,
			wantName:   "3.0.0",
		},
		{
			name:       "platform default",
			snap:       Snapshot{App: app, PlatformDefault: def},
			wantSource: SourcePlatformDefault,
			wantName:   "4.0.0",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := Evaluate(tt.snap, dev, DefaultStrategies)
			require.True(t, out.HasTarget(), "unexpected reason %q", out.Reason)
			assert.Equal(t, tt.wantSource, out.Source)
			assert.Equal(t, tt.wantName, out.Version())
		})
	}
}

func TestEvaluate_PinIgnoresChannelPolicy(t *testing.T) {
	t.Parallel()

	// The channel points at a strictly newer bundle and the pin points at an
	// older one that every channel filter would reject.
	newer := openChannel(10, "production", bundle(2, "9.0.0"))
	app := &models.App{AppID: "com.demo.app", DefaultChannelIOSID: &newer.ID}
	dev := device("2.0.0")
	dev.IsEmulator = true

	out := Evaluate(Snapshot{App: app, PinnedBundle: bundle(1, "0.1.0"), PlatformDefault: newer}, dev, DefaultStrategies)
	require.True(t, out.HasTarget())
	assert.Equal(t, "0.1.0", out.Version())
	assert.Nil(t, out.Channel)
}

func TestEvaluate_SelfSetRequiresPermission(t *testing.T) {
	t.Parallel()

	selfSet := openChannel(11, "beta", bundle(3, "3.0.0"))
	dev := device("1.0.0")
	dev.DefaultChannel = "beta"
	app := &models.App{AppID: "com.demo.app"}

	out := Evaluate(Snapshot{App: app, SelfSetChannel: selfSet}, dev, DefaultStrategies)
	assert.Equal(t, ReasonNoChannel, out.Reason)
}

func TestEvaluate_PlatformDefaultVisibility(t *testing.T) {
	t.Parallel()

	def := openChannel(12, "production", bundle(4, "1.1.0"))
	def.Public = false

	// Bound as the iOS default, so visible to iOS devices even though private.
	app := &models.App{AppID: "com.demo.app", DefaultChannelIOSID: &def.ID}
	out := Evaluate(Snapshot{App: app, PlatformDefault: def}, device("1.0.0"), DefaultStrategies)
	assert.True(t, out.HasTarget())

	// Loaded for a different binding: private and not the default for iOS.
	other := &models.App{AppID: "com.demo.app"}
	out = Evaluate(Snapshot{App: other, PlatformDefault: def}, device("1.0.0"), DefaultStrategies)
	assert.Equal(t, ReasonNoChannel, out.Reason)
}

func TestEvaluate_Filters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(ch *models.Channel, d *Device)
		target  string
		current string
		want    Reason
	}{
		{name: "up to date", target: "1.0.0", current: "1.0.0", want: ReasonNoNewVersion},
		{name: "ios disabled", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.IOS = false }, want: ReasonDisabledPlatformIOS},
		{name: "android disabled", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.Android = false; d.Platform = models.PlatformAndroid }, want: ReasonDisabledPlatformAndroid},
		{name: "emulator", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.AllowEmulator = false; d.IsEmulator = true }, want: ReasonDisableEmulator},
		{name: "dev build", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.AllowDev = false; d.IsProd = false }, want: ReasonDisableDevBuild},
		{name: "prod build", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.AllowProd = false }, want: ReasonDisableProdBuild},
		{name: "under native", target: "0.9.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdateUnderNative = true }, want: ReasonUnderNative},
		{name: "major upgrade", target: "2.0.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdateMajor }, want: ReasonToMajor},
		{name: "major downgrade", target: "1.9.0", current: "2.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdateMajor }, want: ReasonToMajor},
		{name: "minor allowed under major", target: "1.5.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdateMajor }},
		{name: "minor upgrade", target: "1.1.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdateMinor }, want: ReasonToMinor},
		{name: "patch allowed under minor", target: "1.0.7", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdateMinor }},
		{name: "patch upgrade allowed", target: "1.0.1", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdatePatch }},
		{name: "patch downgrade", target: "1.0.1", current: "1.0.2", mutate: func(ch *models.Channel, d *Device) { ch.DisableAutoUpdate = models.AutoUpdatePatch }, want: ReasonToPatch},
		{name: "min update version", target: "2.0.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) {
			ch.DisableAutoUpdate = models.AutoUpdateVersionNumber
			ch.Bundle.MinUpdateVersion = "1.5.0"
		}, want: ReasonToMetadata},
		{name: "version number without minimum", target: "2.0.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) {
			ch.DisableAutoUpdate = models.AutoUpdateVersionNumber
		}, want: ReasonMisconfiguredChannel},
		{name: "missing bundle reference", target: "2.0.0", current: "1.0.0", mutate: func(ch *models.Channel, d *Device) { ch.Bundle.StoragePath = "" }, want: ReasonNoBundle},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := openChannel(12, "production", bundle(4, tt.target))
			ch.Public = true
			dev := device(tt.current)
			if tt.mutate != nil {
				tt.mutate(ch, &dev)
			}
			app := &models.App{AppID: "com.demo.app"}
			out := Evaluate(Snapshot{App: app, PlatformDefault: ch}, dev, DefaultStrategies)
			if tt.want == "" {
				assert.True(t, out.HasTarget(), "unexpected reason %q", out.Reason)
				return
			}
			assert.Equal(t, tt.want, out.Reason)
			assert.False(t, out.HasTarget())
		})
	}
}

func TestReason_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason Reason
		want   string
	}{
		{reason: ReasonToMinor, want: "Cannot upgrade minor version"},
		{reason: ReasonToPatch, want: "Cannot update, only newer patches of the current minor version are allowed"},
		{reason: Reason("custom_reason"), want: "custom_reason"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.reason.Message(), string(tt.reason))
	}
}

func TestResolver_LoadsFromRepositories(t *testing.T) {
	db := testutil.NewDB(t)
	repos := repository.NewRepositories(db)

	older := &models.Bundle{AppID: "com.demo.app", Name: "1.0.0", ExternalURL: "https://cdn.example.com/1.0.0.zip"}
	newer := &models.Bundle{AppID: "com.demo.app", Name: "2.0.0", ExternalURL: "https://cdn.example.com/2.0.0.zip"}
	require.NoError(t, repos.Bundle.Create(older))
	require.NoError(t, repos.Bundle.Create(newer))

	prod := &models.Channel{AppID: "com.demo.app", Name: "production", BundleID: &newer.ID, IOS: true, Android: true, Public: true, AllowProd: true, AllowDev: true, AllowEmulator: true, DisableAutoUpdate: models.AutoUpdateNone}
	require.NoError(t, repos.Channel.Save(prod))
	app := &models.App{AppID: "com.demo.app", OwnerOrg: "acc", DefaultChannelIOSID: &prod.ID}
	require.NoError(t, repos.App.Create(app))

	r := NewFromRepositories(repos)
	dev := Device{AppID: "com.demo.app", DeviceID: "d1", Platform: models.PlatformIOS, CurrentVersion: semver.MustParse("0.5.0"), IsProd: true}

	out, err := r.Resolve(context.Background(), app, dev)
	require.NoError(t, err)
	require.True(t, out.HasTarget())
	assert.Equal(t, "2.0.0", out.Version())

	require.NoError(t, repos.Device.SetBundleOverride(&models.DeviceBundleOverride{AppID: "com.demo.app", DeviceID: "d1", BundleID: older.ID}))
	out, err = r.Resolve(context.Background(), app, dev)
	require.NoError(t, err)
	require.True(t, out.HasTarget())
	assert.Equal(t, "1.0.0", out.Version())
	assert.Equal(t, SourcePinnedBundle, out.Source)
}
