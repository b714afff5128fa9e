package resolver

import "github.com/ManuelReschke/BundleFox/app/models"

// Strategy selects a candidate from the snapshot or declines.
type Strategy struct {
	Source Source
	Select func(snap Snapshot, device Device) (*Selection, bool)
}

// DefaultStrategies is the precedence order, first match wins.
var DefaultStrategies = []Strategy{
	{Source: SourcePinnedBundle, Select: pinnedBundle},
	{Source: SourceChannelOverride, Select: channelOverride},
	{Source: SourceSelfSetChannel, Select: selfSetChannel},
	{Source: SourcePlatformDefault, Select: platformDefault},
}

func pinnedBundle(snap Snapshot, _ Device) (*Selection, bool) {
	if snap.PinnedBundle == nil {
		return nil, false
	}
	return &Selection{Source: SourcePinnedBundle, Bundle: snap.PinnedBundle}, true
}

func channelOverride(snap Snapshot, _ Device) (*Selection, bool) {
	if snap.AssignedChannel == nil {
		return nil, false
	}
	return fromChannel(SourceChannelOverride, snap.AssignedChannel), true
}

func selfSetChannel(snap Snapshot, device Device) (*Selection, bool) {
	ch := snap.SelfSetChannel
	if device.DefaultChannel == "" || ch == nil || ch.Name != device.DefaultChannel || !ch.AllowDeviceSelfSet {
		return nil, false
	}
	return fromChannel(SourceSelfSetChannel, ch), true
}

func platformDefault(snap Snapshot, device Device) (*Selection, bool) {
	ch := snap.PlatformDefault
	if ch == nil || snap.App == nil || !IsPublicFor(snap.App, ch, device.Platform) {
		return nil, false
	}
	return fromChannel(SourcePlatformDefault, ch), true
}

// IsPublicFor reports whether devices of a platform may reach the channel
// without an override. Binding a channel as the platform default makes it
// public for that platform regardless of its stored flag.
func IsPublicFor(app *models.App, ch *models.Channel, platform string) bool {
	return ch.Public || app.IsDefaultFor(ch.ID, platform)
}

func fromChannel(source Source, ch *models.Channel) *Selection {
	return &Selection{Source: source, Channel: ch, Bundle: ch.Bundle}
}
