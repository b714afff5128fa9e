package resolver

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

// Evaluate runs the strategies in order and filters the first selection.
// It performs no I/O.
func Evaluate(snap Snapshot, device Device, strategies []Strategy) Outcome {
	for _, s := range strategies {
		sel, ok := s.Select(snap, device)
		if !ok {
			continue
		}
		return filter(sel, device)
	}
	return noTarget(nil, ReasonNoChannel)
}

func filter(sel *Selection, device Device) Outcome {
	b := sel.Bundle
	if b == nil || b.Deleted || (!b.HasArchive() && !b.HasManifest()) {
		return noTarget(sel, ReasonNoBundle)
	}
	if device.CurrentVersion != nil && b.Name == device.CurrentVersion.String() {
		return noTarget(sel, ReasonNoNewVersion)
	}

	// A pin is authoritative: channel policy does not apply.
	if sel.Channel == nil {
		return Outcome{Source: sel.Source, Bundle: b}
	}

	if reason := channelPolicy(sel.Channel, b, device); reason != "" {
		return noTarget(sel, reason)
	}
	return Outcome{Source: sel.Source, Channel: sel.Channel, Bundle: b}
}

func channelPolicy(ch *models.Channel, b *models.Bundle, device Device) Reason {
	if !ch.SupportsPlatform(device.Platform) {
		if device.Platform == models.PlatformAndroid {
			return ReasonDisabledPlatformAndroid
		}
		return ReasonDisabledPlatformIOS
	}
	if device.IsEmulator && !ch.AllowEmulator {
		return ReasonDisableEmulator
	}
	if !ch.AllowsEnvironment(device.IsProd) {
		if device.IsProd {
			return ReasonDisableProdBuild
		}
		return ReasonDisableDevBuild
	}

	target, err := semver.Coerce(b.Name)
	if err != nil {
		// Bundle names are validated on publish; treat anything else as unusable.
		return ReasonNoBundle
	}
	if ch.DisableAutoUpdateUnderNative && device.NativeVersion != nil && target.LessThan(device.NativeVersion) {
		return ReasonUnderNative
	}
	if device.CurrentVersion == nil {
		return ""
	}
	return crossesBoundary(ch, b, target, device.CurrentVersion)
}

func crossesBoundary(ch *models.Channel, b *models.Bundle, target, current *semver.Version) Reason {
	switch ch.Policy() {
	case models.AutoUpdateMajor:
		if target.Major() != current.Major() {
			return ReasonToMajor
		}
	case models.AutoUpdateMinor:
		if target.Major() != current.Major() || target.Minor() != current.Minor() {
			return ReasonToMinor
		}
	case models.AutoUpdatePatch:
		if target.Major() != current.Major() || target.Minor() != current.Minor() || target.Patch() <= current.Patch() {
			return ReasonToPatch
		}
	case models.AutoUpdateVersionNumber:
		if b.MinUpdateVersion == "" {
			return ReasonMisconfiguredChannel
		}
		min, err := semver.Coerce(b.MinUpdateVersion)
		if err != nil {
			return ReasonMisconfiguredChannel
		}
		if min.GreaterThan(current) {
			return ReasonToMetadata
		}
	}
	return ""
}
