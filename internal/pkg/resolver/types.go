package resolver

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

// Reason explains why no bundle is offered to a device.
type Reason string

const (
	ReasonNoChannel               Reason = "no_channel"
	ReasonNoBundle                Reason = "no_bundle"
	ReasonNoNewVersion            Reason = "no_new_version"
	ReasonDisabledPlatformIOS     Reason = "disabled_platform_ios"
	ReasonDisabledPlatformAndroid Reason = "disabled_platform_android"
	ReasonDisableEmulator         Reason = "disable_emulator"
	ReasonDisableDevBuild         Reason = "disable_dev_build"
	ReasonDisableProdBuild        Reason = "disable_prod_build"
	ReasonUnderNative             Reason = "disable_auto_update_under_native"
	ReasonToMajor                 Reason = "disable_auto_update_to_major"
	ReasonToMinor                 Reason = "disable_auto_update_to_minor"
	ReasonToPatch                 Reason = "disable_auto_update_to_patch"
	ReasonToMetadata              Reason = "disable_auto_update_to_metadata"
	ReasonMisconfiguredChannel    Reason = "misconfigured_channel"
)

var reasonMessages = map[Reason]string{
	ReasonNoChannel:               "No channel available for this device",
	ReasonNoBundle:                "Cannot get bundle",
	ReasonNoNewVersion:            "No new version available",
	ReasonDisabledPlatformIOS:     "Cannot update, ios is disabled",
	ReasonDisabledPlatformAndroid: "Cannot update, android is disabled",
	ReasonDisableEmulator:         "Cannot update, emulator is disabled",
	ReasonDisableDevBuild:         "Cannot update, dev build is disabled",
	ReasonDisableProdBuild:        "Cannot update, prod build is disabled",
	ReasonUnderNative:             "Cannot revert under native version",
	ReasonToMajor:                 "Cannot upgrade major version",
	ReasonToMinor:                 "Cannot upgrade minor version",
	ReasonToPatch:                 "Cannot update, only newer patches of the current minor version are allowed",
	ReasonToMetadata:              "Cannot upgrade version, min update version > current version",
	ReasonMisconfiguredChannel:    "Channel is misconfigured",
}

// Message returns a human readable description of the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Source names the precedence level that produced a selection.
type Source string

const (
	SourcePinnedBundle    Source = "device_bundle_override"
	SourceChannelOverride Source = "device_channel_override"
	SourceSelfSetChannel  Source = "device_default_channel"
	SourcePlatformDefault Source = "app_platform_default"
)

// Device is the part of an update check the resolver looks at.
type Device struct {
	AppID          string
	DeviceID       string
	Platform       string
	CurrentVersion *semver.Version
	// NativeVersion is the version shipped with the native binary, if known.
	NativeVersion  *semver.Version
	IsEmulator     bool
	IsProd         bool
	DefaultChannel string
}

// Snapshot holds every record resolution may need, loaded up front.
type Snapshot struct {
	App             *models.App
	PinnedBundle    *models.Bundle
	AssignedChannel *models.Channel
	SelfSetChannel  *models.Channel
	PlatformDefault *models.Channel
}

// Selection is the candidate produced by a strategy before filtering.
type Selection struct {
	Source  Source
	Channel *models.Channel
	Bundle  *models.Bundle
}

// Outcome is either a target bundle or a reason for not offering one.
type Outcome struct {
	Source  Source
	Channel *models.Channel
	Bundle  *models.Bundle
	Reason  Reason
}

// HasTarget reports whether a bundle should be delivered.
func (o Outcome) HasTarget() bool {
	return o.Reason == "" && o.Bundle != nil
}

// Version returns the name of the selected bundle, if any.
func (o Outcome) Version() string {
	if o.Bundle == nil {
		return ""
	}
	return o.Bundle.Name
}

func noTarget(sel *Selection, reason Reason) Outcome {
	if sel == nil {
		return Outcome{Reason: reason}
	}
	return Outcome{Source: sel.Source, Channel: sel.Channel, Bundle: sel.Bundle, Reason: reason}
}
