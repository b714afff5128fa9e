package models

import "fmt"

// Error codes for channel/app default consistency violations.
const (
	ErrCodePublicWithoutPlatform = "public_channel_without_platform"
	ErrCodeDefaultDropsPlatform  = "default_channel_platform_required"
	ErrCodeDefaultConflict       = "default_channel_conflict"
	ErrCodeDefaultWrongApp       = "default_channel_wrong_app"
)

// ValidationError is returned when a mutation would break a channel invariant.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateChannel checks a channel about to be persisted against the
// platform/public invariants and the defaults currently bound on its app.
// app may be nil when the channel is not yet referenced anywhere.
func ValidateChannel(ch *Channel, app *App) error {
	if ch.Public && !ch.IOS && !ch.Android {
		return &ValidationError{
			Code:    ErrCodePublicWithoutPlatform,
			Message: "a public channel must support ios or android",
		}
	}
	if app == nil || ch.ID == 0 {
		return nil
	}
	for _, platform := range []string{PlatformIOS, PlatformAndroid} {
		if app.IsDefaultFor(ch.ID, platform) && !ch.SupportsPlatform(platform) {
			return &ValidationError{
				Code:    ErrCodeDefaultDropsPlatform,
				Message: fmt.Sprintf("channel %q is the %s default and must keep %s support", ch.Name, platform, platform),
			}
		}
	}

	// A default supporting both platforms, or any default of a synced app,
	// must not sit next to a different default for the other platform.
	shared := ch.IOS && ch.Android
	for _, pair := range [][2]string{{PlatformIOS, PlatformAndroid}, {PlatformAndroid, PlatformIOS}} {
		platform, other := pair[0], pair[1]
		if !app.IsDefaultFor(ch.ID, platform) || (!shared && !app.DefaultChannelSync) {
			continue
		}
		if id := app.DefaultChannelFor(other); id != nil && *id != ch.ID {
			return &ValidationError{
				Code:    ErrCodeDefaultConflict,
				Message: fmt.Sprintf("channel %q is the %s default, %s default must be unset or the same channel", ch.Name, platform, other),
			}
		}
	}
	return nil
}

// ValidateAppDefaults checks a proposed pair of platform defaults. Either
// channel may be nil to unset that platform's default.
func ValidateAppDefaults(app *App, ios, android *Channel) error {
	bindings := []struct {
		platform string
		ch       *Channel
	}{{PlatformIOS, ios}, {PlatformAndroid, android}}
	for _, b := range bindings {
		platform, ch := b.platform, b.ch
		if ch == nil {
			continue
		}
		if ch.AppID != app.AppID {
			return &ValidationError{
				Code:    ErrCodeDefaultWrongApp,
				Message: fmt.Sprintf("channel %q does not belong to app %s", ch.Name, app.AppID),
			}
		}
		if !ch.SupportsPlatform(platform) {
			return &ValidationError{
				Code:    ErrCodeDefaultDropsPlatform,
				Message: fmt.Sprintf("channel %q does not support %s", ch.Name, platform),
			}
		}
	}

	sameChannel := ios != nil && android != nil && ios.ID == android.ID
	if ios != nil && ios.IOS && ios.Android && android != nil && !sameChannel {
		return &ValidationError{
			Code:    ErrCodeDefaultConflict,
			Message: fmt.Sprintf("channel %q supports both platforms, android default must be unset or the same channel", ios.Name),
		}
	}
	if android != nil && android.IOS && android.Android && ios != nil && !sameChannel {
		return &ValidationError{
			Code:    ErrCodeDefaultConflict,
			Message: fmt.Sprintf("channel %q supports both platforms, ios default must be unset or the same channel", android.Name),
		}
	}
	if app.DefaultChannelSync && !sameChannel && (ios != nil || android != nil) {
		return &ValidationError{
			Code:    ErrCodeDefaultConflict,
			Message: "app requires both platform defaults to point to the same channel",
		}
	}
	return nil
}
