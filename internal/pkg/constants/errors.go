package constants

// Stable error codes returned in the "error" field of API responses.
const (
	ErrMissingInfo          = "missing_info"
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidPlatform      = "invalid_platform"
	ErrSemver               = "semver_error"
	ErrInvalidVersionFormat = "invalid_version_format"
	ErrAppNotFound          = "app_not_found"
	ErrChannelNotFound      = "channel_not_found"
	ErrBundleNotFound       = "bundle_not_found"
	ErrAccountNotFound      = "account_not_found"
	ErrBundleExists         = "bundle_already_exists"
	ErrBundleInUse          = "bundle_in_use"
	ErrInvalidBundleURL     = "invalid_bundle_url"
	ErrCannotGetBundle      = "cannot_get_bundle"
	ErrSelfSetNotAllowed    = "channel_self_set_not_allowed"
	ErrCannotOverride       = "cannot_override"
	ErrNeedPlanUpgrade      = "need_plan_upgrade"
	ErrOnPremiseApp         = "on_premise_app"
	ErrTooManyRequests      = "too_many_requests"
	ErrUnauthorized         = "unauthorized"
	ErrInternal             = "internal_error"
)
