package constants

// Route prefixes
const (
	APIPrefix      = "/api"
	APIV1Prefix    = "/v1"
	TriggersPrefix = "/triggers"
	DocsPath       = "/docs"
)
