package controllers

// Controllers groups the handlers served under /api/v1.
type Controllers struct {
	Updates     *UpdateController
	ChannelSelf *ChannelSelfController
	Bundles     *BundleController
	Channels    *ChannelController
	Devices     *DeviceController
	Triggers    *TriggerController
	Accounts    *AccountController
}

// New builds all controllers from one set of dependencies.
func New(deps Dependencies) *Controllers {
	return &Controllers{
		Updates:     NewUpdateController(deps.Updates),
		ChannelSelf: NewChannelSelfController(deps.Repos, deps.Limiter),
		Bundles:     NewBundleController(deps),
		Channels:    NewChannelController(deps.Repos),
		Devices:     NewDeviceController(deps.Repos),
		Triggers:    NewTriggerController(deps),
		Accounts:    NewAccountController(deps.Repos, deps.Ledger),
	}
}
