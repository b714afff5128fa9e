package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
)

const accountEventLimit = 50

// AccountController reports usage flags and the credit ledger of an account
type AccountController struct {
	repos  *repository.Repositories
	ledger *billing.Service
}

func NewAccountController(repos *repository.Repositories, ledger *billing.Service) *AccountController {
	return &AccountController{repos: repos, ledger: ledger}
}

// HandleUsage answers GET /private/account/usage?account_id=
func (ac *AccountController) HandleUsage(c *fiber.Ctx) error {
	accountID := c.Query("account_id")
	if accountID == "" {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrMissingInfo, "Cannot find account_id")
	}
	account, err := ac.repos.Account.GetByID(accountID)
	if err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, constants.ErrAccountNotFound, "Account "+accountID+" not found")
		}
		return internalError(c, "load account", err)
	}

	// A missing state row means usage was never computed.
	state, err := ac.repos.Account.GetUsageState(accountID)
	if err != nil && !isNotFound(err) {
		return internalError(c, "load usage state", err)
	}
	balance, err := ac.ledger.CreditBalance(c.UserContext(), accountID)
	if err != nil {
		return internalError(c, "load credit balance", err)
	}
	events, err := ac.ledger.ListEvents(c.UserContext(), accountID, accountEventLimit)
	if err != nil {
		return internalError(c, "list overage events", err)
	}

	return c.JSON(fiber.Map{
		"account": account,
		"state":   state,
		"credits": balance,
		"events":  events,
	})
}
