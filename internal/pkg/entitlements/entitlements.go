package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
)

type Reason string

const (
	ReasonNeedPlanUpgrade Reason = "need_plan_upgrade"
	ReasonOnPremise       Reason = "on_premise_app"
)

// Grant names why an account was let through.
type Grant string

const (
	GrantNoUsageState Grant = "no_usage_state"
	GrantGoodPlan     Grant = "good_plan"
	GrantTrial        Grant = "trial"
	GrantCredits      Grant = "credits"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Grant   Grant
	Reason  Reason
}

func allow(g Grant) Decision { return Decision{Allowed: true, Grant: g} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// AccountSource reads accounts and the flags the usage aggregator maintains.
type AccountSource interface {
	GetByID(id string) (*models.Account, error)
	GetUsageState(accountID string) (*models.AccountUsageState, error)
}

// CreditSignal reports whether prepaid usage credits can absorb an overage.
type CreditSignal interface {
	HasActiveCredits(ctx context.Context, accountID string) (bool, error)
}

// Gate decides whether an account may receive updates. It never writes.
type Gate struct {
	accounts AccountSource
	credits  CreditSignal
	now      func() time.Time
}

func NewGate(accounts AccountSource, credits CreditSignal) *Gate {
	return &Gate{accounts: accounts, credits: credits, now: time.Now}
}

// Authorize evaluates the account's cached usage state. An account that does
// not exist is denied.
func (g *Gate) Authorize(ctx context.Context, accountID string) (Decision, error) {
	account, err := g.accounts.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[EntitlementGate] Account %s not found, denying", accountID)
			return deny(ReasonNeedPlanUpgrade), nil
		}
		return Decision{}, fmt.Errorf("load account: %w", err)
	}
	if account.OnPremise {
		return deny(ReasonOnPremise), nil
	}

	state, err := g.accounts.GetUsageState(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return allow(GrantNoUsageState), nil
		}
		return Decision{}, fmt.Errorf("load usage state: %w", err)
	}
	if state.IsGoodPlan {
		return allow(GrantGoodPlan), nil
	}
	if account.InTrial(g.now()) {
		return allow(GrantTrial), nil
	}

	if g.credits != nil {
		ok, err := g.credits.HasActiveCredits(ctx, accountID)
		if err != nil {
			log.Errorf("[EntitlementGate] Credit lookup failed for %s: %v", accountID, err)
		} else if ok {
			return allow(GrantCredits), nil
		}
	}
	return deny(ReasonNeedPlanUpgrade), nil
}
