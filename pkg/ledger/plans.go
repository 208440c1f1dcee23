package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanHobby        Plan = "hobby"
	PlanCreator      Plan = "creator"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"

	// DefaultPlan is assigned when a balance is created implicitly.
	DefaultPlan = PlanHobby
)

type planPolicy struct {
	initialGrant    Tokens
	monthlyGrant    Tokens
	rolloverPercent int64
}

// Enterprise grants are set manually.
var planPolicies = map[Plan]planPolicy{
	PlanHobby:        {initialGrant: 100, monthlyGrant: 100},
	PlanCreator:      {initialGrant: 300, monthlyGrant: 300},
	PlanProfessional: {initialGrant: 800, monthlyGrant: 800, rolloverPercent: 50},
	PlanEnterprise:   {},
}

// ParsePlan validates a plan name.
func ParsePlan(raw string) (Plan, error) {
	plan := Plan(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := planPolicies[plan]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, raw)
	}
	return plan, nil
}

// String returns the plan name.
func (plan Plan) String() string {
	return string(plan)
}

// InitialGrant is the balance a new account on this plan starts with.
func (plan Plan) InitialGrant() Tokens {
	return planPolicies[plan].initialGrant
}

// MonthlyGrant is the amount granted on each renewal. Unknown plans grant nothing.
func (plan Plan) MonthlyGrant() Tokens {
	return planPolicies[plan].monthlyGrant
}

// Rollover returns the part of amount carried into the next period.
func (plan Plan) Rollover(amount Tokens) Tokens {
	percent := planPolicies[plan].rolloverPercent
	if percent == 0 || amount <= 0 {
		return 0
	}
	return Tokens(amount.Int64() * percent / 100)
}

// RenewedAmount is the balance after a renewal replaces amount.
func (plan Plan) RenewedAmount(amount Tokens) Tokens {
	return plan.MonthlyGrant() + plan.Rollover(amount)
}

// nextRenewal advances a renewal date by one calendar month.
// Month overflow normalizes the same way time.AddDate does (Jan 31 -> Mar 3).
func nextRenewal(from time.Time) time.Time {
	return from.AddDate(0, 1, 0)
}
