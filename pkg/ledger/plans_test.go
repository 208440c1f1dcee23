package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestParsePlan(test *testing.T) {
	test.Parallel()
	plan, err := ParsePlan(" Professional ")
	if err != nil || plan != PlanProfessional {
		test.Fatalf("expected professional, got %q (%v)", plan, err)
	}
	if _, err := ParsePlan("platinum"); !errors.Is(err, ErrInvalidPlan) {
		test.Fatalf(errorMismatchMessage, ErrInvalidPlan, err)
	}
}

func TestPlanGrants(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		plan    Plan
		initial Tokens
		monthly Tokens
	}{
		{plan: PlanHobby, initial: 100, monthly: 100},
		{plan: PlanCreator, initial: 300, monthly: 300},
		{plan: PlanProfessional, initial: 800, monthly: 800},
		{plan: PlanEnterprise, initial: 0, monthly: 0},
		{plan: Plan("legacy"), initial: 0, monthly: 0},
	}
	for _, testCase := range testCases {
		if testCase.plan.InitialGrant() != testCase.initial || testCase.plan.MonthlyGrant() != testCase.monthly {
			test.Fatalf("%s: unexpected grants %d/%d", testCase.plan, testCase.plan.InitialGrant(), testCase.plan.MonthlyGrant())
		}
	}
}

func TestPlanRollover(test *testing.T) {
	test.Parallel()
	if got := PlanProfessional.Rollover(201); got != 100 {
		test.Fatalf("expected floor rollover 100, got %d", got)
	}
	if got := PlanProfessional.RenewedAmount(200); got != 900 {
		test.Fatalf("expected 900, got %d", got)
	}
	if got := PlanCreator.Rollover(500); got != 0 {
		test.Fatalf("expected no rollover for creator, got %d", got)
	}
}

func TestNextRenewalAdvancesCalendarMonth(test *testing.T) {
	test.Parallel()
	from := time.Date(2026, time.March, 15, 8, 30, 0, 0, time.UTC)
	if got := nextRenewal(from); !got.Equal(time.Date(2026, time.April, 15, 8, 30, 0, 0, time.UTC)) {
		test.Fatalf("unexpected next renewal %s", got)
	}
	endOfMonth := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	if got := nextRenewal(endOfMonth); !got.Equal(time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)) {
		test.Fatalf("unexpected overflow handling %s", got)
	}
}
