package eligibility

import (
	"fmt"
	"testing"
	"time"

	"kopkar/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func goodSnapshot() Snapshot {
	return Snapshot{
		Status:                models.MemberActive,
		RegistrationDate:      now.AddDate(-2, 0, 0),
		PaidContributionCount: 10,
		EligibleAmount:        decimal.NewFromInt(500000),
	}
}

func TestEvaluateClaimEligible(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	res := e.EvaluateClaim(goodSnapshot(), models.ClaimInpatient, now)
	assert.True(t, res.Eligible)
	assert.Empty(t, res.Reasons)
}

func TestEvaluateClaimCollectsAllViolations(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := Snapshot{
		Status:                models.MemberPending,
		RegistrationDate:      now.AddDate(0, 0, -10), // inside the 60-day window
		PaidContributionCount: 2,
	}
	res := e.EvaluateClaim(snap, models.ClaimInpatient, now)
	require.False(t, res.Eligible)
	// No short-circuit: status, tenure and contribution-count all reported.
	require.Len(t, res.Reasons, 3)
	assert.Equal(t, `Member status is "pending"; active membership required.`, res.Reasons[0])
	assert.Contains(t, res.Reasons[1], "60 days minimum")
	assert.Equal(t, "2 paid contributions; 5 required.", res.Reasons[2])
}

func TestEvaluateClaimThresholdPerType(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := goodSnapshot()
	snap.PaidContributionCount = 2

	// Two paid contributions clear outpatient (min 1) but not inpatient
	// (min 5).
	assert.True(t, e.EvaluateClaim(snap, models.ClaimOutpatient, now).Eligible)

	res := e.EvaluateClaim(snap, models.ClaimInpatient, now)
	require.False(t, res.Eligible)
	assert.Equal(t, []string{"2 paid contributions; 5 required."}, res.Reasons)
}

func TestEvaluateClaimUnknownType(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	res := e.EvaluateClaim(goodSnapshot(), models.ClaimType("dental"), now)
	require.False(t, res.Eligible)
	assert.Equal(t, []string{`Unknown claim type "dental".`}, res.Reasons)
}

func TestEligibilityStartDateIsCalendarAware(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	reg := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), e.EligibilityStartDate(reg))

	// Day before the boundary fails, the boundary itself passes.
	snap := goodSnapshot()
	snap.RegistrationDate = reg
	res := e.EvaluateClaim(snap, models.ClaimOutpatient, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	assert.False(t, res.Eligible)
	res = e.EvaluateClaim(snap, models.ClaimOutpatient, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.True(t, res.Eligible)
}

func TestEvaluateCashoutEligible(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	res := e.EvaluateCashout(goodSnapshot(), now)
	assert.True(t, res.Eligible)
	assert.Empty(t, res.Reasons)
}

func TestEvaluateCashoutActiveLoanBlocks(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := goodSnapshot()
	snap.HasActiveLoan = true
	res := e.EvaluateCashout(snap, now)
	require.False(t, res.Eligible)
	assert.Equal(t, []string{"Member has active loans that must be fully repaid first"}, res.Reasons)
}

func TestEvaluateCashoutTenureIsCalendarMonths(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := goodSnapshot()
	snap.RegistrationDate = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// One day short of 12 calendar months.
	res := e.EvaluateCashout(snap, time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC))
	require.False(t, res.Eligible)
	assert.Contains(t, res.Reasons[0], "12 full months required")

	res = e.EvaluateCashout(snap, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, res.Eligible)
}

func TestEvaluateCashoutCollectsEveryGate(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := Snapshot{
		Status:                models.MemberSuspended,
		RegistrationDate:      now.AddDate(0, -3, 0),
		PaidContributionCount: 1,
		HasActiveLoan:         true,
		HasPendingClaims:      true,
		HasActiveEnrollments:  true,
		HasPendingCashout:     true,
		EligibleAmount:        decimal.Zero,
	}
	res := e.EvaluateCashout(snap, now)
	require.False(t, res.Eligible)
	require.Len(t, res.Reasons, 8)
	assert.Equal(t, "1 paid contributions; 6 required.", res.Reasons[2])
	assert.Equal(t, "Member has active loans that must be fully repaid first", res.Reasons[3])
	assert.Equal(t, "No eligible amount available for cashout.", res.Reasons[7])
}

func TestEvaluationIsDeterministic(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())
	snap := goodSnapshot()
	snap.HasActiveLoan = true
	snap.HasPendingCashout = true

	first := e.EvaluateCashout(snap, now)
	for i := 0; i < 5; i++ {
		again := e.EvaluateCashout(snap, now)
		require.Equal(t, first, again, fmt.Sprintf("run %d diverged", i))
	}
}
