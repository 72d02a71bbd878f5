// Package eligibility is the pure rule engine deciding benefit access.
// Evaluation never mutates anything and never short-circuits: every
// violated rule lands in the reasons list so the member gets a complete
// remediation checklist, not just the first failure.
package eligibility

import (
	"fmt"
	"time"

	"kopkar/models"

	"github.com/shopspring/decimal"
)

// Ruleset holds the configurable thresholds gating benefits.
type Ruleset struct {
	MinMembershipDays          int
	MinContributionsByClaim    map[models.ClaimType]int
	MinCashoutMembershipMonths int
	MinCashoutContributions    int
}

// DefaultRuleset returns the cooperative's standing policy values.
func DefaultRuleset() Ruleset {
	return Ruleset{
		MinMembershipDays: 60,
		MinContributionsByClaim: map[models.ClaimType]int{
			models.ClaimOutpatient:   1,
			models.ClaimInpatient:    5,
			models.ClaimMaternity:    3,
			models.ClaimDeathBenefit: 1,
		},
		MinCashoutMembershipMonths: 12,
		MinCashoutContributions:    6,
	}
}

// Snapshot is the member state the evaluator reasons over. Callers are
// responsible for counting only status=="paid", non-archived contributions
// into PaidContributionCount.
type Snapshot struct {
	Status                models.MemberStatus
	RegistrationDate      time.Time
	PaidContributionCount int
	HasActiveLoan         bool
	HasPendingClaims      bool // pending or approved-but-unpaid health claims
	HasActiveEnrollments  bool
	HasPendingCashout     bool
	EligibleAmount        decimal.Decimal
}

// Result is the evaluation outcome. Reasons is ordered and display-ready.
type Result struct {
	Eligible             bool
	Reasons              []string
	EligibilityStartDate time.Time
}

// Evaluator applies a Ruleset to member snapshots.
type Evaluator struct {
	rules Ruleset
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(rules Ruleset) *Evaluator {
	return &Evaluator{rules: rules}
}

// EligibilityStartDate is registration date plus the minimum membership
// period. Recomputed on demand; the evaluator never writes it anywhere.
func (e *Evaluator) EligibilityStartDate(registration time.Time) time.Time {
	return registration.AddDate(0, 0, e.rules.MinMembershipDays)
}

// EvaluateClaim checks whether the member may file a claim of the given
// type at time now.
func (e *Evaluator) EvaluateClaim(snap Snapshot, claimType models.ClaimType, now time.Time) Result {
	res := Result{EligibilityStartDate: e.EligibilityStartDate(snap.RegistrationDate)}
	if snap.Status != models.MemberActive {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Member status is %q; active membership required.", snap.Status))
	}
	if now.Before(res.EligibilityStartDate) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Membership began %s; claims allowed from %s (%d days minimum).",
			snap.RegistrationDate.Format("2006-01-02"),
			res.EligibilityStartDate.Format("2006-01-02"),
			e.rules.MinMembershipDays))
	}
	min, ok := e.rules.MinContributionsByClaim[claimType]
	if !ok {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Unknown claim type %q.", claimType))
	} else if snap.PaidContributionCount < min {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d paid contributions; %d required.", snap.PaidContributionCount, min))
	}
	res.Eligible = len(res.Reasons) == 0
	return res
}

// EvaluateCashout checks whether the member may request a cashout at time
// now, including the hard negative gates.
func (e *Evaluator) EvaluateCashout(snap Snapshot, now time.Time) Result {
	res := Result{EligibilityStartDate: e.EligibilityStartDate(snap.RegistrationDate)}
	if snap.Status != models.MemberActive {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Member status is %q; active membership required.", snap.Status))
	}
	// Calendar-month tenure check, not a day-count division.
	tenureStart := snap.RegistrationDate.AddDate(0, e.rules.MinCashoutMembershipMonths, 0)
	if now.Before(tenureStart) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Membership began %s; %d full months required before cashout.",
			snap.RegistrationDate.Format("2006-01-02"),
			e.rules.MinCashoutMembershipMonths))
	}
	if snap.PaidContributionCount < e.rules.MinCashoutContributions {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d paid contributions; %d required.",
			snap.PaidContributionCount, e.rules.MinCashoutContributions))
	}
	if snap.HasActiveLoan {
		res.Reasons = append(res.Reasons, "Member has active loans that must be fully repaid first")
	}
	if snap.HasPendingClaims {
		res.Reasons = append(res.Reasons, "Member has pending or approved health claims awaiting settlement.")
	}
	if snap.HasActiveEnrollments {
		res.Reasons = append(res.Reasons, "Member has active program enrollments.")
	}
	if snap.HasPendingCashout {
		res.Reasons = append(res.Reasons, "Member already has a pending cashout request.")
	}
	if !snap.EligibleAmount.IsPositive() {
		res.Reasons = append(res.Reasons, "No eligible amount available for cashout.")
	}
	res.Eligible = len(res.Reasons) == 0
	return res
}
