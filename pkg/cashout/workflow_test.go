package cashout

import (
	"testing"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/audit"
	"kopkar/pkg/eligibility"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	memberActor = models.Actor{Ref: "member-1", Role: models.RoleMember}
	staff       = models.Actor{Ref: "staff-1", Role: models.RoleStaff}
	treasurer   = models.Actor{Ref: "tr-1", Role: models.RoleTreasurer}
)

func newTestWorkflow(t *testing.T) (*Workflow, *gorm.DB, *ledger.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	ldg := ledger.NewStore(db)
	w := NewWorkflow(db, ldg, eligibility.NewEvaluator(eligibility.DefaultRuleset()), notify.Nop{}, audit.NewRecorder(db))
	return w, db, ldg
}

// seedEligibleMember creates an active two-year member with six paid
// contributions and a positive eligible amount.
func seedEligibleMember(t *testing.T, db *gorm.DB) *models.Member {
	t.Helper()
	m := models.Member{
		MemberNo:         "KOP-1001",
		Name:             "Test Member",
		Status:           models.MemberActive,
		RegistrationDate: time.Now().AddDate(-2, 0, 0),
		EligibleAmount:   decimal.NewFromInt(500000),
		BankName:         "Bank Test",
		BankAccountNo:    "0123456789",
	}
	require.NoError(t, db.Create(&m).Error)
	for i := 0; i < 6; i++ {
		c := models.Contribution{
			MemberID:      m.ID,
			Amount:        decimal.NewFromInt(1000),
			Status:        models.ContributionPaid,
			Channel:       models.ChannelStaffRecorded,
			PaymentDate:   time.Now().AddDate(0, -i, 0),
			PeriodStart:   time.Now().AddDate(0, -i-1, 0),
			PeriodEnd:     time.Now().AddDate(0, -i, 0),
			ReceiptNumber: "RCV-" + string(rune('A'+i)),
		}
		require.NoError(t, db.Create(&c).Error)
	}
	return &m
}

func TestCheckEligibilityEligible(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)

	res, err := w.CheckEligibility(m.ID)
	require.NoError(t, err)
	require.True(t, res.Eligible)
	require.Empty(t, res.Reasons)
}

func TestActiveLoanBlocksCashout(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)
	require.NoError(t, db.Create(&models.Loan{
		MemberID: m.ID, Amount: decimal.NewFromInt(10000),
		Status: models.LoanDisbursed, TermMonths: 12,
	}).Error)

	res, err := w.CheckEligibility(m.ID)
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Contains(t, res.Reasons, "Member has active loans that must be fully repaid first")

	// CreateRequest surfaces the same reasons as a typed error.
	_, err = w.CreateRequest(m.ID, memberActor)
	var inel *apperr.IneligibleError
	require.ErrorAs(t, err, &inel)
	require.Contains(t, inel.Reasons, "Member has active loans that must be fully repaid first")

	// A repaid loan no longer blocks.
	require.NoError(t, db.Model(&models.Loan{}).Where("member_id = ?", m.ID).
		Update("status", models.LoanRepaid).Error)
	res, err = w.CheckEligibility(m.ID)
	require.NoError(t, err)
	require.True(t, res.Eligible)
}

func TestCreateRequestSnapshotsProfile(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)

	req, err := w.CreateRequest(m.ID, memberActor)
	require.NoError(t, err)
	require.Equal(t, models.CashoutPending, req.Status)
	require.True(t, req.RequestedAmount.Equal(decimal.NewFromInt(500000)))
	require.Equal(t, "Bank Test", req.BankName)
	require.Equal(t, "0123456789", req.BankAccountNo)

	// Eligibility start date was stamped on the member.
	var reloaded models.Member
	require.NoError(t, db.First(&reloaded, m.ID).Error)
	require.NotNil(t, reloaded.EligibilityStartDate)

	// A second open request is blocked.
	_, err = w.CreateRequest(m.ID, memberActor)
	var inel *apperr.IneligibleError
	require.ErrorAs(t, err, &inel)
	require.Contains(t, inel.Reasons, "Member already has a pending cashout request.")
}

func TestPipelineOrderEnforced(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)

	req, err := w.CreateRequest(m.ID, memberActor)
	require.NoError(t, err)

	var ise *apperr.InvalidStateError
	_, err = w.Approve(req.ID, treasurer) // must be verified first
	require.ErrorAs(t, err, &ise)
	_, err = w.Disburse(req.ID, treasurer)
	require.ErrorAs(t, err, &ise)

	verified, err := w.Verify(req.ID, staff)
	require.NoError(t, err)
	require.Equal(t, models.CashoutVerified, verified.Status)
	require.Equal(t, "staff-1", verified.VerifiedBy)

	approved, err := w.Approve(req.ID, treasurer)
	require.NoError(t, err)
	require.Equal(t, models.CashoutApproved, approved.Status)
	require.True(t, approved.ApprovedAmount.Equal(approved.RequestedAmount))

	// Approved requests can no longer be rejected.
	_, err = w.Reject(req.ID, "too late", treasurer)
	require.ErrorAs(t, err, &ise)
}

func TestRejectFromPendingAndVerified(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)

	req, err := w.CreateRequest(m.ID, memberActor)
	require.NoError(t, err)
	rejected, err := w.Reject(req.ID, "documents missing", staff)
	require.NoError(t, err)
	require.Equal(t, models.CashoutRejected, rejected.Status)
	require.Equal(t, "documents missing", rejected.RejectReason)

	// The rejected request no longer blocks a new one.
	req2, err := w.CreateRequest(m.ID, memberActor)
	require.NoError(t, err)
	_, err = w.Verify(req2.ID, staff)
	require.NoError(t, err)
	rejected, err = w.Reject(req2.ID, "", staff)
	require.NoError(t, err)
	require.Equal(t, models.CashoutRejected, rejected.Status)
}

func TestDisburseSideEffects(t *testing.T) {
	w, db, ldg := newTestWorkflow(t)
	m := seedEligibleMember(t, db)

	req, err := w.CreateRequest(m.ID, memberActor)
	require.NoError(t, err)
	_, err = w.Verify(req.ID, staff)
	require.NoError(t, err)
	_, err = w.Approve(req.ID, treasurer)
	require.NoError(t, err)

	disbursed, err := w.Disburse(req.ID, treasurer)
	require.NoError(t, err)
	require.Equal(t, models.CashoutDisbursed, disbursed.Status)
	require.Equal(t, "tr-1", disbursed.DisbursedBy)

	// Outflow posted under the disbursement reference.
	entry, err := ldg.EntryByReference(disbursed.DisbursementReference)
	require.NoError(t, err)
	require.Equal(t, models.EntryOutflow, entry.Type)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(500000)))

	// Member bookkeeping: count bumped, eligibility reset.
	var reloaded models.Member
	require.NoError(t, db.First(&reloaded, m.ID).Error)
	require.Equal(t, 1, reloaded.CashoutCount)
	require.NotNil(t, reloaded.LastCashoutDate)
	require.Nil(t, reloaded.EligibilityStartDate)

	// Consumed contributions archived, not deleted.
	var archived, total int64
	require.NoError(t, db.Model(&models.Contribution{}).
		Where("member_id = ? AND archived = ?", m.ID, true).Count(&archived).Error)
	require.NoError(t, db.Model(&models.Contribution{}).
		Where("member_id = ?", m.ID).Count(&total).Error)
	require.EqualValues(t, 6, archived)
	require.EqualValues(t, 6, total)

	// Double disbursement is rejected and posts nothing further.
	var ise *apperr.InvalidStateError
	_, err = w.Disburse(req.ID, treasurer)
	require.ErrorAs(t, err, &ise)
	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&entries).Error)
	require.EqualValues(t, 1, entries)

	// The member must requalify: archived contributions no longer count.
	res, err := w.CheckEligibility(m.ID)
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Contains(t, res.Reasons, "0 paid contributions; 6 required.")
}

func TestActiveEnrollmentBlocksCashout(t *testing.T) {
	w, db, _ := newTestWorkflow(t)
	m := seedEligibleMember(t, db)
	require.NoError(t, db.Create(&models.ProgramEnrollment{
		MemberID: m.ID, ProgramCode: "SAVINGS-PLUS",
		Status: models.EnrollmentActive, EnrolledAt: time.Now(),
	}).Error)

	res, err := w.CheckEligibility(m.ID)
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Contains(t, res.Reasons, "Member has active program enrollments.")
}

func TestCheckEligibilityUnknownMember(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	_, err := w.CheckEligibility(999)
	var nfe *apperr.NotFoundError
	require.ErrorAs(t, err, &nfe)
}
