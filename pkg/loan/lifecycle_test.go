package loan

import (
	"testing"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/approval"
	"kopkar/pkg/audit"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	member     = models.Actor{Ref: "member-1", Role: models.RoleMember}
	bookkeeper = models.Actor{Ref: "bk-1", Role: models.RoleBookkeeper}
	treasurer  = models.Actor{Ref: "tr-1", Role: models.RoleTreasurer}
	manager    = models.Actor{Ref: "mg-1", Role: models.RoleManager}
)

func newTestLifecycle(t *testing.T) (*Lifecycle, *gorm.DB, *ledger.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	ldg := ledger.NewStore(db)
	l := NewLifecycle(db, ldg, approval.NewChain(db), notify.Nop{}, audit.NewRecorder(db))
	return l, db, ldg
}

func seedMember(t *testing.T, db *gorm.DB, status models.MemberStatus) *models.Member {
	t.Helper()
	m := models.Member{
		MemberNo:         "KOP-1001",
		Name:             "Test Member",
		Status:           status,
		RegistrationDate: time.Now().AddDate(-2, 0, 0),
	}
	require.NoError(t, db.Create(&m).Error)
	return &m
}

// approveAll walks the full three-level chain.
func approveAll(t *testing.T, l *Lifecycle, id uint) *models.Loan {
	t.Helper()
	_, err := l.ApproveAtLevel(id, 1, "", bookkeeper)
	require.NoError(t, err)
	_, err = l.ApproveAtLevel(id, 2, "", treasurer)
	require.NoError(t, err)
	loan, err := l.ApproveAtLevel(id, 3, "", manager)
	require.NoError(t, err)
	return loan
}

func TestApplySeedsChain(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "motorbike repair", member)
	require.NoError(t, err)
	require.Equal(t, models.LoanPending, loan.Status)

	_, recs, err := l.Get(loan.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, models.RoleBookkeeper, recs[0].ApproverRole)
}

func TestApplyRequiresActiveMember(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberSuspended)

	_, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)

	_, err = l.Apply(999, decimal.NewFromInt(12000), 12, "", member)
	var nfe *apperr.NotFoundError
	require.ErrorAs(t, err, &nfe)

	_, err = l.Apply(m.ID, decimal.Zero, 12, "", member)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestFinalApprovalSetsApprovedAmount(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	require.NoError(t, err)

	// First two levels leave the loan pending.
	mid, err := l.ApproveAtLevel(loan.ID, 1, "", bookkeeper)
	require.NoError(t, err)
	require.Equal(t, models.LoanPending, mid.Status)
	mid, err = l.ApproveAtLevel(loan.ID, 2, "", treasurer)
	require.NoError(t, err)
	require.Equal(t, models.LoanPending, mid.Status)

	final, err := l.ApproveAtLevel(loan.ID, 3, "", manager)
	require.NoError(t, err)
	require.Equal(t, models.LoanApproved, final.Status)
	require.True(t, final.ApprovedAmount.Equal(decimal.NewFromInt(12000)))
	require.NotNil(t, final.ApprovedAt)
}

func TestRejectAtAnyLevelIsTerminal(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	require.NoError(t, err)
	_, err = l.ApproveAtLevel(loan.ID, 1, "", bookkeeper)
	require.NoError(t, err)

	rejected, err := l.RejectAtLevel(loan.ID, 2, "insufficient capacity", treasurer)
	require.NoError(t, err)
	require.Equal(t, models.LoanRejected, rejected.Status)

	// The chain halted; nothing more can happen.
	_, err = l.ApproveAtLevel(loan.ID, 2, "", treasurer)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)
	_, err = l.Disburse(loan.ID, treasurer)
	require.ErrorAs(t, err, &ise)
}

func TestDisbursePostsOutflowAtomically(t *testing.T) {
	l, db, ldg := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	require.NoError(t, err)

	// Pending loans cannot be disbursed.
	_, err = l.Disburse(loan.ID, treasurer)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)

	approveAll(t, l, loan.ID)
	disbursed, err := l.Disburse(loan.ID, treasurer)
	require.NoError(t, err)
	require.Equal(t, models.LoanDisbursed, disbursed.Status)
	require.NotNil(t, disbursed.DisbursementDate)

	entry, err := ldg.EntryByReference("loan-1-disb")
	require.NoError(t, err)
	require.Equal(t, models.EntryOutflow, entry.Type)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(12000)))

	// Double disbursement loses the conditional update.
	_, err = l.Disburse(loan.ID, treasurer)
	require.ErrorAs(t, err, &ise)
	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepaymentsDeriveBalanceAndAutoRepay(t *testing.T) {
	l, db, ldg := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	require.NoError(t, err)
	approveAll(t, l, loan.ID)
	_, err = l.Disburse(loan.ID, treasurer)
	require.NoError(t, err)

	after, err := l.RecordRepayment(loan.ID, decimal.NewFromInt(6000), time.Time{}, "rep-1", staffActor())
	require.NoError(t, err)
	require.Equal(t, models.LoanDisbursed, after.Status)
	require.True(t, after.OutstandingBalance().Equal(decimal.NewFromInt(6000)), "got %s", after.OutstandingBalance())

	after, err = l.RecordRepayment(loan.ID, decimal.NewFromInt(6000), time.Time{}, "rep-2", staffActor())
	require.NoError(t, err)
	require.Equal(t, models.LoanRepaid, after.Status)
	require.True(t, after.OutstandingBalance().IsZero())

	// Outflow of 12000 fully recovered by two 6000 inflows.
	bal, err := ldg.CurrentBalance()
	require.NoError(t, err)
	require.True(t, bal.IsZero(), "got %s", bal)

	// No further repayments on a repaid loan.
	_, err = l.RecordRepayment(loan.ID, decimal.NewFromInt(100), time.Time{}, "rep-3", staffActor())
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func staffActor() models.Actor {
	return models.Actor{Ref: "staff-1", Role: models.RoleStaff}
}

func TestDuplicateRepaymentReferenceConflicts(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 12, "", member)
	require.NoError(t, err)
	approveAll(t, l, loan.ID)
	_, err = l.Disburse(loan.ID, treasurer)
	require.NoError(t, err)

	_, err = l.RecordRepayment(loan.ID, decimal.NewFromInt(1000), time.Time{}, "rep-1", staffActor())
	require.NoError(t, err)
	_, err = l.RecordRepayment(loan.ID, decimal.NewFromInt(1000), time.Time{}, "rep-1", staffActor())
	var ce *apperr.ConflictError
	require.ErrorAs(t, err, &ce)

	// The losing attempt rolled back its repayment row too.
	reloaded, err := l.load(loan.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Repayments, 1)
}

func TestMarkDefaulted(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(12000), 6, "", member)
	require.NoError(t, err)
	approveAll(t, l, loan.ID)
	_, err = l.Disburse(loan.ID, treasurer)
	require.NoError(t, err)

	// Inside the window: nothing marked.
	res, err := l.MarkDefaulted(time.Now(), staffActor())
	require.NoError(t, err)
	require.Equal(t, 1, res.Scanned)
	require.Equal(t, 0, res.Marked)

	// Past disbursement + 6 months with money still owed: defaulted.
	future := time.Now().AddDate(0, 7, 0)
	res, err = l.MarkDefaulted(future, staffActor())
	require.NoError(t, err)
	require.Equal(t, 1, res.Marked)

	var reloaded models.Loan
	require.NoError(t, db.First(&reloaded, loan.ID).Error)
	require.Equal(t, models.LoanDefaulted, reloaded.Status)

	// Idempotent on re-run.
	res, err = l.MarkDefaulted(future, staffActor())
	require.NoError(t, err)
	require.Equal(t, 0, res.Marked)
}

func TestMarkDefaultedSkipsFullyRepaid(t *testing.T) {
	l, db, _ := newTestLifecycle(t)
	m := seedMember(t, db, models.MemberActive)

	loan, err := l.Apply(m.ID, decimal.NewFromInt(5000), 6, "", member)
	require.NoError(t, err)
	approveAll(t, l, loan.ID)
	_, err = l.Disburse(loan.ID, treasurer)
	require.NoError(t, err)
	_, err = l.RecordRepayment(loan.ID, decimal.NewFromInt(5000), time.Time{}, "rep-1", staffActor())
	require.NoError(t, err)

	res, err := l.MarkDefaulted(time.Now().AddDate(0, 7, 0), staffActor())
	require.NoError(t, err)
	require.Equal(t, 0, res.Marked)
}
