// Package cashout implements the eligibility-gated withdrawal pipeline:
// pending -> verified -> approved -> disbursed, with rejection allowed
// from pending or verified. This is a linear single-step gate, not a
// multi-level approval chain.
package cashout

import (
	"errors"
	"fmt"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/audit"
	"kopkar/pkg/eligibility"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"gorm.io/gorm"
)

// MemberGroup is the notification group for cashout status updates.
const MemberGroup = "members"

// Workflow wires the cashout operations to their collaborators.
type Workflow struct {
	db       *gorm.DB
	ledger   *ledger.Store
	eval     *eligibility.Evaluator
	notifier notify.Notifier
	audit    *audit.Recorder
}

// NewWorkflow creates a cashout Workflow.
func NewWorkflow(db *gorm.DB, ldg *ledger.Store, eval *eligibility.Evaluator, n notify.Notifier, rec *audit.Recorder) *Workflow {
	return &Workflow{db: db, ledger: ldg, eval: eval, notifier: n, audit: rec}
}

// CheckEligibility evaluates the cashout ruleset plus the hard negative
// gates for the member and returns the full reasons list.
func (w *Workflow) CheckEligibility(memberID uint) (eligibility.Result, error) {
	member, err := w.loadMember(memberID)
	if err != nil {
		return eligibility.Result{}, err
	}
	snap, err := w.snapshot(member)
	if err != nil {
		return eligibility.Result{}, err
	}
	return w.eval.EvaluateCashout(snap, time.Now()), nil
}

// snapshot assembles the evaluator input from current member state. Only
// paid, non-archived contributions count; archived ones were consumed by
// an earlier cashout.
func (w *Workflow) snapshot(member *models.Member) (eligibility.Snapshot, error) {
	snap := eligibility.Snapshot{
		Status:           member.Status,
		RegistrationDate: member.RegistrationDate,
		EligibleAmount:   member.EligibleAmount,
	}

	var paidCount int64
	err := w.db.Model(&models.Contribution{}).
		Where("member_id = ? AND status = ? AND archived = ?", member.ID, models.ContributionPaid, false).
		Count(&paidCount).Error
	if err != nil {
		return snap, fmt.Errorf("count paid contributions: %w", err)
	}
	snap.PaidContributionCount = int(paidCount)

	var loans int64
	err = w.db.Model(&models.Loan{}).
		Where("member_id = ? AND status IN ?", member.ID,
			[]models.LoanStatus{models.LoanPending, models.LoanApproved, models.LoanDisbursed}).
		Count(&loans).Error
	if err != nil {
		return snap, fmt.Errorf("count active loans: %w", err)
	}
	snap.HasActiveLoan = loans > 0

	var claims int64
	err = w.db.Model(&models.HealthClaim{}).
		Where("member_id = ? AND status IN ?", member.ID,
			[]models.ClaimStatus{models.ClaimPending, models.ClaimApproved}).
		Count(&claims).Error
	if err != nil {
		return snap, fmt.Errorf("count open claims: %w", err)
	}
	snap.HasPendingClaims = claims > 0

	var enrollments int64
	err = w.db.Model(&models.ProgramEnrollment{}).
		Where("member_id = ? AND status = ?", member.ID, models.EnrollmentActive).
		Count(&enrollments).Error
	if err != nil {
		return snap, fmt.Errorf("count active enrollments: %w", err)
	}
	snap.HasActiveEnrollments = enrollments > 0

	var cashouts int64
	err = w.db.Model(&models.CashoutRequest{}).
		Where("member_id = ? AND status IN ?", member.ID,
			[]models.CashoutStatus{models.CashoutPending, models.CashoutVerified, models.CashoutApproved}).
		Count(&cashouts).Error
	if err != nil {
		return snap, fmt.Errorf("count open cashout requests: %w", err)
	}
	snap.HasPendingCashout = cashouts > 0

	return snap, nil
}

// CreateRequest opens a cashout request, snapshotting the amount and bank
// details from the member profile. Fails with IneligibleError carrying
// the complete reasons list when any gate is closed.
func (w *Workflow) CreateRequest(memberID uint, actor models.Actor) (*models.CashoutRequest, error) {
	member, err := w.loadMember(memberID)
	if err != nil {
		return nil, err
	}
	snap, err := w.snapshot(member)
	if err != nil {
		return nil, err
	}
	res := w.eval.EvaluateCashout(snap, time.Now())
	if !res.Eligible {
		return nil, apperr.Ineligible(res.Reasons)
	}

	req := models.CashoutRequest{
		MemberID:        memberID,
		Status:          models.CashoutPending,
		RequestedAmount: member.EligibleAmount,
		BankName:        member.BankName,
		BankAccountNo:   member.BankAccountNo,
		RequestedBy:     actor.Ref,
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return fmt.Errorf("create cashout request: %w", err)
		}
		// Stamp the recomputed eligibility start date; this is a workflow
		// action, the evaluator itself never writes it.
		return tx.Model(&models.Member{}).Where("id = ?", memberID).
			Update("eligibility_start_date", res.EligibilityStartDate).Error
	})
	if err != nil {
		return nil, err
	}
	w.audit.Record("cashout.requested", "cashout", req.ID, nil, &req, actor)
	return &req, nil
}

// Verify moves a pending request to verified.
func (w *Workflow) Verify(id uint, actor models.Actor) (*models.CashoutRequest, error) {
	return w.step(id, models.CashoutPending, models.CashoutVerified,
		map[string]any{"verified_by": actor.Ref}, "cashout.verified", actor)
}

// Approve moves a verified request to approved, fixing the payout amount.
func (w *Workflow) Approve(id uint, actor models.Actor) (*models.CashoutRequest, error) {
	req, err := w.load(id)
	if err != nil {
		return nil, err
	}
	return w.step(id, models.CashoutVerified, models.CashoutApproved,
		map[string]any{"approved_by": actor.Ref, "approved_amount": req.RequestedAmount},
		"cashout.approved", actor)
}

// Reject terminates a request from pending or verified.
func (w *Workflow) Reject(id uint, reason string, actor models.Actor) (*models.CashoutRequest, error) {
	req, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.CashoutPending && req.Status != models.CashoutVerified {
		return nil, apperr.InvalidStatef("cashout %d is %s; rejection only applies before approval", id, req.Status)
	}
	return w.step(id, req.Status, models.CashoutRejected,
		map[string]any{"rejected_by": actor.Ref, "reject_reason": reason},
		"cashout.rejected", actor)
}

// step performs one conditional pipeline transition.
func (w *Workflow) step(id uint, from, to models.CashoutStatus, extra map[string]any, action string, actor models.Actor) (*models.CashoutRequest, error) {
	req, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if req.Status != from {
		return nil, apperr.InvalidStatef("cashout %d is %s; expected %s", id, req.Status, from)
	}
	before := *req
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := w.db.Model(&models.CashoutRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition cashout %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflictf("cashout %d changed state during transition", id)
	}
	req, _ = w.load(id)
	w.audit.Record(action, "cashout", id, &before, req, actor)
	return req, nil
}

// Disburse pays out an approved request. In one transaction: the status
// change, the fund outflow, the member cashout bookkeeping (eligibility
// start date reset so the member must requalify), and the idempotent
// archival of the paid contributions the cashout consumed.
func (w *Workflow) Disburse(id uint, actor models.Actor) (*models.CashoutRequest, error) {
	req, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.CashoutApproved {
		return nil, apperr.InvalidStatef("cashout %d is %s; only approved requests can be disbursed", id, req.Status)
	}
	before := *req
	now := time.Now()
	reference := fmt.Sprintf("cashout-%d-disb", id)

	err = w.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CashoutRequest{}).
			Where("id = ? AND status = ?", id, models.CashoutApproved).
			Updates(map[string]any{
				"status":                 models.CashoutDisbursed,
				"disbursed_by":           actor.Ref,
				"disbursement_reference": reference,
			})
		if res.Error != nil {
			return fmt.Errorf("disburse cashout %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("cashout %d changed state during disbursement", id)
		}
		_, err := w.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryOutflow,
			Source:          models.SourceCashout,
			Amount:          req.ApprovedAmount,
			MemberID:        &req.MemberID,
			Description:     fmt.Sprintf("cashout disbursement %d", id),
			TransactionDate: now,
			Reference:       reference,
			Actor:           actor,
		})
		if err != nil {
			return err
		}
		err = tx.Model(&models.Member{}).Where("id = ?", req.MemberID).
			Updates(map[string]any{
				"last_cashout_date":      now,
				"cashout_count":          gorm.Expr("cashout_count + 1"),
				"eligibility_start_date": nil,
			}).Error
		if err != nil {
			return fmt.Errorf("update member cashout bookkeeping: %w", err)
		}
		// Annotation, not deletion: archived contributions stay on the
		// books, they just stop counting toward the next cashout.
		err = tx.Model(&models.Contribution{}).
			Where("member_id = ? AND status = ? AND archived = ?", req.MemberID, models.ContributionPaid, false).
			Update("archived", true).Error
		if err != nil {
			return fmt.Errorf("archive consumed contributions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	req, _ = w.load(id)
	member, _ := w.loadMember(req.MemberID)
	if member != nil {
		notify.Fire(w.notifier, MemberGroup, notify.Event{
			Type:       "cashout.disbursed",
			EntityKind: "cashout",
			EntityID:   id,
			MemberNo:   member.MemberNo,
			Message:    fmt.Sprintf("cashout of %s disbursed (ref %s)", req.ApprovedAmount, reference),
		})
	}
	w.audit.Record("cashout.disbursed", "cashout", id, &before, req, actor)
	return req, nil
}

func (w *Workflow) load(id uint) (*models.CashoutRequest, error) {
	var req models.CashoutRequest
	err := w.db.First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("cashout request %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load cashout request %d: %w", id, err)
	}
	return &req, nil
}

func (w *Workflow) loadMember(id uint) (*models.Member, error) {
	var m models.Member
	err := w.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("member %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load member %d: %w", id, err)
	}
	return &m, nil
}
