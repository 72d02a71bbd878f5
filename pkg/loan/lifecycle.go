// Package loan implements the loan state machine on top of the approval
// chain and the ledger: pending -> approved -> disbursed -> repaid or
// defaulted, with rejection terminal from pending. A disbursed loan never
// reverts.
package loan

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/approval"
	"kopkar/pkg/audit"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const batchSize = 200

// Lifecycle wires the loan operations to their collaborators.
type Lifecycle struct {
	db       *gorm.DB
	ledger   *ledger.Store
	chain    *approval.Chain
	notifier notify.Notifier
	audit    *audit.Recorder
}

// NewLifecycle creates a loan Lifecycle.
func NewLifecycle(db *gorm.DB, ldg *ledger.Store, chain *approval.Chain, n notify.Notifier, rec *audit.Recorder) *Lifecycle {
	return &Lifecycle{db: db, ledger: ldg, chain: chain, notifier: n, audit: rec}
}

func entity(loanID uint) approval.Entity {
	return approval.Entity{Kind: models.KindLoan, ID: loanID}
}

// Apply files a loan application and seeds its approval chain.
func (l *Lifecycle) Apply(memberID uint, amount decimal.Decimal, termMonths int, purpose string, actor models.Actor) (*models.Loan, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("loan amount must be positive, got %s", amount)
	}
	if termMonths <= 0 {
		return nil, apperr.Validationf("loan term must be at least one month")
	}
	var member models.Member
	err := l.db.First(&member, memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("member %d not found", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("load member %d: %w", memberID, err)
	}
	if member.Status != models.MemberActive {
		return nil, apperr.InvalidStatef("member %s is %s; only active members may apply for loans", member.MemberNo, member.Status)
	}
	loan := models.Loan{
		MemberID:   memberID,
		Amount:     amount,
		Status:     models.LoanPending,
		TermMonths: termMonths,
		Purpose:    purpose,
	}
	err = l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&loan).Error; err != nil {
			return fmt.Errorf("create loan: %w", err)
		}
		return l.chain.WithTx(tx).Create(entity(loan.ID))
	})
	if err != nil {
		return nil, err
	}
	notify.Fire(l.notifier, string(models.RoleBookkeeper), notify.Event{
		Type:       "loan.applied",
		EntityKind: string(models.KindLoan),
		EntityID:   loan.ID,
		MemberNo:   member.MemberNo,
		Message:    fmt.Sprintf("loan application for %s awaiting level 1 approval", amount),
	})
	l.audit.Record("loan.applied", string(models.KindLoan), loan.ID, nil, &loan, actor)
	return &loan, nil
}

// ApproveAtLevel approves the pending chain record at level. When the
// final level approves, the loan itself becomes approved and the approved
// amount defaults to the requested amount.
func (l *Lifecycle) ApproveAtLevel(id uint, level int, remarks string, actor models.Actor) (*models.Loan, error) {
	loan, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanPending {
		return nil, apperr.InvalidStatef("loan %d is %s; approvals only apply to pending loans", id, loan.Status)
	}
	before := *loan
	def, _ := approval.Lookup(models.KindLoan)

	err = l.db.Transaction(func(tx *gorm.DB) error {
		if err := l.chain.WithTx(tx).Approve(entity(id), level, actor, remarks); err != nil {
			return err
		}
		if level != def.Levels {
			return nil
		}
		now := time.Now()
		res := tx.Model(&models.Loan{}).
			Where("id = ? AND status = ?", id, models.LoanPending).
			Updates(map[string]any{
				"status":          models.LoanApproved,
				"approved_amount": loan.Amount,
				"approved_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("approve loan %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("loan %d changed state during approval", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	loan, _ = l.load(id)
	l.audit.Record("loan.approved_level", string(models.KindLoan), id, &before, loan, actor)
	return loan, nil
}

// RejectAtLevel rejects the chain at level and moves the loan to its
// terminal rejected state no matter which level rejected it.
func (l *Lifecycle) RejectAtLevel(id uint, level int, remarks string, actor models.Actor) (*models.Loan, error) {
	loan, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanPending {
		return nil, apperr.InvalidStatef("loan %d is %s; only pending loans can be rejected", id, loan.Status)
	}
	before := *loan

	err = l.db.Transaction(func(tx *gorm.DB) error {
		if err := l.chain.WithTx(tx).Reject(entity(id), level, actor, remarks); err != nil {
			return err
		}
		res := tx.Model(&models.Loan{}).
			Where("id = ? AND status = ?", id, models.LoanPending).
			Update("status", models.LoanRejected)
		if res.Error != nil {
			return fmt.Errorf("reject loan %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("loan %d changed state during rejection", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	loan, _ = l.load(id)
	l.audit.Record("loan.rejected", string(models.KindLoan), id, &before, loan, actor)
	return loan, nil
}

// Disburse pays out an approved loan: the status change and the fund
// outflow commit atomically so a disbursed loan always has its matching
// ledger entry.
func (l *Lifecycle) Disburse(id uint, actor models.Actor) (*models.Loan, error) {
	loan, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanApproved {
		return nil, apperr.InvalidStatef("loan %d is %s; only approved loans can be disbursed", id, loan.Status)
	}
	before := *loan
	now := time.Now()

	err = l.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Loan{}).
			Where("id = ? AND status = ?", id, models.LoanApproved).
			Updates(map[string]any{
				"status":            models.LoanDisbursed,
				"disbursement_date": now,
			})
		if res.Error != nil {
			return fmt.Errorf("disburse loan %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("loan %d changed state during disbursement", id)
		}
		_, err := l.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryOutflow,
			Source:          models.SourceLoanDisbursement,
			Amount:          loan.ApprovedAmount,
			MemberID:        &loan.MemberID,
			Description:     fmt.Sprintf("disbursement of loan %d", id),
			TransactionDate: now,
			Reference:       fmt.Sprintf("loan-%d-disb", id),
			Actor:           actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	loan, _ = l.load(id)
	l.audit.Record("loan.disbursed", string(models.KindLoan), id, &before, loan, actor)
	return loan, nil
}

// RecordRepayment books a repayment against a disbursed loan, posts the
// inflow, and auto-transitions to repaid once the derived outstanding
// balance reaches zero. The balance itself is never stored.
func (l *Lifecycle) RecordRepayment(id uint, amount decimal.Decimal, paymentDate time.Time, reference string, actor models.Actor) (*models.Loan, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("repayment amount must be positive, got %s", amount)
	}
	loan, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanDisbursed {
		return nil, apperr.InvalidStatef("loan %d is %s; repayments only apply to disbursed loans", id, loan.Status)
	}
	if strings.TrimSpace(reference) == "" {
		reference = fmt.Sprintf("loan-%d-rep-%s", id, uuid.NewString()[:8])
	}
	if paymentDate.IsZero() {
		paymentDate = time.Now()
	}
	before := *loan

	err = l.db.Transaction(func(tx *gorm.DB) error {
		rep := models.Repayment{
			LoanID:      id,
			Amount:      amount,
			PaymentDate: paymentDate,
			Reference:   reference,
			RecordedBy:  actor.Ref,
		}
		if err := tx.Create(&rep).Error; err != nil {
			return fmt.Errorf("create repayment: %w", err)
		}
		_, err := l.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryInflow,
			Source:          models.SourceLoanRepayment,
			Amount:          amount,
			MemberID:        &loan.MemberID,
			Description:     fmt.Sprintf("repayment on loan %d", id),
			TransactionDate: paymentDate,
			Reference:       reference,
			Actor:           actor,
		})
		if err != nil {
			return err
		}
		outstanding := loan.ApprovedAmount.Sub(repaymentSum(tx, id))
		if outstanding.GreaterThan(decimal.Zero) {
			return nil
		}
		res := tx.Model(&models.Loan{}).
			Where("id = ? AND status = ?", id, models.LoanDisbursed).
			Update("status", models.LoanRepaid)
		if res.Error != nil {
			return fmt.Errorf("mark loan %d repaid: %w", id, res.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	loan, _ = l.load(id)
	l.audit.Record("loan.repayment", string(models.KindLoan), id, &before, loan, actor)
	return loan, nil
}

func repaymentSum(tx *gorm.DB, loanID uint) decimal.Decimal {
	var reps []models.Repayment
	if err := tx.Where("loan_id = ?", loanID).Find(&reps).Error; err != nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, r := range reps {
		total = total.Add(r.Amount)
	}
	return total
}

// DefaultResult summarises a MarkDefaulted run.
type DefaultResult struct {
	Scanned int `json:"scanned"`
	Marked  int `json:"marked"`
}

// MarkDefaulted scans disbursed loans past their repayment window that
// still owe money and marks them defaulted. Chunked; each transition is
// independent and idempotent.
func (l *Lifecycle) MarkDefaulted(now time.Time, actor models.Actor) (*DefaultResult, error) {
	result := &DefaultResult{}
	var lastID uint
	for {
		var batch []models.Loan
		err := l.db.Preload("Repayments").
			Where("id > ? AND status = ?", lastID, models.LoanDisbursed).
			Order("id asc").Limit(batchSize).Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("scan disbursed loans: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			loan := &batch[i]
			lastID = loan.ID
			result.Scanned++
			if !loan.IsOverdue(now) {
				continue
			}
			res := l.db.Model(&models.Loan{}).
				Where("id = ? AND status = ?", loan.ID, models.LoanDisbursed).
				Update("status", models.LoanDefaulted)
			if res.Error != nil {
				return nil, fmt.Errorf("mark loan %d defaulted: %w", loan.ID, res.Error)
			}
			if res.RowsAffected == 1 {
				result.Marked++
				l.audit.Record("loan.defaulted", string(models.KindLoan), loan.ID, loan, nil, actor)
			}
		}
	}
	log.Printf("[loans] default sweep: scanned=%d marked=%d", result.Scanned, result.Marked)
	return result, nil
}

// Get returns the loan with repayments and approval records loaded.
func (l *Lifecycle) Get(id uint) (*models.Loan, []models.ApprovalRecord, error) {
	loan, err := l.load(id)
	if err != nil {
		return nil, nil, err
	}
	recs, err := l.chain.Records(entity(id))
	if err != nil {
		return nil, nil, err
	}
	return loan, recs, nil
}

func (l *Lifecycle) load(id uint) (*models.Loan, error) {
	var loan models.Loan
	err := l.db.Preload("Repayments").First(&loan, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("loan %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load loan %d: %w", id, err)
	}
	return &loan, nil
}
