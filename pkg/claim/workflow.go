// Package claim handles health benefit claims: eligibility-gated filing,
// a two-level approval chain, and the benefit payout.
package claim

import (
	"errors"
	"fmt"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/approval"
	"kopkar/pkg/audit"
	"kopkar/pkg/eligibility"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Workflow wires the claim operations to their collaborators.
type Workflow struct {
	db       *gorm.DB
	ledger   *ledger.Store
	chain    *approval.Chain
	eval     *eligibility.Evaluator
	notifier notify.Notifier
	audit    *audit.Recorder
}

// NewWorkflow creates a claim Workflow.
func NewWorkflow(db *gorm.DB, ldg *ledger.Store, chain *approval.Chain, eval *eligibility.Evaluator, n notify.Notifier, rec *audit.Recorder) *Workflow {
	return &Workflow{db: db, ledger: ldg, chain: chain, eval: eval, notifier: n, audit: rec}
}

func entity(claimID uint) approval.Entity {
	return approval.Entity{Kind: models.KindHealthClaim, ID: claimID}
}

// Submit files a claim if the member passes the per-type eligibility
// rules. An ineligible member gets the full reasons list back.
func (w *Workflow) Submit(memberID uint, claimType models.ClaimType, amount decimal.Decimal, details string, actor models.Actor) (*models.HealthClaim, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("claim amount must be positive, got %s", amount)
	}
	var member models.Member
	err := w.db.First(&member, memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("member %d not found", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("load member %d: %w", memberID, err)
	}

	var paidCount int64
	err = w.db.Model(&models.Contribution{}).
		Where("member_id = ? AND status = ? AND archived = ?", memberID, models.ContributionPaid, false).
		Count(&paidCount).Error
	if err != nil {
		return nil, fmt.Errorf("count paid contributions: %w", err)
	}
	res := w.eval.EvaluateClaim(eligibility.Snapshot{
		Status:                member.Status,
		RegistrationDate:      member.RegistrationDate,
		PaidContributionCount: int(paidCount),
	}, claimType, time.Now())
	if !res.Eligible {
		return nil, apperr.Ineligible(res.Reasons)
	}

	c := models.HealthClaim{
		MemberID: memberID,
		Type:     claimType,
		Amount:   amount,
		Status:   models.ClaimPending,
		Details:  details,
		FiledBy:  actor.Ref,
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("create claim: %w", err)
		}
		return w.chain.WithTx(tx).Create(entity(c.ID))
	})
	if err != nil {
		return nil, err
	}
	notify.Fire(w.notifier, string(models.RoleStaff), notify.Event{
		Type:       "claim.submitted",
		EntityKind: string(models.KindHealthClaim),
		EntityID:   c.ID,
		MemberNo:   member.MemberNo,
		Message:    fmt.Sprintf("%s claim for %s awaiting review", claimType, amount),
	})
	w.audit.Record("claim.submitted", string(models.KindHealthClaim), c.ID, nil, &c, actor)
	return &c, nil
}

// ApproveAtLevel approves the chain at level; at the final level the
// claim becomes approved with the requested amount.
func (w *Workflow) ApproveAtLevel(id uint, level int, remarks string, actor models.Actor) (*models.HealthClaim, error) {
	c, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ClaimPending {
		return nil, apperr.InvalidStatef("claim %d is %s; approvals only apply to pending claims", id, c.Status)
	}
	before := *c
	def, _ := approval.Lookup(models.KindHealthClaim)

	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := w.chain.WithTx(tx).Approve(entity(id), level, actor, remarks); err != nil {
			return err
		}
		if level != def.Levels {
			return nil
		}
		res := tx.Model(&models.HealthClaim{}).
			Where("id = ? AND status = ?", id, models.ClaimPending).
			Updates(map[string]any{
				"status":          models.ClaimApproved,
				"approved_amount": c.Amount,
			})
		if res.Error != nil {
			return fmt.Errorf("approve claim %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("claim %d changed state during approval", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c, _ = w.load(id)
	w.audit.Record("claim.approved_level", string(models.KindHealthClaim), id, &before, c, actor)
	return c, nil
}

// RejectAtLevel rejects the chain at level and the claim with it.
func (w *Workflow) RejectAtLevel(id uint, level int, remarks string, actor models.Actor) (*models.HealthClaim, error) {
	c, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ClaimPending {
		return nil, apperr.InvalidStatef("claim %d is %s; only pending claims can be rejected", id, c.Status)
	}
	before := *c

	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := w.chain.WithTx(tx).Reject(entity(id), level, actor, remarks); err != nil {
			return err
		}
		res := tx.Model(&models.HealthClaim{}).
			Where("id = ? AND status = ?", id, models.ClaimPending).
			Update("status", models.ClaimRejected)
		if res.Error != nil {
			return fmt.Errorf("reject claim %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("claim %d changed state during rejection", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c, _ = w.load(id)
	w.audit.Record("claim.rejected", string(models.KindHealthClaim), id, &before, c, actor)
	return c, nil
}

// Pay disburses the benefit for a fully approved claim; status change and
// fund outflow commit atomically.
func (w *Workflow) Pay(id uint, actor models.Actor) (*models.HealthClaim, error) {
	c, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ClaimApproved {
		return nil, apperr.InvalidStatef("claim %d is %s; only approved claims can be paid", id, c.Status)
	}
	ok, err := w.chain.IsFullyApproved(entity(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidStatef("claim %d approval chain is incomplete", id)
	}
	before := *c
	now := time.Now()

	err = w.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.HealthClaim{}).
			Where("id = ? AND status = ?", id, models.ClaimApproved).
			Updates(map[string]any{"status": models.ClaimPaid, "paid_at": now})
		if res.Error != nil {
			return fmt.Errorf("pay claim %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("claim %d changed state during payment", id)
		}
		_, err := w.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryOutflow,
			Source:          models.SourceClaimBenefit,
			Amount:          c.ApprovedAmount,
			MemberID:        &c.MemberID,
			Description:     fmt.Sprintf("benefit payout for %s claim %d", c.Type, id),
			TransactionDate: now,
			Reference:       fmt.Sprintf("claim-%d-pay", id),
			Actor:           actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c, _ = w.load(id)
	w.audit.Record("claim.paid", string(models.KindHealthClaim), id, &before, c, actor)
	return c, nil
}

func (w *Workflow) load(id uint) (*models.HealthClaim, error) {
	var c models.HealthClaim
	err := w.db.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("claim %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load claim %d: %w", id, err)
	}
	return &c, nil
}
