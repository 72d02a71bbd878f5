// Package contribution handles both contribution submission channels and
// the verification pipeline that turns member-submitted payments into
// recognised fund inflows.
package contribution

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/artifact"
	"kopkar/pkg/audit"
	"kopkar/pkg/ledger"
	"kopkar/pkg/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OverdueFinePercent is the fine applied when a pending contribution runs
// past its period end, as a percentage of the contribution amount.
const OverdueFinePercent = 50

const batchSize = 200

// StaffGroup is the notification group for verification work.
const StaffGroup = "staff"

// Workflow wires the contribution operations to their collaborators.
type Workflow struct {
	db        *gorm.DB
	ledger    *ledger.Store
	notifier  notify.Notifier
	artifacts artifact.Store
	audit     *audit.Recorder
}

// NewWorkflow creates a contribution Workflow.
func NewWorkflow(db *gorm.DB, ldg *ledger.Store, n notify.Notifier, a artifact.Store, rec *audit.Recorder) *Workflow {
	return &Workflow{db: db, ledger: ldg, notifier: n, artifacts: a, audit: rec}
}

// Params holds the shared fields of both submission channels.
type Params struct {
	MemberID    uint
	PlanCode    string
	Amount      decimal.Decimal
	PaymentDate time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	// ReceiptNumber is the physical receipt's number for staff-recorded
	// contributions; generated when empty.
	ReceiptNumber string
}

func (p *Params) validate() error {
	if !p.Amount.IsPositive() {
		return apperr.Validationf("contribution amount must be positive, got %s", p.Amount)
	}
	if p.PeriodEnd.Before(p.PeriodStart) {
		return apperr.Validationf("period end %s before period start %s",
			p.PeriodEnd.Format("2006-01-02"), p.PeriodStart.Format("2006-01-02"))
	}
	if strings.TrimSpace(p.ReceiptNumber) == "" {
		p.ReceiptNumber = "CTR-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now()
	}
	return nil
}

// RecordByStaff records a contribution collected in person: the record is
// paid immediately and the fund inflow posts in the same transaction.
func (w *Workflow) RecordByStaff(p Params, actor models.Actor) (*models.Contribution, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	member, err := w.loadMember(p.MemberID)
	if err != nil {
		return nil, err
	}
	c := models.Contribution{
		MemberID:      p.MemberID,
		PlanCode:      p.PlanCode,
		Amount:        p.Amount,
		Status:        models.ContributionPaid,
		Channel:       models.ChannelStaffRecorded,
		PaymentDate:   p.PaymentDate,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		CollectedBy:   actor.Ref,
		ReceiptNumber: p.ReceiptNumber,
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&c).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperr.Conflictf("receipt number %q already recorded", p.ReceiptNumber)
			}
			return fmt.Errorf("create contribution: %w", err)
		}
		_, err := w.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryInflow,
			Source:          models.SourceContribution,
			Amount:          c.TotalAmount(),
			MemberID:        &c.MemberID,
			Description:     fmt.Sprintf("contribution %s from %s", c.ReceiptNumber, member.MemberNo),
			TransactionDate: c.PaymentDate,
			Reference:       c.ReceiptNumber,
			Actor:           actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	w.audit.Record("contribution.recorded", "contribution", c.ID, nil, &c, actor)
	return &c, nil
}

// Submit records a member-reported payment with its receipt artifact. The
// contribution stays pending, the fund recognises nothing yet, and the
// staff group is notified that verification work exists.
func (w *Workflow) Submit(p Params, fileName string, receipt io.Reader, actor models.Actor) (*models.Contribution, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, apperr.Validationf("receipt artifact required for member-submitted contributions")
	}
	member, err := w.loadMember(p.MemberID)
	if err != nil {
		return nil, err
	}
	ref, err := w.artifacts.Save(fileName, receipt)
	if err != nil {
		return nil, fmt.Errorf("store receipt artifact: %w", err)
	}
	upload := models.ReceiptUpload{
		MemberID:  p.MemberID,
		FileName:  fileName,
		StorePath: ref,
	}
	c := models.Contribution{
		MemberID:      p.MemberID,
		PlanCode:      p.PlanCode,
		Amount:        p.Amount,
		Status:        models.ContributionPending,
		Channel:       models.ChannelMemberSubmitted,
		PaymentDate:   p.PaymentDate,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		UploadedBy:    actor.Ref,
		ReceiptNumber: p.ReceiptNumber,
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&upload).Error; err != nil {
			return fmt.Errorf("create receipt upload: %w", err)
		}
		c.ReceiptUploadID = &upload.ID
		if err := tx.Create(&c).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperr.Conflictf("receipt number %q already submitted", p.ReceiptNumber)
			}
			return fmt.Errorf("create contribution: %w", err)
		}
		if err := tx.Model(&upload).Update("contribution_id", c.ID).Error; err != nil {
			return fmt.Errorf("link receipt upload: %w", err)
		}
		return nil
	})
	if err != nil {
		if delErr := w.artifacts.Delete(ref); delErr != nil {
			log.Printf("cleanup receipt artifact %q: %v", ref, delErr)
		}
		return nil, err
	}
	notify.Fire(w.notifier, StaffGroup, notify.Event{
		Type:       "contribution.submitted",
		EntityKind: "contribution",
		EntityID:   c.ID,
		MemberNo:   member.MemberNo,
		Message:    fmt.Sprintf("contribution %s awaiting verification", c.ReceiptNumber),
	})
	w.audit.Record("contribution.submitted", "contribution", c.ID, nil, &c, actor)
	return &c, nil
}

// Verify resolves a pending member-submitted contribution. Approval marks
// it paid, stamps the verifier as collector, and posts exactly one inflow
// keyed by the receipt number; rejection cancels it and the fund never
// sees an entry. Two concurrent verifiers cannot both win: the status
// update is conditional and the ledger reference is unique.
func (w *Workflow) Verify(id uint, approve bool, notes string, actor models.Actor) (*models.Contribution, error) {
	c, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if c.Channel != models.ChannelMemberSubmitted {
		return nil, apperr.InvalidStatef("contribution %d was staff-recorded; nothing to verify", id)
	}
	if c.Status != models.ContributionPending {
		return nil, apperr.InvalidStatef("contribution %d is %s; only pending contributions can be verified", id, c.Status)
	}
	before := *c

	newStatus := models.ContributionCancelled
	updates := map[string]any{
		"status":             newStatus,
		"verified_by":        actor.Ref,
		"verification_notes": notes,
	}
	if approve {
		newStatus = models.ContributionPaid
		updates["status"] = newStatus
		updates["collected_by"] = actor.Ref
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND status = ?", id, models.ContributionPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update contribution %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("contribution %d was resolved by another verifier", id)
		}
		if !approve {
			return nil
		}
		_, err := w.ledger.RecordIn(tx, ledger.RecordParams{
			Type:            models.EntryInflow,
			Source:          models.SourceContribution,
			Amount:          c.TotalAmount(),
			MemberID:        &c.MemberID,
			Description:     fmt.Sprintf("verified contribution %s", c.ReceiptNumber),
			TransactionDate: c.PaymentDate,
			Reference:       c.ReceiptNumber,
			Actor:           actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c, _ = w.load(id)
	w.audit.Record("contribution.verified", "contribution", id, &before, c, actor)
	return c, nil
}

// Update changes amount/fine. If the contribution is already financially
// recognised, the delta against the last ledger-recorded total is posted
// as a signed adjustment entry; the original entry is never touched.
func (w *Workflow) Update(id uint, newAmount, newFine decimal.Decimal, actor models.Actor) (*models.Contribution, error) {
	if !newAmount.IsPositive() {
		return nil, apperr.Validationf("contribution amount must be positive, got %s", newAmount)
	}
	if newFine.IsNegative() {
		return nil, apperr.Validationf("fine amount cannot be negative, got %s", newFine)
	}
	c, err := w.load(id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.ContributionCancelled {
		return nil, apperr.InvalidStatef("contribution %d is cancelled", id)
	}
	before := *c

	err = w.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND status = ?", id, c.Status).
			Updates(map[string]any{"amount": newAmount, "fine_amount": newFine})
		if res.Error != nil {
			return fmt.Errorf("update contribution %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("contribution %d changed state during update", id)
		}
		if c.Status != models.ContributionPaid {
			return nil // nothing recognised yet, no adjustment needed
		}
		recorded, err := w.ledger.RecordedTotal(c.ReceiptNumber)
		if err != nil {
			return err
		}
		delta := newAmount.Add(newFine).Sub(recorded)
		_, err = w.ledger.RecordAdjustment(tx, models.SourceContribution, c.ReceiptNumber, delta,
			&c.MemberID, fmt.Sprintf("correction for contribution %s", c.ReceiptNumber), time.Now(), actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	c, _ = w.load(id)
	w.audit.Record("contribution.updated", "contribution", id, &before, c, actor)
	return c, nil
}

// Delete removes a contribution while it is still pending and only for
// the original submitter. The ledger stays append-only: any entry found
// under the receipt number is reversed, never erased.
func (w *Workflow) Delete(id uint, actor models.Actor) error {
	c, err := w.load(id)
	if err != nil {
		return err
	}
	if c.Status != models.ContributionPending {
		return apperr.InvalidStatef("contribution %d is %s; only pending contributions can be deleted", id, c.Status)
	}
	if c.UploadedBy != actor.Ref {
		return apperr.Validationf("only the original submitter may delete contribution %d", id)
	}
	var artifactRef string
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := w.ledger.ReversalOrDelete(tx, c.ReceiptNumber, actor, time.Now()); err != nil {
			return err
		}
		if c.ReceiptUploadID != nil {
			var up models.ReceiptUpload
			if err := tx.First(&up, *c.ReceiptUploadID).Error; err == nil {
				artifactRef = up.StorePath
				if err := tx.Delete(&up).Error; err != nil {
					return fmt.Errorf("delete receipt upload %d: %w", up.ID, err)
				}
			}
		}
		res := tx.Where("id = ? AND status = ?", id, models.ContributionPending).
			Delete(&models.Contribution{})
		if res.Error != nil {
			return fmt.Errorf("delete contribution %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("contribution %d changed state during delete", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if artifactRef != "" {
		if err := w.artifacts.Delete(artifactRef); err != nil {
			log.Printf("delete receipt artifact %q: %v", artifactRef, err)
		}
	}
	w.audit.Record("contribution.deleted", "contribution", id, c, nil, actor)
	return nil
}

// OverdueResult summarises a MarkOverdue run.
type OverdueResult struct {
	Scanned int `json:"scanned"`
	Marked  int `json:"marked"`
}

// MarkOverdue transitions pending contributions whose period has ended to
// overdue and applies the policy fine. Records are processed in bounded
// chunks; each transition is independent and idempotent, so a crashed run
// simply resumes on the next invocation.
func (w *Workflow) MarkOverdue(now time.Time, actor models.Actor) (*OverdueResult, error) {
	result := &OverdueResult{}
	finePct := decimal.NewFromInt(OverdueFinePercent).Div(decimal.NewFromInt(100))
	var lastID uint
	for {
		var batch []models.Contribution
		err := w.db.
			Where("id > ? AND status = ? AND period_end < ?", lastID, models.ContributionPending, now).
			Order("id asc").Limit(batchSize).Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("scan pending contributions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			c := &batch[i]
			lastID = c.ID
			result.Scanned++
			res := w.db.Model(&models.Contribution{}).
				Where("id = ? AND status = ?", c.ID, models.ContributionPending).
				Updates(map[string]any{
					"status":      models.ContributionOverdue,
					"fine_amount": c.Amount.Mul(finePct),
				})
			if res.Error != nil {
				return nil, fmt.Errorf("mark contribution %d overdue: %w", c.ID, res.Error)
			}
			if res.RowsAffected == 1 {
				result.Marked++
				w.audit.Record("contribution.overdue", "contribution", c.ID, c, nil, actor)
			}
		}
	}
	log.Printf("[contributions] overdue sweep: scanned=%d marked=%d", result.Scanned, result.Marked)
	return result, nil
}

func (w *Workflow) load(id uint) (*models.Contribution, error) {
	var c models.Contribution
	err := w.db.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("contribution %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load contribution %d: %w", id, err)
	}
	return &c, nil
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

// local copy, same sniffing as pkg/ledger
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "UNIQUE constraint") ||
		strings.Contains(s, "already exists")
}
