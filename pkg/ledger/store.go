// Package ledger is the append-only journal of monetary movements for the
// shared fund. Balances are always derived from entries; there is no
// update API and no stored balance column anywhere.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store records and reads ledger entries.
type Store struct {
	db *gorm.DB
}

// NewStore creates a ledger Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordParams holds the fields of a new ledger entry.
type RecordParams struct {
	Type            models.EntryType
	Source          models.EntrySource
	Amount          decimal.Decimal
	MemberID        *uint
	Description     string
	TransactionDate time.Time
	// Reference is the idempotency key; a second Record with the same
	// reference fails with ConflictError instead of double-posting.
	Reference string
	Actor     models.Actor
}

// Record appends a new entry outside any caller transaction.
func (s *Store) Record(p RecordParams) (*models.LedgerEntry, error) {
	return s.RecordIn(s.db, p)
}

// RecordIn appends a new entry using the caller's transaction handle so a
// status change and its ledger side effect commit or roll back together.
func (s *Store) RecordIn(tx *gorm.DB, p RecordParams) (*models.LedgerEntry, error) {
	if !p.Amount.IsPositive() {
		return nil, apperr.Validationf("ledger amount must be positive, got %s", p.Amount)
	}
	if p.Type != models.EntryInflow && p.Type != models.EntryOutflow {
		return nil, apperr.Validationf("unknown entry type %q", p.Type)
	}
	if strings.TrimSpace(p.Reference) == "" {
		return nil, apperr.Validationf("ledger reference required")
	}
	if p.Actor.IsZero() {
		return nil, apperr.Validationf("actor required")
	}
	entry := models.LedgerEntry{
		Type:            p.Type,
		Source:          p.Source,
		Amount:          p.Amount,
		MemberID:        p.MemberID,
		Reference:       p.Reference,
		Description:     p.Description,
		TransactionDate: p.TransactionDate,
		CreatedBy:       p.Actor.Ref,
	}
	if err := tx.Create(&entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperr.Conflictf("ledger entry already recorded for reference %q", p.Reference)
		}
		return nil, fmt.Errorf("record ledger entry: %w", err)
	}
	return &entry, nil
}

// RecordAdjustment posts a correction entry for a previously recorded
// reference, signed by the delta direction. A zero delta records nothing.
func (s *Store) RecordAdjustment(tx *gorm.DB, source models.EntrySource, baseReference string, delta decimal.Decimal, memberID *uint, description string, transactionDate time.Time, actor models.Actor) (*models.LedgerEntry, error) {
	if delta.IsZero() {
		return nil, nil
	}
	entryType := models.EntryInflow
	if delta.IsNegative() {
		entryType = models.EntryOutflow
	}
	return s.RecordIn(tx, RecordParams{
		Type:            entryType,
		Source:          source.Adjustment(),
		Amount:          delta.Abs(),
		MemberID:        memberID,
		Description:     description,
		TransactionDate: transactionDate,
		Reference:       adjustmentReference(baseReference),
		Actor:           actor,
	})
}

func adjustmentReference(base string) string {
	return base + "-adj-" + uuid.NewString()[:8]
}

// ReversalOrDelete handles the pending-entity deletion path. The ledger
// stays append-only: if an entry exists for the reference a full reversal
// is posted; only a reference with no entry at all results in a no-op.
func (s *Store) ReversalOrDelete(tx *gorm.DB, reference string, actor models.Actor, now time.Time) error {
	var entry models.LedgerEntry
	err := tx.Where("reference = ?", reference).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // nothing was ever financially recognised
	}
	if err != nil {
		return fmt.Errorf("lookup ledger entry %q: %w", reference, err)
	}
	reversalType := models.EntryOutflow
	if entry.Type == models.EntryOutflow {
		reversalType = models.EntryInflow
	}
	_, err = s.RecordIn(tx, RecordParams{
		Type:            reversalType,
		Source:          entry.Source.Adjustment(),
		Amount:          entry.Amount,
		MemberID:        entry.MemberID,
		Description:     "reversal of " + reference,
		TransactionDate: now,
		Reference:       reference + "-rev",
		Actor:           actor,
	})
	return err
}

// EntryByReference returns the entry recorded under reference.
func (s *Store) EntryByReference(reference string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.Where("reference = ?", reference).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("no ledger entry for reference %q", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ledger entry %q: %w", reference, err)
	}
	return &entry, nil
}

// RecordedTotal returns the signed sum already recorded for a reference,
// including its adjustment entries (inflow positive, outflow negative).
func (s *Store) RecordedTotal(reference string) (decimal.Decimal, error) {
	var entries []models.LedgerEntry
	err := s.db.
		Where("reference = ? OR reference LIKE ?", reference, reference+"-adj-%").
		Find(&entries).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum recorded total for %q: %w", reference, err)
	}
	return signedSum(entries), nil
}

// CurrentBalance derives the fund balance from all entries.
func (s *Store) CurrentBalance() (decimal.Decimal, error) {
	return s.balance(s.db)
}

// BalanceAsOf derives the fund balance over entries with a transaction
// date at or before the given date.
func (s *Store) BalanceAsOf(date time.Time) (decimal.Decimal, error) {
	return s.balance(s.db.Where("transaction_date <= ?", date))
}

func (s *Store) balance(q *gorm.DB) (decimal.Decimal, error) {
	var entries []models.LedgerEntry
	if err := q.Select("type", "amount").Find(&entries).Error; err != nil {
		return decimal.Zero, fmt.Errorf("load ledger entries: %w", err)
	}
	return signedSum(entries), nil
}

func signedSum(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Type == models.EntryOutflow {
			total = total.Sub(e.Amount)
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

// Entries lists recent entries, newest first.
func (s *Store) Entries(limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var entries []models.LedgerEntry
	if err := s.db.Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// isUniqueConstraintError sniffs driver-specific unique violation text
// (postgres and sqlite both covered).
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
