package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger movement.
type EntryType string

const (
	EntryInflow  EntryType = "inflow"
	EntryOutflow EntryType = "outflow"
)

// EntrySource identifies which workflow produced a ledger entry.
// Correction entries use the "<source>_adjustment" form.
type EntrySource string

const (
	SourceContribution     EntrySource = "contribution"
	SourceLoanDisbursement EntrySource = "loan_disbursement"
	SourceLoanRepayment    EntrySource = "loan_repayment"
	SourceCashout          EntrySource = "cashout"
	SourceClaimBenefit     EntrySource = "claim_benefit"
)

// Adjustment returns the correction source for s.
func (s EntrySource) Adjustment() EntrySource {
	return s + "_adjustment"
}

// LedgerEntry is an immutable monetary movement. There is deliberately no
// UpdatedAt column: rows are never updated, corrections are new entries.
type LedgerEntry struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	Type      EntryType       `gorm:"size:16;not null"`
	Source    EntrySource     `gorm:"size:64;not null;index"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	MemberID  *uint           `gorm:"index"`
	// Reference doubles as the idempotency key: the unique index is what
	// stops concurrent double-posting for the same business event.
	Reference       string    `gorm:"size:128;not null;uniqueIndex"`
	Description     string    `gorm:"size:512"`
	TransactionDate time.Time `gorm:"not null;index"`
	CreatedBy       string    `gorm:"size:64;not null"`
}
