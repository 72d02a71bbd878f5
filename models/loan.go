package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the loan lifecycle state.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanDisbursed LoanStatus = "disbursed"
	LoanRepaid    LoanStatus = "repaid"
	LoanDefaulted LoanStatus = "defaulted"
	LoanRejected  LoanStatus = "rejected"
)

// Loan is a member loan drawn from the shared fund. OutstandingBalance is
// never stored; it is always derived from ApprovedAmount and repayments.
type Loan struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	MemberID       uint            `gorm:"not null;index"`
	Member         Member          `gorm:"foreignKey:MemberID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ApprovedAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Status         LoanStatus      `gorm:"size:16;not null;index"`
	TermMonths     int             `gorm:"not null"`
	Purpose        string          `gorm:"size:512"`
	ApprovedAt     *time.Time
	DisbursementDate *time.Time
	Repayments     []Repayment `gorm:"foreignKey:LoanID"`
}

// OutstandingBalance derives the amount still owed from the loaded
// repayments slice.
func (l *Loan) OutstandingBalance() decimal.Decimal {
	out := l.ApprovedAmount
	for _, r := range l.Repayments {
		out = out.Sub(r.Amount)
	}
	return out
}

// RepaymentDeadline is the end of the repayment window: disbursement date
// plus the term in calendar months. Zero time if not yet disbursed.
func (l *Loan) RepaymentDeadline() time.Time {
	if l.DisbursementDate == nil {
		return time.Time{}
	}
	return l.DisbursementDate.AddDate(0, l.TermMonths, 0)
}

// IsOverdue reports whether the loan is past its repayment window with a
// positive outstanding balance. Requires Repayments to be loaded.
func (l *Loan) IsOverdue(now time.Time) bool {
	if l.Status != LoanDisbursed || l.DisbursementDate == nil {
		return false
	}
	return now.After(l.RepaymentDeadline()) && l.OutstandingBalance().IsPositive()
}

// Repayment is a single repayment against a disbursed loan.
type Repayment struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	LoanID      uint            `gorm:"not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PaymentDate time.Time       `gorm:"not null"`
	Reference   string          `gorm:"size:128;not null"`
	RecordedBy  string          `gorm:"size:64;not null"`
}
