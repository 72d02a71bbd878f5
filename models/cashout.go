package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashoutStatus is the cashout request pipeline state.
type CashoutStatus string

const (
	CashoutPending   CashoutStatus = "pending"
	CashoutVerified  CashoutStatus = "verified"
	CashoutApproved  CashoutStatus = "approved"
	CashoutDisbursed CashoutStatus = "disbursed"
	CashoutRejected  CashoutStatus = "rejected"
)

// CashoutRequest is an eligibility-gated withdrawal of a member's eligible
// amount. It moves through a linear single-step gate, not a level chain.
type CashoutRequest struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	MemberID  uint          `gorm:"not null;index"`
	Member    Member        `gorm:"foreignKey:MemberID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Status    CashoutStatus `gorm:"size:16;not null;index"`
	// Amounts and bank details are snapshotted from the member profile at
	// request time so later profile edits cannot change a pending payout.
	RequestedAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ApprovedAmount  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	BankName        string          `gorm:"size:128"`
	BankAccountNo   string          `gorm:"size:64"`
	DisbursementReference string    `gorm:"size:128"`
	RequestedBy     string          `gorm:"size:64;not null"`
	VerifiedBy      string          `gorm:"size:64"`
	ApprovedBy      string          `gorm:"size:64"`
	DisbursedBy     string          `gorm:"size:64"`
	RejectedBy      string          `gorm:"size:64"`
	RejectReason    string          `gorm:"size:512"`
}
