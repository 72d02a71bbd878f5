package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionStatus is the contribution lifecycle state.
type ContributionStatus string

const (
	ContributionPaid      ContributionStatus = "paid"
	ContributionPending   ContributionStatus = "pending"
	ContributionOverdue   ContributionStatus = "overdue"
	ContributionCancelled ContributionStatus = "cancelled"
)

// ContributionChannel distinguishes how a contribution entered the system.
type ContributionChannel string

const (
	ChannelStaffRecorded   ContributionChannel = "staff_recorded"
	ChannelMemberSubmitted ContributionChannel = "member_submitted"
)

// Contribution is a member's periodic payment into the shared fund.
// Staff-recorded contributions are paid on creation; member-submitted ones
// stay pending until a staff verifier resolves them.
type Contribution struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	MemberID  uint                `gorm:"not null;index"`
	Member    Member              `gorm:"foreignKey:MemberID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	PlanCode  string              `gorm:"size:64"`
	Amount    decimal.Decimal     `gorm:"type:numeric(14,2);not null"`
	FineAmount decimal.Decimal    `gorm:"type:numeric(14,2);not null;default:0"`
	Status    ContributionStatus  `gorm:"size:16;not null;index"`
	Channel   ContributionChannel `gorm:"size:32;not null"`
	PaymentDate time.Time         `gorm:"not null"`
	PeriodStart time.Time         `gorm:"not null"`
	PeriodEnd   time.Time         `gorm:"not null;index"`
	// CollectedBy is set for staff-recorded contributions and, on
	// verification, for member-submitted ones (collector = verifier).
	CollectedBy       string `gorm:"size:64"`
	UploadedBy        string `gorm:"size:64"`
	VerifiedBy        string `gorm:"size:64"`
	VerificationNotes string `gorm:"size:512"`
	// ReceiptNumber keys the ledger inflow for this contribution; unique so
	// a receipt can never be financially recognised twice.
	ReceiptNumber   string         `gorm:"size:64;not null;uniqueIndex"`
	ReceiptUploadID *uint          `gorm:"index"`
	ReceiptUpload   *ReceiptUpload `gorm:"foreignKey:ReceiptUploadID"`
	// Archived marks paid contributions already consumed by a cashout so
	// they are not recounted toward future cashout eligibility.
	Archived bool `gorm:"not null;default:false;index"`
}

// TotalAmount is the financially recognised value of the contribution.
func (c *Contribution) TotalAmount() decimal.Decimal {
	return c.Amount.Add(c.FineAmount)
}
