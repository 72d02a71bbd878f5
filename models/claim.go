package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimType is the closed set of health benefit claim types.
type ClaimType string

const (
	ClaimOutpatient   ClaimType = "outpatient"
	ClaimInpatient    ClaimType = "inpatient"
	ClaimMaternity    ClaimType = "maternity"
	ClaimDeathBenefit ClaimType = "death_benefit"
)

// ClaimStatus is the health claim lifecycle state.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
	ClaimPaid     ClaimStatus = "paid"
)

// HealthClaim is a benefit claim gated by per-type eligibility rules and a
// two-level approval chain (EntityKind health_claim).
type HealthClaim struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	MemberID  uint            `gorm:"not null;index"`
	Member    Member          `gorm:"foreignKey:MemberID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Type      ClaimType       `gorm:"size:32;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ApprovedAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Status    ClaimStatus     `gorm:"size:16;not null;index"`
	Details   string          `gorm:"size:512"`
	FiledBy   string          `gorm:"size:64;not null"`
	PaidAt    *time.Time
}
