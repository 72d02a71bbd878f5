package models

import "time"

// ApprovalStatus is the per-level state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// EntityKind is the closed set of entity kinds that can carry an approval
// chain. Stringly-typed dispatch is not allowed; new kinds must be added
// here and registered in pkg/approval.
type EntityKind string

const (
	KindLoan        EntityKind = "loan"
	KindHealthClaim EntityKind = "health_claim"
)

// ApprovalRecord is one authorization checkpoint of a chain. The unique
// index guarantees at most one record per (entity, level).
type ApprovalRecord struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	EntityKind   EntityKind     `gorm:"size:32;not null;uniqueIndex:idx_approvals_entity_level"`
	EntityID     uint           `gorm:"not null;uniqueIndex:idx_approvals_entity_level"`
	Level        int            `gorm:"not null;uniqueIndex:idx_approvals_entity_level"`
	ApproverRole Role           `gorm:"size:32;not null"`
	Status       ApprovalStatus `gorm:"size:16;not null;default:'pending';index"`
	Remarks      string         `gorm:"size:512"`
	ApproverRef  string         `gorm:"size:64"`
	ApprovedAt   *time.Time // resolution time, set for both approve and reject
}
