package models

import "time"

// AuditLog is a best-effort record of a workflow transition. Failures to
// write audit rows never abort the transition they describe.
type AuditLog struct {
	ID         uint `gorm:"primaryKey"`
	CreatedAt  time.Time
	Action     string `gorm:"size:64;not null;index"`
	EntityKind string `gorm:"size:32;not null;index"`
	EntityID   uint   `gorm:"not null;index"`
	Before     string `gorm:"type:text"`
	After      string `gorm:"type:text"`
	Actor      string `gorm:"size:64;not null"`
}
