package models

import "time"

// EnrollmentStatus is the program enrollment state.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// ProgramEnrollment records a member's participation in a cooperative
// program. Active enrollments block cashout eligibility.
type ProgramEnrollment struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MemberID    uint             `gorm:"not null;index"`
	Member      Member           `gorm:"foreignKey:MemberID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ProgramCode string           `gorm:"size:64;not null"`
	Status      EnrollmentStatus `gorm:"size:16;not null;index"`
	EnrolledAt  time.Time        `gorm:"not null"`
	EndedAt     *time.Time
}
