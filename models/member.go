package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberStatus is the membership lifecycle state.
type MemberStatus string

const (
	MemberPreRegistered MemberStatus = "pre_registered"
	MemberPending       MemberStatus = "pending"
	MemberActive        MemberStatus = "active"
	MemberInactive      MemberStatus = "inactive"
	MemberSuspended     MemberStatus = "suspended"
	MemberTerminated    MemberStatus = "terminated"
)

// Role is the closed set of actor roles recognised by approval chains.
// Permission enforcement happens in the calling layer; roles are only
// stamped on records here.
type Role string

const (
	RoleMember     Role = "member"
	RoleStaff      Role = "staff"
	RoleBookkeeper Role = "bookkeeper"
	RoleTreasurer  Role = "treasurer"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "administrator"
)

// Member represents a cooperative member and the bookkeeping fields the
// cashout workflow maintains on it.
type Member struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	MemberNo  string       `gorm:"size:32;uniqueIndex;not null"`
	Name      string       `gorm:"size:255;not null"`
	Status    MemberStatus `gorm:"size:32;not null;default:'pending';index"`
	// RegistrationDate is when membership started; eligibility windows are
	// computed from it, never from CreatedAt.
	RegistrationDate     time.Time  `gorm:"not null"`
	EligibilityStartDate *time.Time // nil until recomputed; reset on cashout
	LastCashoutDate      *time.Time
	CashoutCount         int             `gorm:"not null;default:0"`
	EligibleAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	BankName             string          `gorm:"size:128"`
	BankAccountNo        string          `gorm:"size:64"`
	Contributions        []Contribution  `gorm:"foreignKey:MemberID"`
	Loans                []Loan          `gorm:"foreignKey:MemberID"`
}
