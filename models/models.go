package models

// All lists every persisted model for AutoMigrate.
func All() []any {
	return []any{
		&Member{},
		&Contribution{},
		&ReceiptUpload{},
		&Loan{},
		&Repayment{},
		&LedgerEntry{},
		&ApprovalRecord{},
		&CashoutRequest{},
		&HealthClaim{},
		&ProgramEnrollment{},
		&AuditLog{},
	}
}
