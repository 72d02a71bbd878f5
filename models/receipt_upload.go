package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptUpload is a stored receipt artifact attached to a member-submitted
// contribution. The core only holds the opaque StorePath reference; bytes
// live in the artifact store.
type ReceiptUpload struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MemberID    uint   `gorm:"not null;index"`
	FileName    string `gorm:"size:255;not null"`
	StorePath   string `gorm:"column:store_path;size:512;not null"`
	ContentType string `gorm:"size:128"`
	ContributionID *uint `gorm:"index"`
	// OCR assist results; advisory for the verifier, never gate anything.
	Scanned             bool             `gorm:"not null;default:false;index"`
	SuggestedAmount     *decimal.Decimal `gorm:"type:numeric(14,2)"`
	SuggestedConfidence float64          `gorm:"not null;default:0"`
	// Mark upload as failed for scan processing (record kept so staff can
	// review instead of the file silently disappearing).
	Failed       bool   `gorm:"not null;default:false;index"`
	FailedReason string `gorm:"size:255"`
}
