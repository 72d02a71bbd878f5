// Package audit persists best-effort transition records. A failed audit
// write is logged, never propagated.
package audit

import (
	"encoding/json"
	"log"

	"kopkar/models"

	"gorm.io/gorm"
)

// Recorder writes audit rows.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores (action, entityKind, entityID, before, after, actor).
// Before/after snapshots are JSON-encoded; a nil Recorder is a no-op.
// Kind is a plain string because audited kinds (contribution, cashout,
// member) are a superset of the approvable ones.
func (r *Recorder) Record(action string, kind string, entityID uint, before, after any, actor models.Actor) {
	if r == nil {
		return
	}
	row := models.AuditLog{
		Action:     action,
		EntityKind: kind,
		EntityID:   entityID,
		Before:     encode(before),
		After:      encode(after),
		Actor:      actor.Ref,
	}
	if err := r.db.Create(&row).Error; err != nil {
		log.Printf("audit %s %s/%d: %v", action, kind, entityID, err)
	}
}

func encode(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
