// Package approval implements the multi-level authorization chain shared
// by every approvable entity kind.
//
// Seeding policy: lazy/sequential. Creating a chain seeds only level 1;
// approving level n seeds level n+1; a rejection at any level halts the
// chain and no further levels are ever created.
package approval

import (
	"fmt"
	"strings"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"

	"gorm.io/gorm"
)

// Entity identifies an approvable entity. Only registered kinds are
// accepted; free-text kinds are a validation error.
type Entity struct {
	Kind models.EntityKind
	ID   uint
}

func (e Entity) String() string {
	return fmt.Sprintf("%s/%d", e.Kind, e.ID)
}

// Definition describes the chain required for one entity kind.
type Definition struct {
	Levels       int
	RoleForLevel []models.Role // indexed by level-1
}

var registry = map[models.EntityKind]Definition{
	models.KindLoan: {
		Levels:       3,
		RoleForLevel: []models.Role{models.RoleBookkeeper, models.RoleTreasurer, models.RoleManager},
	},
	models.KindHealthClaim: {
		Levels:       2,
		RoleForLevel: []models.Role{models.RoleStaff, models.RoleManager},
	},
}

// Lookup returns the chain definition for a kind.
func Lookup(kind models.EntityKind) (Definition, bool) {
	def, ok := registry[kind]
	return def, ok
}

// Chain manipulates approval records for registered entity kinds.
type Chain struct {
	db *gorm.DB
}

// NewChain creates a Chain.
func NewChain(db *gorm.DB) *Chain {
	return &Chain{db: db}
}

// WithTx returns a Chain bound to the caller's transaction so approval
// records commit together with the owning entity's status change.
func (c *Chain) WithTx(tx *gorm.DB) *Chain {
	return &Chain{db: tx}
}

// Create seeds the chain for an entity: level 1 pending, nothing else.
func (c *Chain) Create(entity Entity) error {
	def, ok := Lookup(entity.Kind)
	if !ok {
		return apperr.Validationf("unknown approvable entity kind %q", entity.Kind)
	}
	rec := models.ApprovalRecord{
		EntityKind:   entity.Kind,
		EntityID:     entity.ID,
		Level:        1,
		ApproverRole: def.RoleForLevel[0],
		Status:       models.ApprovalPending,
	}
	if err := c.db.Create(&rec).Error; err != nil {
		if isUniqueConstraintError(err) {
			return apperr.Conflictf("approval chain for %s already exists", entity)
		}
		return fmt.Errorf("seed approval chain for %s: %w", entity, err)
	}
	return nil
}

// Approve resolves the pending record at level to approved and seeds the
// next level. NotFound if no record exists at that level, InvalidState if
// the record is already resolved; a concurrent resolver losing the
// conditional update gets one of those, never a double approval.
func (c *Chain) Approve(entity Entity, level int, actor models.Actor, remarks string) error {
	if err := c.resolve(entity, level, actor, remarks, models.ApprovalApproved); err != nil {
		return err
	}
	def, _ := Lookup(entity.Kind)
	if level >= def.Levels {
		return nil
	}
	next := models.ApprovalRecord{
		EntityKind:   entity.Kind,
		EntityID:     entity.ID,
		Level:        level + 1,
		ApproverRole: def.RoleForLevel[level],
		Status:       models.ApprovalPending,
	}
	if err := c.db.Create(&next).Error; err != nil && !isUniqueConstraintError(err) {
		return fmt.Errorf("seed approval level %d for %s: %w", level+1, entity, err)
	}
	return nil
}

// Reject resolves the pending record at level to rejected and halts the
// chain. The owning entity must independently move to its own terminal
// rejected state.
func (c *Chain) Reject(entity Entity, level int, actor models.Actor, remarks string) error {
	return c.resolve(entity, level, actor, remarks, models.ApprovalRejected)
}

func (c *Chain) resolve(entity Entity, level int, actor models.Actor, remarks string, to models.ApprovalStatus) error {
	def, ok := Lookup(entity.Kind)
	if !ok {
		return apperr.Validationf("unknown approvable entity kind %q", entity.Kind)
	}
	if level < 1 || level > def.Levels {
		return apperr.Validationf("level %d out of range for %s (1..%d)", level, entity.Kind, def.Levels)
	}
	if actor.IsZero() {
		return apperr.Validationf("actor required")
	}
	now := time.Now()
	res := c.db.Model(&models.ApprovalRecord{}).
		Where("entity_kind = ? AND entity_id = ? AND level = ? AND status = ?",
			entity.Kind, entity.ID, level, models.ApprovalPending).
		Updates(map[string]any{
			"status":       to,
			"approver_ref": actor.Ref,
			"remarks":      remarks,
			"approved_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("resolve approval %s level %d: %w", entity, level, res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.ApprovalRecord
		err := c.db.Where("entity_kind = ? AND entity_id = ? AND level = ?",
			entity.Kind, entity.ID, level).First(&existing).Error
		if err == nil {
			return apperr.InvalidStatef("approval for %s level %d already %s", entity, level, existing.Status)
		}
		return apperr.NotFoundf("no pending approval for %s at level %d", entity, level)
	}
	return nil
}

// IsFullyApproved reports whether every required level carries an approved
// record.
func (c *Chain) IsFullyApproved(entity Entity) (bool, error) {
	def, ok := Lookup(entity.Kind)
	if !ok {
		return false, apperr.Validationf("unknown approvable entity kind %q", entity.Kind)
	}
	var count int64
	err := c.db.Model(&models.ApprovalRecord{}).
		Where("entity_kind = ? AND entity_id = ? AND status = ?",
			entity.Kind, entity.ID, models.ApprovalApproved).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count approvals for %s: %w", entity, err)
	}
	return count >= int64(def.Levels), nil
}

// Records lists the chain records for an entity ordered by level.
func (c *Chain) Records(entity Entity) ([]models.ApprovalRecord, error) {
	var recs []models.ApprovalRecord
	err := c.db.
		Where("entity_kind = ? AND entity_id = ?", entity.Kind, entity.ID).
		Order("level asc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list approvals for %s: %w", entity, err)
	}
	return recs, nil
}

// local copy, same sniffing as pkg/ledger
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "UNIQUE constraint") ||
		strings.Contains(s, "already exists")
}
