package models

import (
	"time"

	"github.com/google/uuid"
)

// Hold records a patron queued for a title. Position 0 means "ready to
// borrow"; positions are an optimistic local estimate corrected by the hold
// queue sweep.
type Hold struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PatronID      uuid.UUID  `gorm:"column:patron_id;type:uuid;not null;uniqueIndex:uniq_hold_patron_pool"`
	LicensePoolID uuid.UUID  `gorm:"column:license_pool_id;type:uuid;not null;uniqueIndex:uniq_hold_patron_pool"`
	Position      int        `gorm:"column:position;not null;default:0"`
	Start         time.Time  `gorm:"column:start;not null"`
	End           *time.Time `gorm:"column:end"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	LicensePool *LicensePool `gorm:"foreignKey:LicensePoolID"`
}

// Ready reports whether the hold is at the front of the queue.
func (h *Hold) Ready() bool {
	return h != nil && h.Position == 0
}

// Expired reports whether the hold's pickup window has lapsed.
func (h *Hold) Expired(now time.Time) bool {
	return h != nil && h.End != nil && !h.End.After(now)
}
