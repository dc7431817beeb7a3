package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// LicensePool tracks one title's availability through one collection.
// Counters are advisory for unlimited and open-access pools; for metered
// pools LicensesAvailable never exceeds LicensesOwned.
type LicensePool struct {
	ID                 uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CollectionID       uuid.UUID      `gorm:"column:collection_id;type:uuid;not null;uniqueIndex:uniq_pool_identifier"`
	Identifier         string         `gorm:"column:identifier;not null;uniqueIndex:uniq_pool_identifier"`
	Type               enums.PoolType `gorm:"column:type;not null;default:'metered'"`
	LicensesOwned      int            `gorm:"column:licenses_owned;not null;default:0"`
	LicensesAvailable  int            `gorm:"column:licenses_available;not null;default:0"`
	LicensesReserved   int            `gorm:"column:licenses_reserved;not null;default:0"`
	PatronsInHoldQueue int            `gorm:"column:patrons_in_hold_queue;not null;default:0"`
	Active             bool           `gorm:"column:active;not null;default:true"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`

	Collection         *Collection         `gorm:"foreignKey:CollectionID"`
	Licenses           []License           `gorm:"foreignKey:LicensePoolID"`
	DeliveryMechanisms []DeliveryMechanism `gorm:"foreignKey:LicensePoolID"`
}

// CurrentlyAvailable reports whether a checkout should succeed right now
// according to local state. Unlimited and open-access pools always qualify.
func (p *LicensePool) CurrentlyAvailable() bool {
	if p == nil {
		return false
	}
	if !p.Type.Limited() {
		return p.Active
	}
	return p.LicensesAvailable > 0
}
