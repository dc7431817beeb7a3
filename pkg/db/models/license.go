package models

import (
	"time"

	"github.com/google/uuid"
)

// License is one concurrently-lendable copy within an ODL-style metered pool.
// CheckoutURL is an RFC 6570 template the adapter expands per checkout.
type License struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LicensePoolID      uuid.UUID  `gorm:"column:license_pool_id;type:uuid;not null;index"`
	Identifier         string     `gorm:"column:identifier;not null"`
	CheckoutURL        string     `gorm:"column:checkout_url;not null"`
	CheckoutsAvailable int        `gorm:"column:checkouts_available;not null;default:0"`
	Inactive           bool       `gorm:"column:inactive;not null;default:false"`
	ExpiresAt          *time.Time `gorm:"column:expires_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Lendable reports whether the adapter may attempt a checkout against this copy.
func (l *License) Lendable(now time.Time) bool {
	if l == nil || l.Inactive || l.CheckoutsAvailable < 1 {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}
