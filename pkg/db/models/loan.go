package models

import (
	"time"

	"github.com/google/uuid"
)

// Loan records a patron currently borrowing a title. The unique index on
// (patron_id, license_pool_id) is what serializes racing borrows for the same
// pool; ExternalIdentifier is the vendor's handle used for later status
// checks and returns.
type Loan struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PatronID           uuid.UUID  `gorm:"column:patron_id;type:uuid;not null;uniqueIndex:uniq_loan_patron_pool"`
	LicensePoolID      uuid.UUID  `gorm:"column:license_pool_id;type:uuid;not null;uniqueIndex:uniq_loan_patron_pool"`
	LicenseID          *uuid.UUID `gorm:"column:license_id;type:uuid"`
	FulfillmentID      *uuid.UUID `gorm:"column:fulfillment_id;type:uuid"`
	ExternalIdentifier *string    `gorm:"column:external_identifier"`
	Start              time.Time  `gorm:"column:start;not null"`
	End                *time.Time `gorm:"column:end"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	LicensePool *LicensePool       `gorm:"foreignKey:LicensePoolID"`
	Fulfillment *DeliveryMechanism `gorm:"foreignKey:FulfillmentID"`
}

// Expired reports whether the loan's end date has passed.
func (l *Loan) Expired(now time.Time) bool {
	return l != nil && l.End != nil && !l.End.After(now)
}
