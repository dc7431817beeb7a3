package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Library owns patrons and collections and carries the lending policy used
// for limit enforcement. Zero limits mean "no limit".
type Library struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                string          `gorm:"column:name;not null"`
	ShortName           string          `gorm:"column:short_name;not null;unique"`
	LoanLimit           int             `gorm:"column:loan_limit;not null;default:0"`
	HoldLimit           int             `gorm:"column:hold_limit;not null;default:0"`
	MaxOutstandingFines decimal.Decimal `gorm:"column:max_outstanding_fines;type:numeric(10,2);not null;default:0"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
