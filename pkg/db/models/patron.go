package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Patron identifies a borrower within one library. CredentialHash is an
// Argon2id hash of the patron's PIN; FineBalance is compared against the
// library's MaxOutstandingFines during the privilege check.
type Patron struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LibraryID          uuid.UUID       `gorm:"column:library_id;type:uuid;not null;uniqueIndex:uniq_patron_identifier"`
	ExternalIdentifier string          `gorm:"column:external_identifier;not null;uniqueIndex:uniq_patron_identifier"`
	CredentialHash     string          `gorm:"column:credential_hash"`
	Blocked            bool            `gorm:"column:blocked;not null;default:false"`
	CardExpiresAt      *time.Time      `gorm:"column:card_expires_at"`
	FineBalance        decimal.Decimal `gorm:"column:fine_balance;type:numeric(10,2);not null;default:0"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
