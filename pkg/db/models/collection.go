package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// Collection is a library's licensing relationship with one vendor. Its
// protocol decides which vendor adapter circulates its pools.
type Collection struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LibraryID         uuid.UUID                `gorm:"column:library_id;type:uuid;not null;index"`
	Name              string                   `gorm:"column:name;not null"`
	Protocol          enums.CollectionProtocol `gorm:"column:protocol;not null"`
	ExternalAccountID string                   `gorm:"column:external_account_id"`
	Active            bool                     `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
