package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// Common content types offered by vendors.
const (
	ContentTypeEPUB              = "application/epub+zip"
	ContentTypePDF               = "application/pdf"
	ContentTypeAudiobookManifest = "application/audiobook+json"
	ContentTypeACSM              = "application/vnd.adobe.adept+xml"
)

// DeliveryMechanism is one (content type, DRM scheme) pairing a pool can be
// fulfilled through.
type DeliveryMechanism struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LicensePoolID uuid.UUID       `gorm:"column:license_pool_id;type:uuid;not null;uniqueIndex:uniq_pool_mechanism"`
	ContentType   string          `gorm:"column:content_type;not null;uniqueIndex:uniq_pool_mechanism"`
	DRMScheme     enums.DRMScheme `gorm:"column:drm_scheme;not null;uniqueIndex:uniq_pool_mechanism"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// CompatibleWith reports whether a loan fulfilled through m may later be
// fulfilled through other. Streaming mechanisms never lock a loan in, so they
// are compatible with anything.
func (m *DeliveryMechanism) CompatibleWith(other *DeliveryMechanism) bool {
	if m == nil || other == nil {
		return false
	}
	if m.ID == other.ID {
		return true
	}
	if other.DRMScheme.Streaming() || m.DRMScheme.Streaming() {
		return true
	}
	return m.ContentType == other.ContentType && m.DRMScheme == other.DRMScheme
}
