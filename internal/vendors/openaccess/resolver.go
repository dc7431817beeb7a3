package openaccess

import (
	"context"
	"strings"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
)

// IdentifierResolver serves pools whose identifier is already the hosted
// content URL, which is how open-access feeds are imported.
type IdentifierResolver struct{}

func (IdentifierResolver) ContentURL(_ context.Context, pool *models.LicensePool, mechanism *models.DeliveryMechanism) (string, string, error) {
	if pool == nil {
		return "", "", nil
	}
	if !strings.HasPrefix(pool.Identifier, "http://") && !strings.HasPrefix(pool.Identifier, "https://") {
		return "", "", nil
	}
	contentType := models.ContentTypeEPUB
	if mechanism != nil && mechanism.ContentType != "" {
		contentType = mechanism.ContentType
	}
	return pool.Identifier, contentType, nil
}
