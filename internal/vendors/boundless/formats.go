package boundless

import (
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// Vendor format codes. The vendor speaks these; everything internal speaks
// (content type, DRM scheme) pairs.
const (
	FormatEPUB      = "ePub"
	FormatPDF       = "PDF"
	FormatAudiobook = "Acoustik"
	FormatLicensed  = "BoundlessNow"
)

type formatPairing struct {
	contentType string
	drm         enums.DRMScheme
}

var formatByCode = map[string]formatPairing{
	FormatEPUB:      {models.ContentTypeEPUB, enums.DRMAdobeACS},
	FormatPDF:       {models.ContentTypePDF, enums.DRMAdobeACS},
	FormatAudiobook: {models.ContentTypeAudiobookManifest, enums.DRMFindaway},
	FormatLicensed:  {models.ContentTypeEPUB, enums.DRMBoundless},
}

var codeByFormat = func() map[formatPairing]string {
	out := make(map[formatPairing]string, len(formatByCode))
	for code, pairing := range formatByCode {
		out[pairing] = code
	}
	return out
}()

// FormatCodeFor maps a delivery mechanism to the vendor's format code.
func FormatCodeFor(mechanism *models.DeliveryMechanism) (string, bool) {
	if mechanism == nil {
		return "", false
	}
	code, ok := codeByFormat[formatPairing{mechanism.ContentType, mechanism.DRMScheme}]
	return code, ok
}

// MechanismFor maps a vendor format code back to its delivery pairing.
func MechanismFor(code string) (contentType string, drm enums.DRMScheme, ok bool) {
	pairing, ok := formatByCode[code]
	if !ok {
		return "", "", false
	}
	return pairing.contentType, pairing.drm, true
}
