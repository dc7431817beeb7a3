package patron

import (
	"context"
	"fmt"
	"time"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

// Service answers whether a patron may borrow at all. The dispatcher calls
// this before any vendor traffic.
type Service interface {
	AssertBorrowingPrivileges(ctx context.Context, patron *models.Patron, library *models.Library) error
	VerifyCredential(patron *models.Patron, pin string) (bool, error)
}

type service struct {
	now func() time.Time
}

// NewService builds the privilege checker.
func NewService() Service {
	return &service{now: time.Now}
}

func (s *service) AssertBorrowingPrivileges(ctx context.Context, p *models.Patron, library *models.Library) error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "patron required")
	}
	if library == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "library required")
	}
	if p.Blocked {
		return pkgerrors.New(pkgerrors.CodePatronBlocked, "patron is blocked from borrowing")
	}
	if p.CardExpiresAt != nil && !p.CardExpiresAt.After(s.now()) {
		return pkgerrors.New(pkgerrors.CodePatronBlocked, "library card has expired")
	}
	if library.MaxOutstandingFines.IsPositive() && p.FineBalance.GreaterThan(library.MaxOutstandingFines) {
		return pkgerrors.New(pkgerrors.CodePatronBlocked, "outstanding fines exceed the library limit").
			WithDetails(map[string]string{
				"fine_balance": p.FineBalance.StringFixed(2),
				"fine_limit":   library.MaxOutstandingFines.StringFixed(2),
			})
	}
	return nil
}

func (s *service) VerifyCredential(p *models.Patron, pin string) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("patron required")
	}
	if p.CredentialHash == "" {
		// Libraries that authenticate upstream store no local credential.
		return true, nil
	}
	return VerifyCredential(pin, p.CredentialHash)
}
