package patron

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

func TestAssertBorrowingPrivileges_HealthyPatronPasses(t *testing.T) {
	svc := NewService()
	patron := &models.Patron{FineBalance: decimal.NewFromFloat(1.50)}
	library := &models.Library{MaxOutstandingFines: decimal.NewFromInt(5)}

	assert.NoError(t, svc.AssertBorrowingPrivileges(context.Background(), patron, library))
}

func TestAssertBorrowingPrivileges_BlockedPatron(t *testing.T) {
	svc := NewService()

	err := svc.AssertBorrowingPrivileges(context.Background(), &models.Patron{Blocked: true}, &models.Library{})

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePatronBlocked))
}

func TestAssertBorrowingPrivileges_ExpiredCard(t *testing.T) {
	svc := NewService()
	expired := time.Now().Add(-24 * time.Hour)

	err := svc.AssertBorrowingPrivileges(context.Background(), &models.Patron{CardExpiresAt: &expired}, &models.Library{})

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePatronBlocked))
}

func TestAssertBorrowingPrivileges_FinesOverLimit(t *testing.T) {
	svc := NewService()
	patron := &models.Patron{FineBalance: decimal.NewFromFloat(10.25)}
	library := &models.Library{MaxOutstandingFines: decimal.NewFromInt(5)}

	err := svc.AssertBorrowingPrivileges(context.Background(), patron, library)

	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodePatronBlocked, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "10.25", details["fine_balance"])
}

func TestAssertBorrowingPrivileges_ZeroFineLimitMeansNoLimit(t *testing.T) {
	svc := NewService()
	patron := &models.Patron{FineBalance: decimal.NewFromInt(100)}

	assert.NoError(t, svc.AssertBorrowingPrivileges(context.Background(), patron, &models.Library{}))
}

func TestVerifyCredential_RoundTrip(t *testing.T) {
	svc := NewService()
	hash, err := HashCredential("1234", DefaultArgonParams())
	require.NoError(t, err)
	patron := &models.Patron{CredentialHash: hash}

	ok, err := svc.VerifyCredential(patron, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyCredential(patron, "4321")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCredential_NoStoredHashTrustsUpstream(t *testing.T) {
	svc := NewService()

	ok, err := svc.VerifyCredential(&models.Patron{}, "anything")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCredential_MalformedHash(t *testing.T) {
	_, err := VerifyCredential("1234", "not-an-argon2id-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
