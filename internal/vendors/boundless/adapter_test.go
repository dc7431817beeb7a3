package boundless

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/internal/ledger"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

type stubVendorClient struct {
	checkout     func(ctx context.Context, patronID, titleID, formatCode string) (*CheckoutResponse, error)
	checkin      func(ctx context.Context, patronID, titleID string) (Status, error)
	placeHold    func(ctx context.Context, patronID, titleID, email string) (*HoldResponse, error)
	releaseHold  func(ctx context.Context, patronID, titleID string) (Status, error)
	availability func(ctx context.Context, titleID string) (*AvailabilityResponse, error)
	manifest     func(ctx context.Context, transactionID string) (json.RawMessage, error)
	license      func(ctx context.Context, transactionID string, req LicenseRequest) ([]byte, error)
}

func (s *stubVendorClient) Checkout(ctx context.Context, patronID, titleID, formatCode string) (*CheckoutResponse, error) {
	return s.checkout(ctx, patronID, titleID, formatCode)
}

func (s *stubVendorClient) Checkin(ctx context.Context, patronID, titleID string) (Status, error) {
	return s.checkin(ctx, patronID, titleID)
}

func (s *stubVendorClient) PlaceHold(ctx context.Context, patronID, titleID, email string) (*HoldResponse, error) {
	return s.placeHold(ctx, patronID, titleID, email)
}

func (s *stubVendorClient) ReleaseHold(ctx context.Context, patronID, titleID string) (Status, error) {
	return s.releaseHold(ctx, patronID, titleID)
}

func (s *stubVendorClient) Availability(ctx context.Context, titleID string) (*AvailabilityResponse, error) {
	return s.availability(ctx, titleID)
}

func (s *stubVendorClient) AudiobookManifest(ctx context.Context, transactionID string) (json.RawMessage, error) {
	return s.manifest(ctx, transactionID)
}

func (s *stubVendorClient) License(ctx context.Context, transactionID string, req LicenseRequest) ([]byte, error) {
	return s.license(ctx, transactionID, req)
}

type stubStore struct {
	pools     map[string]*models.LicensePool
	snapshots map[uuid.UUID]ledger.AvailabilitySnapshot
	reapKeep  []string
	reaped    int64
}

func (s *stubStore) PoolByIdentifier(_ context.Context, _ uuid.UUID, identifier string) (*models.LicensePool, error) {
	return s.pools[identifier], nil
}

func (s *stubStore) ApplyAvailability(_ context.Context, poolID uuid.UUID, snapshot ledger.AvailabilitySnapshot) error {
	if s.snapshots == nil {
		s.snapshots = map[uuid.UUID]ledger.AvailabilitySnapshot{}
	}
	s.snapshots[poolID] = snapshot
	return nil
}

func (s *stubStore) ReapPoolsExcept(_ context.Context, _ uuid.UUID, keep []string) (int64, error) {
	s.reapKeep = keep
	return s.reaped, nil
}

func newTestBoundlessAdapter(t *testing.T, store *stubStore, client *stubVendorClient) *Adapter {
	t.Helper()
	if store == nil {
		store = &stubStore{}
	}
	logg := logger.New(logger.Options{ServiceName: "boundless-test", Output: io.Discard})
	adapter, err := NewAdapter(store, client, logg)
	require.NoError(t, err)
	return adapter
}

func boundlessPool() *models.LicensePool {
	return &models.LicensePool{
		ID:           uuid.New(),
		CollectionID: uuid.New(),
		Identifier:   "0012345678",
		Type:         enums.PoolTypeMetered,
		Active:       true,
	}
}

func epubMechanism() *models.DeliveryMechanism {
	return &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: models.ContentTypeEPUB,
		DRMScheme:   enums.DRMAdobeACS,
	}
}

func validCrypto() *circulation.ClientCryptoParams {
	return &circulation.ClientCryptoParams{
		Modulus:  strings.Repeat("A", 342),
		Exponent: "AQAB",
		DeviceID: "device-00112233",
		ClientIP: "203.0.113.10",
	}
}

func TestCheckout_SuccessProducesLoan(t *testing.T) {
	end := time.Now().Add(14 * 24 * time.Hour).UTC().Truncate(time.Second)
	client := &stubVendorClient{
		checkout: func(_ context.Context, patronID, titleID, formatCode string) (*CheckoutResponse, error) {
			assert.Equal(t, "patron-9", patronID)
			assert.Equal(t, "0012345678", titleID)
			assert.Equal(t, FormatEPUB, formatCode)
			return &CheckoutResponse{
				Status:         Status{Code: statusOK},
				TransactionID:  "txn-42",
				ExpirationDate: &end,
			}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)
	pool := boundlessPool()

	outcome, err := adapter.Checkout(context.Background(), &models.Patron{ID: uuid.New(), ExternalIdentifier: "patron-9"}, "", pool, epubMechanism())

	require.NoError(t, err)
	require.Equal(t, circulation.OutcomeLoaned, outcome.Kind)
	assert.Equal(t, "txn-42", outcome.Loan.ExternalIdentifier)
	require.NotNil(t, outcome.Loan.End)
	assert.Equal(t, end, *outcome.Loan.End)
}

func TestCheckout_VendorStatusCodesMapToTypedErrors(t *testing.T) {
	cases := []struct {
		name       string
		vendorCode int
		want       pkgerrors.Code
	}{
		{"already checked out", statusAlreadyCheckedOut, pkgerrors.CodeAlreadyCheckedOut},
		{"already on hold", statusAlreadyOnHold, pkgerrors.CodeAlreadyOnHold},
		{"no copies", statusNoAvailableCopies, pkgerrors.CodeNoAvailableCopies},
		{"loan limit", statusLoanLimitReached, pkgerrors.CodeLoanLimitReached},
		{"not owned", statusTitleNotOwned, pkgerrors.CodeNoLicenses},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &stubVendorClient{
				checkout: func(_ context.Context, _, _, _ string) (*CheckoutResponse, error) {
					return &CheckoutResponse{Status: Status{Code: tc.vendorCode, Message: "vendor says no"}}, nil
				},
			}
			adapter := newTestBoundlessAdapter(t, nil, client)

			_, err := adapter.Checkout(context.Background(), &models.Patron{ID: uuid.New()}, "", boundlessPool(), epubMechanism())

			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, tc.want))
		})
	}
}

func TestCheckout_UnknownMechanismFailsFast(t *testing.T) {
	adapter := newTestBoundlessAdapter(t, nil, &stubVendorClient{})
	mechanism := &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: "text/plain",
		DRMScheme:   enums.DRMNone,
	}

	_, err := adapter.Checkout(context.Background(), &models.Patron{ID: uuid.New()}, "", boundlessPool(), mechanism)

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeFormatNotAvailable))
}

func TestPlaceHold_ReturnsQueuePosition(t *testing.T) {
	client := &stubVendorClient{
		placeHold: func(_ context.Context, _, _, email string) (*HoldResponse, error) {
			assert.Equal(t, "reader@example.org", email)
			return &HoldResponse{Status: Status{Code: statusOK}, QueuePosition: 7}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)

	hold, err := adapter.PlaceHold(context.Background(), &models.Patron{ID: uuid.New()}, "", boundlessPool(), "reader@example.org")

	require.NoError(t, err)
	assert.Equal(t, 7, hold.Position)
}

func TestPlaceHold_AvailableTitleRefused(t *testing.T) {
	client := &stubVendorClient{
		placeHold: func(_ context.Context, _, _, _ string) (*HoldResponse, error) {
			return &HoldResponse{Status: Status{Code: statusTitleAvailable, Message: "title is available"}}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)

	_, err := adapter.PlaceHold(context.Background(), &models.Patron{ID: uuid.New()}, "", boundlessPool(), "")

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCurrentlyAvailable))
}

func fulfillRequest(mechanism *models.DeliveryMechanism, crypto *circulation.ClientCryptoParams) circulation.FulfillRequest {
	external := "txn-42"
	return circulation.FulfillRequest{
		Patron:       &models.Patron{ID: uuid.New(), ExternalIdentifier: "patron-9"},
		Pool:         boundlessPool(),
		Loan:         &models.Loan{ID: uuid.New(), ExternalIdentifier: &external},
		Mechanism:    mechanism,
		ClientCrypto: crypto,
	}
}

func TestFulfill_ACSRedirects(t *testing.T) {
	client := &stubVendorClient{
		checkout: func(_ context.Context, _, _, _ string) (*CheckoutResponse, error) {
			return &CheckoutResponse{
				Status:         Status{Code: statusAlreadyCheckedOut},
				FulfillmentURL: "https://acs.example/fulfill/txn-42",
			}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)

	fulfillment, err := adapter.Fulfill(context.Background(), fulfillRequest(epubMechanism(), nil))

	require.NoError(t, err)
	redirect, ok := fulfillment.(*circulation.RedirectFulfillment)
	require.True(t, ok)
	assert.Equal(t, "https://acs.example/fulfill/txn-42", redirect.ContentLink)
	assert.Equal(t, models.ContentTypeACSM, redirect.Type)
}

func TestFulfill_AudiobookBuildsManifest(t *testing.T) {
	client := &stubVendorClient{
		manifest: func(_ context.Context, transactionID string) (json.RawMessage, error) {
			assert.Equal(t, "txn-42", transactionID)
			return json.RawMessage(`{"spine":[]}`), nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)
	mechanism := &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: models.ContentTypeAudiobookManifest,
		DRMScheme:   enums.DRMFindaway,
	}

	fulfillment, err := adapter.Fulfill(context.Background(), fulfillRequest(mechanism, nil))

	require.NoError(t, err)
	manifest, ok := fulfillment.(*circulation.ManifestFulfillment)
	require.True(t, ok)
	assert.JSONEq(t, `{"spine":[]}`, string(manifest.Manifest))
}

func TestFulfill_LicenseDRMRequiresClientKey(t *testing.T) {
	adapter := newTestBoundlessAdapter(t, nil, &stubVendorClient{})
	mechanism := &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: models.ContentTypeEPUB,
		DRMScheme:   enums.DRMBoundless,
	}

	_, err := adapter.Fulfill(context.Background(), fulfillRequest(mechanism, nil))

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestFulfill_MalformedClientKeyFailsBeforeVendorCall(t *testing.T) {
	called := false
	client := &stubVendorClient{
		license: func(_ context.Context, _ string, _ LicenseRequest) ([]byte, error) {
			called = true
			return nil, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)
	mechanism := &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: models.ContentTypeEPUB,
		DRMScheme:   enums.DRMBoundless,
	}
	crypto := validCrypto()
	crypto.Modulus = "not/base64url+padding=="

	_, err := adapter.Fulfill(context.Background(), fulfillRequest(mechanism, crypto))

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	assert.False(t, called)
}

func TestFulfill_ValidClientKeyRequestsLicense(t *testing.T) {
	client := &stubVendorClient{
		license: func(_ context.Context, transactionID string, req LicenseRequest) ([]byte, error) {
			assert.Equal(t, "txn-42", transactionID)
			assert.Equal(t, "AQAB", req.Exponent)
			return []byte(`{"license":"signed"}`), nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)
	mechanism := &models.DeliveryMechanism{
		ID:          uuid.New(),
		ContentType: models.ContentTypeEPUB,
		DRMScheme:   enums.DRMBoundless,
	}

	fulfillment, err := adapter.Fulfill(context.Background(), fulfillRequest(mechanism, validCrypto()))

	require.NoError(t, err)
	direct, ok := fulfillment.(*circulation.DirectFulfillment)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"license":"signed"}`), direct.Content)
}

func TestCheckin_NotCheckedOutSurfacesTyped(t *testing.T) {
	client := &stubVendorClient{
		checkin: func(_ context.Context, _, _ string) (Status, error) {
			return Status{Code: statusNotCheckedOut, Message: "no such loan"}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, nil, client)

	err := adapter.Checkin(context.Background(), &models.Patron{ID: uuid.New()}, "", boundlessPool())

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotCheckedOut))
}

func TestUpdateAvailability_AppliesVendorSnapshot(t *testing.T) {
	pool := boundlessPool()
	store := &stubStore{}
	client := &stubVendorClient{
		availability: func(_ context.Context, titleID string) (*AvailabilityResponse, error) {
			assert.Equal(t, pool.Identifier, titleID)
			return &AvailabilityResponse{
				Status: Status{Code: statusOK},
				Titles: []TitleAvailability{{
					TitleID:         pool.Identifier,
					TotalCopies:     6,
					AvailableCopies: 2,
					ReservedCopies:  1,
					HoldsQueueSize:  3,
					Active:          true,
				}},
			}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, store, client)

	err := adapter.UpdateAvailability(context.Background(), pool)

	require.NoError(t, err)
	snapshot := store.snapshots[pool.ID]
	assert.Equal(t, 6, snapshot.Owned)
	assert.Equal(t, 2, snapshot.Available)
	assert.Equal(t, 3, snapshot.QueueSize)
}

func TestUpdateLicensePoolsForIdentifiers_ReapsDroppedTitles(t *testing.T) {
	collectionID := uuid.New()
	known := boundlessPool()
	store := &stubStore{
		pools:  map[string]*models.LicensePool{known.Identifier: known},
		reaped: 3,
	}
	client := &stubVendorClient{
		availability: func(_ context.Context, titleID string) (*AvailabilityResponse, error) {
			require.Empty(t, titleID)
			return &AvailabilityResponse{
				Status: Status{Code: statusOK},
				Titles: []TitleAvailability{
					{TitleID: known.Identifier, TotalCopies: 4, AvailableCopies: 4, Active: true},
					{TitleID: "0099999999", TotalCopies: 1, AvailableCopies: 1, Active: true},
				},
			}, nil
		},
	}
	adapter := newTestBoundlessAdapter(t, store, client)

	reaped, err := adapter.UpdateLicensePoolsForIdentifiers(context.Background(), collectionID)

	require.NoError(t, err)
	assert.Equal(t, int64(3), reaped)
	assert.Equal(t, []string{known.Identifier, "0099999999"}, store.reapKeep)
	assert.Equal(t, 4, store.snapshots[known.ID].Owned)
}

func TestClient_WireFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lib-1", body["libraryId"])
		assert.Equal(t, "patron-9", body["patronId"])
		_ = json.NewEncoder(w).Encode(CheckoutResponse{
			Status:        Status{Code: statusOK},
			TransactionID: "txn-1",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "api-key", "lib-1", 5*time.Second)
	require.NoError(t, err)

	resp, err := client.Checkout(context.Background(), "patron-9", "0012345678", FormatEPUB)

	require.NoError(t, err)
	assert.Equal(t, "txn-1", resp.TransactionID)
	assert.Equal(t, statusOK, resp.Status.Code)
}
