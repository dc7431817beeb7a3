package boundless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

const maxResponseBytes = 4 << 20

// Vendor status codes echoed in every response envelope.
const (
	statusOK                = 0
	statusAlreadyCheckedOut = 3100
	statusAlreadyOnHold     = 3101
	statusNotCheckedOut     = 3102
	statusNotOnHold         = 3103
	statusNoAvailableCopies = 3104
	statusLoanLimitReached  = 3105
	statusHoldLimitReached  = 3106
	statusTitleNotOwned     = 3107
	statusTitleAvailable    = 3108
)

// Status is the vendor's per-response result envelope.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"statusMessage"`
}

// Err translates a vendor status code into the typed error vocabulary, or
// nil when the call succeeded.
func (s Status) Err() error {
	switch s.Code {
	case statusOK:
		return nil
	case statusAlreadyCheckedOut:
		return pkgerrors.New(pkgerrors.CodeAlreadyCheckedOut, s.Message)
	case statusAlreadyOnHold:
		return pkgerrors.New(pkgerrors.CodeAlreadyOnHold, s.Message)
	case statusNotCheckedOut:
		return pkgerrors.New(pkgerrors.CodeNotCheckedOut, s.Message)
	case statusNotOnHold:
		return pkgerrors.New(pkgerrors.CodeNotOnHold, s.Message)
	case statusNoAvailableCopies:
		return pkgerrors.New(pkgerrors.CodeNoAvailableCopies, s.Message)
	case statusLoanLimitReached:
		return pkgerrors.New(pkgerrors.CodeLoanLimitReached, s.Message)
	case statusHoldLimitReached:
		return pkgerrors.New(pkgerrors.CodeHoldLimitReached, s.Message)
	case statusTitleNotOwned:
		return pkgerrors.New(pkgerrors.CodeNoLicenses, s.Message)
	case statusTitleAvailable:
		return pkgerrors.New(pkgerrors.CodeCurrentlyAvailable, s.Message)
	default:
		return pkgerrors.New(pkgerrors.CodeVendorIntegration,
			fmt.Sprintf("vendor status %d: %s", s.Code, s.Message))
	}
}

// CheckoutResponse answers a checkout or checkout-status call.
type CheckoutResponse struct {
	Status         Status     `json:"status"`
	TransactionID  string     `json:"transactionId"`
	ExpirationDate *time.Time `json:"expirationDate"`
	FulfillmentURL string     `json:"fulfillmentUrl"`
}

// HoldResponse answers a place-hold call.
type HoldResponse struct {
	Status        Status `json:"status"`
	QueuePosition int    `json:"holdsQueuePosition"`
}

// TitleAvailability is the vendor's per-title counter snapshot.
type TitleAvailability struct {
	TitleID         string `json:"titleId"`
	TotalCopies     int    `json:"totalCopies"`
	AvailableCopies int    `json:"availableCopies"`
	ReservedCopies  int    `json:"reservedCopies"`
	HoldsQueueSize  int    `json:"holdsQueueSize"`
	Active          bool   `json:"active"`
}

// AvailabilityResponse answers single-title and catalog-wide availability
// calls.
type AvailabilityResponse struct {
	Status Status              `json:"status"`
	Titles []TitleAvailability `json:"titles"`
}

// LicenseRequest carries the client device's RSA public-key parameters to the
// vendor's license endpoint.
type LicenseRequest struct {
	Modulus  string `json:"modulus"`
	Exponent string `json:"exponent"`
	DeviceID string `json:"deviceId"`
	ClientIP string `json:"clientIp"`
}

// Client is the token-authed JSON client for the Boundless vendor API.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	libraryID string
}

// NewClient builds the vendor client.
func NewClient(baseURL, apiKey, libraryID string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("boundless base url required")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		libraryID: libraryID,
	}, nil
}

// Checkout borrows a title in the given vendor format.
func (c *Client) Checkout(ctx context.Context, patronID, titleID, formatCode string) (*CheckoutResponse, error) {
	var resp CheckoutResponse
	err := c.post(ctx, "/circulation/checkout", map[string]string{
		"patronId": patronID,
		"titleId":  titleID,
		"format":   formatCode,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Checkin returns a title early.
func (c *Client) Checkin(ctx context.Context, patronID, titleID string) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}
	err := c.post(ctx, "/circulation/checkin", map[string]string{
		"patronId": patronID,
		"titleId":  titleID,
	}, &resp)
	return resp.Status, err
}

// PlaceHold queues the patron for a title.
func (c *Client) PlaceHold(ctx context.Context, patronID, titleID, email string) (*HoldResponse, error) {
	var resp HoldResponse
	err := c.post(ctx, "/circulation/hold", map[string]string{
		"patronId":    patronID,
		"titleId":     titleID,
		"notifyEmail": email,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseHold removes the patron from a title's queue.
func (c *Client) ReleaseHold(ctx context.Context, patronID, titleID string) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}
	err := c.post(ctx, "/circulation/holdrelease", map[string]string{
		"patronId": patronID,
		"titleId":  titleID,
	}, &resp)
	return resp.Status, err
}

// Availability fetches one title's counters. Empty titleID fetches the whole
// catalog, which the reaping sweep diffs against local pools.
func (c *Client) Availability(ctx context.Context, titleID string) (*AvailabilityResponse, error) {
	path := "/availability"
	if titleID != "" {
		path += "?titleId=" + url.QueryEscape(titleID)
	}
	var resp AvailabilityResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AudiobookManifest fetches the session manifest for a Findaway checkout.
func (c *Client) AudiobookManifest(ctx context.Context, transactionID string) (json.RawMessage, error) {
	var resp struct {
		Status   Status          `json:"status"`
		Manifest json.RawMessage `json:"manifest"`
	}
	if err := c.get(ctx, "/audiobook/metadata?transactionId="+url.QueryEscape(transactionID), &resp); err != nil {
		return nil, err
	}
	if err := resp.Status.Err(); err != nil {
		return nil, err
	}
	return resp.Manifest, nil
}

// License requests a DRM license document bound to the client's public key.
func (c *Client) License(ctx context.Context, transactionID string, req LicenseRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding license request: %w", err)
	}
	body, err := c.doRaw(ctx, http.MethodPost, "/license/"+url.PathEscape(transactionID), payload)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string, out any) error {
	fields["libraryId"] = c.libraryID
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding vendor request: %w", err)
	}
	body, err := c.doRaw(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "parsing vendor response")
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	body, err := c.doRaw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "parsing vendor response")
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "building vendor request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "calling vendor")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "reading vendor response")
	}
	if resp.StatusCode >= 400 {
		return nil, pkgerrors.New(pkgerrors.CodeVendorIntegration,
			fmt.Sprintf("vendor answered %d", resp.StatusCode))
	}
	return body, nil
}
