package odl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

const maxResponseBytes = 1 << 20

// errCheckoutRejected marks a per-license checkout the distributor refused;
// the adapter moves on to the next copy instead of failing the borrow.
var errCheckoutRejected = fmt.Errorf("license checkout rejected")

// Client talks to an ODL distributor's loan status document endpoints using
// basic auth.
type Client struct {
	http     *http.Client
	username string
	password string
}

// NewClient builds the distributor client. Credentials may be empty for
// distributors that do not require auth.
func NewClient(username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}
}

// GetStatus fetches and parses a loan status document.
func (c *Client) GetStatus(ctx context.Context, url string) (*StatusDocument, error) {
	var doc StatusDocument
	if err := c.do(ctx, http.MethodGet, url, false, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Checkout performs a checkout against an expanded license checkout URL. The
// distributor answers with the new loan's status document. A 4xx answer maps
// to errCheckoutRejected so the caller can try the next copy.
func (c *Client) Checkout(ctx context.Context, url string) (*StatusDocument, error) {
	var doc StatusDocument
	if err := c.do(ctx, http.MethodPost, url, true, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Return follows a status document's return link and parses the updated
// status document.
func (c *Client) Return(ctx context.Context, url string) (*StatusDocument, error) {
	var doc StatusDocument
	if err := c.do(ctx, http.MethodPut, url, false, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetLicense fetches a nested license document, used as the self-link
// fallback when a distributor omits the expected status link.
func (c *Client) GetLicense(ctx context.Context, url string) (*LicenseDocument, error) {
	var doc LicenseDocument
	if err := c.do(ctx, http.MethodGet, url, false, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) do(ctx context.Context, method, url string, rejectable bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "building distributor request")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/vnd.readium.license.status.v1.0+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "calling distributor")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "reading distributor response")
	}

	if resp.StatusCode >= 400 {
		if rejectable && resp.StatusCode < 500 {
			return fmt.Errorf("%w: distributor answered %d", errCheckoutRejected, resp.StatusCode)
		}
		return pkgerrors.New(pkgerrors.CodeVendorIntegration,
			fmt.Sprintf("distributor answered %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "parsing distributor response")
	}
	return nil
}
