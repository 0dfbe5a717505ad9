// Package cryptopay is a client for the Crypto Pay invoice API.
//
// Error discipline matters here: a transport failure, a non-200 status, a
// malformed body, or an ok:false envelope is always surfaced as an error.
// None of these may be read as "invoice does not exist" — callers that treat
// an errored lookup as absence would silently drop paid invoices.
package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unikbot/paycore/internal/circuitbreaker"
)

const (
	tokenHeader    = "Crypto-Pay-API-Token"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrInvoiceNotFound means the provider answered successfully and the
	// invoice is genuinely absent. Only that case maps to this error.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrProviderUnavailable means the circuit breaker is open and the
	// request was not attempted.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// Client talks to the Crypto Pay API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates a Crypto Pay client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		breaker: circuitbreaker.New("cryptopay", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateInvoice creates a new invoice for the given asset and amount.
func (c *Client) CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description, payload string, expiresIn time.Duration) (*Invoice, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("cryptopay: invoice amount must be positive, got %s", amount)
	}
	req := createInvoiceRequest{
		Asset:       asset,
		Amount:      amount.String(),
		Description: description,
		Payload:     payload,
	}
	if expiresIn > 0 {
		req.ExpiresIn = int(expiresIn.Seconds())
	}

	var inv Invoice
	if err := c.call(ctx, "createInvoice", req, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice fetches the current state of a single invoice. A successful
// response with no matching item returns ErrInvoiceNotFound; every failure
// mode returns a different error.
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	req := getInvoicesRequest{InvoiceIDs: strconv.FormatInt(invoiceID, 10)}

	var result getInvoicesResult
	if err := c.call(ctx, "getInvoices", req, &result); err != nil {
		return nil, err
	}
	for i := range result.Items {
		if result.Items[i].InvoiceID == invoiceID {
			return &result.Items[i], nil
		}
	}
	return nil, ErrInvoiceNotFound
}

// call posts a JSON body to a provider method and decodes the result.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if !c.breaker.Allow() {
		return ErrProviderUnavailable
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("cryptopay: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cryptopay: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("cryptopay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return fmt.Errorf("cryptopay: %s returned status %d", method, resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("cryptopay: decode %s response: %w", method, err)
	}
	if !envelope.Ok {
		c.breaker.RecordFailure()
		if envelope.Error != nil {
			return fmt.Errorf("cryptopay: %s failed: %d %s", method, envelope.Error.Code, envelope.Error.Name)
		}
		return fmt.Errorf("cryptopay: %s failed without error detail", method)
	}

	c.breaker.RecordSuccess()

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("cryptopay: decode %s result: %w", method, err)
		}
	}
	return nil
}
