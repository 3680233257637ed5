// Package gateway adapts the external redirect-based payment provider to two
// operations: initiate a hosted payment session, and verify a completed
// transaction by reference. The provider's record is authoritative; this
// adapter never guesses a settlement outcome.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickbites/order-engine/internal/orders"
)

var (
	// ErrGatewayUnavailable is transient: the provider could not be
	// reached. Initiation is safe to retry; the order is preserved.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidAmount rejects a session for a non-positive total before
	// any network call is made.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrUnknownReference means the provider has no record of the
	// transaction reference.
	ErrUnknownReference = errors.New("unknown transaction reference")

	// ErrVerificationPending means the provider reports the transaction
	// as not yet settled. Explicitly not a failure: payment status must
	// not move until the outcome is definitive.
	ErrVerificationPending = errors.New("verification pending")
)

// Session is the ephemeral bookkeeping kept between initiation and
// verification. Nothing here is persisted.
type Session struct {
	OrderID     string
	Reference   string
	RedirectURL string
	AmountCents int64
	CreatedAt   time.Time
}

// VerifyResult is the settlement outcome for a reference.
type VerifyResult struct {
	Success     bool
	OrderID     string
	AmountCents int64
}

// Client talks to the provider's REST surface.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	httpClient  *http.Client

	mu       sync.Mutex
	sessions map[string]Session

	refFunc func() string
}

// NewClient returns a gateway Client. callbackURL is where the provider
// redirects the end user after the hosted flow.
func NewClient(baseURL, secretKey, callbackURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		secretKey:   secretKey,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		sessions:    make(map[string]Session),
		refFunc:     func() string { return "tx_" + uuid.NewString() },
	}
}

type initializeRequest struct {
	AmountCents int64             `json:"amount"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Data struct {
		Status      string            `json:"status"` // success | failed | pending | abandoned
		AmountCents int64             `json:"amount"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"data"`
}

// InitiateSession asks the provider for a hosted payment session for the
// order and returns the session the caller should redirect the end user to.
// The order's payment status is untouched here.
func (c *Client) InitiateSession(ctx context.Context, order *orders.Order) (*Session, error) {
	if order.TotalCents <= 0 {
		return nil, fmt.Errorf("%w: %d cents", ErrInvalidAmount, order.TotalCents)
	}

	reference := c.refFunc()
	body, err := json.Marshal(initializeRequest{
		AmountCents: order.TotalCents,
		Reference:   reference,
		CallbackURL: c.callbackURL,
		Metadata:    map[string]string{"order_id": order.OrderID},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: provider returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("initialize session: provider returned %d", resp.StatusCode)
	}

	var out initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode initialize response: %w", err)
	}
	if out.Data.Reference != "" {
		reference = out.Data.Reference
	}

	session := Session{
		OrderID:     order.OrderID,
		Reference:   reference,
		RedirectURL: out.Data.AuthorizationURL,
		AmountCents: order.TotalCents,
		CreatedAt:   time.Now(),
	}
	c.mu.Lock()
	c.sessions[reference] = session
	c.mu.Unlock()

	return &session, nil
}

// VerifyTransaction asks the provider for the settlement state of reference.
// Success=false means a definitive decline; an unsettled transaction is
// surfaced as ErrVerificationPending so the caller can retry later.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, reference)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("verify transaction: provider returned %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	orderID := out.Data.Metadata["order_id"]
	if orderID == "" {
		if s, ok := c.lookupSession(reference); ok {
			orderID = s.OrderID
		}
	}

	switch out.Data.Status {
	case "success":
		return &VerifyResult{Success: true, OrderID: orderID, AmountCents: out.Data.AmountCents}, nil
	case "pending":
		return nil, fmt.Errorf("%w: %s", ErrVerificationPending, reference)
	default:
		// failed, abandoned, anything else the provider calls terminal
		return &VerifyResult{Success: false, OrderID: orderID, AmountCents: out.Data.AmountCents}, nil
	}
}

func (c *Client) lookupSession(reference string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[reference]
	return s, ok
}
