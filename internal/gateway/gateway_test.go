package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quickbites/order-engine/internal/orders"
)

// fakeProvider simulates the hosted payment provider's REST surface.
type fakeProvider struct {
	refs         map[string]string // reference -> settlement status
	initCalls    int
	failInit     bool
	lastAuth     string
	omitMetadata bool
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/initialize", func(w http.ResponseWriter, r *http.Request) {
		f.initCalls++
		f.lastAuth = r.Header.Get("Authorization")
		if f.failInit {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req struct {
			AmountCents int64             `json:"amount"`
			Reference   string            `json:"reference"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.refs[req.Reference] = "pending"
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"authorization_url": "https://pay.example.com/" + req.Reference,
				"reference":         req.Reference,
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		status, ok := f.refs[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data := map[string]interface{}{
			"status": status,
			"amount": 2198,
		}
		if !f.omitMetadata {
			data["metadata"] = map[string]string{"order_id": "order-1"}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeProvider) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "sk_test", "https://shop.example.com/payments/callback")
	c.refFunc = func() string { return "tx_1" }
	return c, srv
}

func testOrder() *orders.Order {
	return &orders.Order{
		OrderID:       "order-1",
		OwnerID:       "alice",
		TotalCents:    2198,
		PaymentMethod: orders.MethodGateway,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
	}
}

func TestInitiateSession_Success(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}}
	client, _ := newTestClient(t, provider)

	session, err := client.InitiateSession(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.Reference != "tx_1" {
		t.Fatalf("expected reference tx_1, got %s", session.Reference)
	}
	if session.RedirectURL != "https://pay.example.com/tx_1" {
		t.Fatalf("unexpected redirect url: %s", session.RedirectURL)
	}
	if session.OrderID != "order-1" || session.AmountCents != 2198 {
		t.Fatalf("session bookkeeping wrong: %+v", session)
	}
	if provider.lastAuth != "Bearer sk_test" {
		t.Fatalf("expected bearer auth, got %q", provider.lastAuth)
	}
}

func TestInitiateSession_InvalidAmount(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}}
	client, _ := newTestClient(t, provider)

	order := testOrder()
	order.TotalCents = 0
	_, err := client.InitiateSession(context.Background(), order)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if provider.initCalls != 0 {
		t.Fatalf("invalid amount must be rejected before any network call")
	}
}

func TestInitiateSession_ProviderDown(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}, failInit: true}
	client, _ := newTestClient(t, provider)

	_, err := client.InitiateSession(context.Background(), testOrder())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestInitiateSession_Unreachable(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}}
	client, srv := newTestClient(t, provider)
	srv.Close()

	_, err := client.InitiateSession(context.Background(), testOrder())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestVerifyTransaction_Settled(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}}
	client, _ := newTestClient(t, provider)

	if _, err := client.InitiateSession(context.Background(), testOrder()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	provider.refs["tx_1"] = "success"

	result, err := client.VerifyTransaction(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Success || result.OrderID != "order-1" || result.AmountCents != 2198 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVerifyTransaction_Declined(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{"tx_1": "failed"}}
	client, _ := newTestClient(t, provider)

	result, err := client.VerifyTransaction(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Success {
		t.Fatalf("declined transaction reported as success")
	}
}

func TestVerifyTransaction_Pending(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{"tx_1": "pending"}}
	client, _ := newTestClient(t, provider)

	_, err := client.VerifyTransaction(context.Background(), "tx_1")
	if !errors.Is(err, ErrVerificationPending) {
		t.Fatalf("expected ErrVerificationPending, got %v", err)
	}
}

func TestVerifyTransaction_UnknownReference(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}}
	client, _ := newTestClient(t, provider)

	_, err := client.VerifyTransaction(context.Background(), "tx_missing")
	if !errors.Is(err, ErrUnknownReference) {
		t.Fatalf("expected ErrUnknownReference, got %v", err)
	}
}

func TestVerifyTransaction_SessionFallbackForOrderID(t *testing.T) {
	provider := &fakeProvider{refs: map[string]string{}, omitMetadata: true}
	client, _ := newTestClient(t, provider)

	if _, err := client.InitiateSession(context.Background(), testOrder()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	provider.refs["tx_1"] = "success"

	result, err := client.VerifyTransaction(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.OrderID != "order-1" {
		t.Fatalf("expected order id from session bookkeeping, got %q", result.OrderID)
	}
}
