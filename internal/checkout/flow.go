// Package checkout orchestrates the order reconciliation flow: creation,
// optional payment-session initiation, the external redirect leg, and the
// verification that aligns the recorded payment state with the provider's.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quickbites/order-engine/internal/aws"
	"github.com/quickbites/order-engine/internal/gateway"
	"github.com/quickbites/order-engine/internal/lifecycle"
	"github.com/quickbites/order-engine/internal/orders"
)

// Machine is the slice of the state machine the flow drives.
type Machine interface {
	CreateOrder(ctx context.Context, ownerID string, items []lifecycle.ItemRequest, deliveryAddress, paymentMethod string) (*orders.Order, error)
	TransitionPaymentStatus(ctx context.Context, orderID, newStatus string) (*orders.Order, error)
}

// Gateway is the payment provider surface. *gateway.Client satisfies it.
type Gateway interface {
	InitiateSession(ctx context.Context, order *orders.Order) (*gateway.Session, error)
	VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error)
}

// ReferenceStore persists the provider reference onto the order record.
type ReferenceStore interface {
	SetPaymentReference(ctx context.Context, orderID, reference string) error
}

// VerifyRetryPolicy bounds in-call retries when the provider reports a
// transaction as not yet settled.
type VerifyRetryPolicy struct {
	Attempts int           // total verification attempts per call, min 1
	Backoff  time.Duration // wait between attempts
}

// Result is what a checkout call hands back to the HTTP layer.
type Result struct {
	Order       *orders.Order
	RedirectURL string
	Reference   string
	// GatewayErr is set when the order was created but payment-session
	// initiation failed. The order survives and stays payable later.
	GatewayErr error
}

// Flow wires the state machine, the gateway adapter and the order store into
// the end-to-end checkout choreography.
type Flow struct {
	machine Machine
	gateway Gateway
	refs    ReferenceStore
	metrics *aws.Metrics

	RetryPolicy VerifyRetryPolicy
}

// NewFlow returns a Flow with a single-attempt verification policy.
func NewFlow(machine Machine, gw Gateway, refs ReferenceStore, metrics *aws.Metrics) *Flow {
	return &Flow{
		machine:     machine,
		gateway:     gw,
		refs:        refs,
		metrics:     metrics,
		RetryPolicy: VerifyRetryPolicy{Attempts: 1},
	}
}

// Checkout creates the order and, for gateway payments, initiates the hosted
// payment session. Non-gateway methods finish here with payment pending and
// the order immediately actionable.
//
// A failed initiation does not roll the order back: the caller is told the
// order exists but payment could not be started.
func (f *Flow) Checkout(ctx context.Context, ownerID string, items []lifecycle.ItemRequest, deliveryAddress, paymentMethod string) (*Result, error) {
	order, err := f.machine.CreateOrder(ctx, ownerID, items, deliveryAddress, paymentMethod)
	if err != nil {
		return nil, err
	}

	if paymentMethod != orders.MethodGateway {
		return &Result{Order: order}, nil
	}

	session, err := f.gateway.InitiateSession(ctx, order)
	if err != nil {
		log.Printf("initiate payment session for order %s: %v", order.OrderID, err)
		return &Result{Order: order, GatewayErr: err}, nil
	}

	if err := f.refs.SetPaymentReference(ctx, order.OrderID, session.Reference); err != nil {
		return nil, fmt.Errorf("store payment reference: %w", err)
	}
	order.PaymentReference = session.Reference

	return &Result{
		Order:       order,
		RedirectURL: session.RedirectURL,
		Reference:   session.Reference,
	}, nil
}

// ConfirmPayment resolves the external leg: it verifies the reference against
// the provider and applies the terminal outcome. A settled success moves
// payment to PAID, a definitive decline to FAILED; an unsettled transaction
// is surfaced as gateway.ErrVerificationPending with no state change.
func (f *Flow) ConfirmPayment(ctx context.Context, reference string) (*orders.Order, error) {
	result, err := f.verifyWithRetry(ctx, reference)
	if err != nil {
		return nil, err
	}
	if result.OrderID == "" {
		return nil, fmt.Errorf("provider returned no order for reference %s", reference)
	}

	target := orders.PaymentPaid
	if !result.Success {
		target = orders.PaymentFailed
	}

	order, err := f.machine.TransitionPaymentStatus(ctx, result.OrderID, target)
	if err != nil {
		return nil, fmt.Errorf("apply payment outcome: %w", err)
	}

	f.metrics.Count(ctx, aws.MetricPaymentsVerified, 1)
	return order, nil
}

func (f *Flow) verifyWithRetry(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	attempts := f.RetryPolicy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && f.RetryPolicy.Backoff > 0 {
			select {
			case <-time.After(f.RetryPolicy.Backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		result, err := f.gateway.VerifyTransaction(ctx, reference)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, gateway.ErrVerificationPending) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
