// Package lifecycle implements the order state machine. It is the single
// authority that mutates an order's status and payment_status fields; every
// successful transition fans out an event to the owning customer's room and
// the shared admin room.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quickbites/order-engine/internal/aws"
	"github.com/quickbites/order-engine/internal/orders"
	"github.com/quickbites/order-engine/internal/realtime"
)

// Event names published through the room router.
const (
	EventNewOrder          = "newOrder"
	EventOrderStatusUpdate = "orderStatusUpdate"
)

// Queue event names mirrored to SQS for out-of-process consumers.
const (
	QueuePaymentPaid = "payment.paid"
)

// MaxItemQuantity caps the per-line-item quantity.
const MaxItemQuantity = 10

// statusEdges is the legal status DAG. Cancelled and delivered are terminal.
var statusEdges = map[string][]string{
	orders.StatusPending:    {orders.StatusProcessing, orders.StatusCancelled},
	orders.StatusProcessing: {orders.StatusShipped, orders.StatusCancelled},
	orders.StatusShipped:    {orders.StatusDelivered, orders.StatusCancelled},
	orders.StatusDelivered:  {},
	orders.StatusCancelled:  {},
}

// paymentEdges is the legal payment_status graph. Paid is terminal; failed
// may retry back to pending or straight to paid.
var paymentEdges = map[string][]string{
	orders.PaymentPending: {orders.PaymentPaid, orders.PaymentFailed},
	orders.PaymentFailed:  {orders.PaymentPending, orders.PaymentPaid},
	orders.PaymentPaid:    {},
}

// OrderStore is the persistence surface the machine needs. *orders.Store
// satisfies it.
type OrderStore interface {
	Create(ctx context.Context, order orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID, expected, newStatus string, extra orders.StatusUpdate) error
	UpdatePaymentStatus(ctx context.Context, orderID, expected, newStatus string) error
}

// PriceResolver resolves authoritative unit prices at creation time.
type PriceResolver interface {
	ResolveUnitPrice(ctx context.Context, productID string) (int64, error)
}

// Publisher delivers events to subscribed live connections.
type Publisher interface {
	Publish(room, event string, payload interface{})
}

// QueueMirror ships selected events to the dispatch queue. *aws.Publisher
// satisfies it; nil disables mirroring.
type QueueMirror interface {
	SendEvent(ctx context.Context, ev aws.QueueEvent, attributes map[string]string) error
}

// ItemRequest is a client-supplied line: product reference and quantity only.
// Prices are resolved server-side; a client-supplied price is never trusted.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Machine validates and applies order transitions.
type Machine struct {
	store   OrderStore
	catalog PriceResolver
	bus     Publisher
	mirror  QueueMirror
	metrics *aws.Metrics

	// AllowPayLater permits advancing a gateway order past PENDING while
	// its payment is still unsettled.
	AllowPayLater bool

	// PrepTime sizes the delivery estimate stamped on PENDING -> PROCESSING.
	PrepTime time.Duration

	nowFunc func() time.Time
	idFunc  func() string
}

// NewMachine wires a Machine. mirror and metrics may be nil.
func NewMachine(store OrderStore, catalog PriceResolver, bus Publisher, mirror QueueMirror, metrics *aws.Metrics) *Machine {
	return &Machine{
		store:    store,
		catalog:  catalog,
		bus:      bus,
		mirror:   mirror,
		metrics:  metrics,
		PrepTime: 45 * time.Minute,
		nowFunc:  time.Now,
		idFunc:   uuid.NewString,
	}
}

// CreateOrder validates the request, snapshots unit prices from the catalog,
// persists the order in PENDING/PENDING and announces it on the admin room.
// The owner gets the synchronous result; no event targets the owner's room.
func (m *Machine) CreateOrder(ctx context.Context, ownerID string, items []ItemRequest, deliveryAddress, paymentMethod string) (*orders.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no line items", ErrValidation)
	}
	if deliveryAddress == "" {
		return nil, fmt.Errorf("%w: delivery address is empty", ErrValidation)
	}
	switch paymentMethod {
	case orders.MethodCash, orders.MethodCard, orders.MethodGateway:
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, paymentMethod)
	}

	lineItems := make([]orders.LineItem, 0, len(items))
	var total int64
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > MaxItemQuantity {
			return nil, fmt.Errorf("%w: quantity %d for %s out of range [1,%d]", ErrValidation, it.Quantity, it.ProductID, MaxItemQuantity)
		}
		price, err := m.catalog.ResolveUnitPrice(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		lineItems = append(lineItems, orders.LineItem{
			ProductID:      it.ProductID,
			UnitPriceCents: price,
			Quantity:       it.Quantity,
		})
		total += price * int64(it.Quantity)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: order total must be positive", ErrValidation)
	}

	now := m.nowFunc()
	order := orders.Order{
		OrderID:         m.idFunc(),
		OwnerID:         ownerID,
		LineItems:       lineItems,
		TotalCents:      total,
		DeliveryAddress: deliveryAddress,
		PaymentMethod:   paymentMethod,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	m.bus.Publish(realtime.AdminRoom, EventNewOrder, &order)
	m.metrics.Count(ctx, aws.MetricOrdersCreated, 1)
	m.metrics.Count(ctx, aws.MetricEventsPublished, 1)
	return &order, nil
}

// TransitionStatus moves an order along the status DAG. Re-applying the
// current status is a no-op success. A losing race against a concurrent
// writer returns ErrConflict without publishing.
func (m *Machine) TransitionStatus(ctx context.Context, orderID, newStatus string) (*orders.Order, error) {
	order, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	if order.Status == newStatus {
		return order, nil
	}
	if !edgeAllowed(statusEdges, order.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, newStatus)
	}
	if !m.AllowPayLater &&
		order.PaymentMethod == orders.MethodGateway &&
		order.PaymentStatus != orders.PaymentPaid &&
		newStatus != orders.StatusCancelled {
		return nil, fmt.Errorf("%w: order %s", ErrPaymentRequired, orderID)
	}

	now := m.nowFunc()
	var extra orders.StatusUpdate
	switch newStatus {
	case orders.StatusProcessing:
		eta := now.Add(m.PrepTime)
		extra.EstimatedDelivery = &eta
	case orders.StatusDelivered:
		extra.ActualDelivery = &now
	}

	if err := m.store.UpdateStatus(ctx, orderID, order.Status, newStatus, extra); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return nil, fmt.Errorf("%w: order %s", ErrConflict, orderID)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	order.Status = newStatus
	order.EstimatedDelivery = firstNonNil(extra.EstimatedDelivery, order.EstimatedDelivery)
	order.ActualDelivery = firstNonNil(extra.ActualDelivery, order.ActualDelivery)
	order.UpdatedAt = now

	m.publishUpdate(ctx, order)
	return order, nil
}

// TransitionPaymentStatus moves payment_status. Paid is terminal; re-applying
// the current value is a no-op success so verification retries stay idempotent.
func (m *Machine) TransitionPaymentStatus(ctx context.Context, orderID, newStatus string) (*orders.Order, error) {
	order, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	if order.PaymentStatus == newStatus {
		return order, nil
	}
	if !edgeAllowed(paymentEdges, order.PaymentStatus, newStatus) {
		return nil, fmt.Errorf("%w: payment %s -> %s", ErrIllegalTransition, order.PaymentStatus, newStatus)
	}

	if err := m.store.UpdatePaymentStatus(ctx, orderID, order.PaymentStatus, newStatus); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return nil, fmt.Errorf("%w: order %s", ErrConflict, orderID)
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	order.PaymentStatus = newStatus
	order.UpdatedAt = m.nowFunc()

	m.publishUpdate(ctx, order)

	if newStatus == orders.PaymentPaid && m.mirror != nil {
		ev := aws.QueueEvent{
			Event:   QueuePaymentPaid,
			OrderID: order.OrderID,
			OwnerID: order.OwnerID,
		}
		// best effort: the canonical state is already persisted and the
		// live rooms were notified
		if err := m.mirror.SendEvent(ctx, ev, map[string]string{"order_id": order.OrderID}); err != nil {
			log.Printf("mirror %s for order %s: %v", QueuePaymentPaid, order.OrderID, err)
		}
	}
	return order, nil
}

// publishUpdate fans the updated snapshot out to both the admin room and the
// owner's private room.
func (m *Machine) publishUpdate(ctx context.Context, order *orders.Order) {
	m.bus.Publish(realtime.AdminRoom, EventOrderStatusUpdate, order)
	m.bus.Publish(realtime.UserRoom(order.OwnerID), EventOrderStatusUpdate, order)
	m.metrics.Count(ctx, aws.MetricEventsPublished, 1)
}

func edgeAllowed(edges map[string][]string, from, to string) bool {
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
