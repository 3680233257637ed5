package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"

	intaws "github.com/quickbites/order-engine/internal/aws"
	"github.com/quickbites/order-engine/internal/orders"
)

// Processor consumes mirrored lifecycle events and advances paid orders into
// the kitchen: PENDING -> PROCESSING with a delivery estimate.
type Processor struct {
	orderStore *orders.Store
	prepTime   time.Duration
	nowFunc    func() time.Time
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *intaws.AWSClients, ordersTable string, prepTime time.Duration) *Processor {
	return &Processor{
		orderStore: orders.NewStore(clients.DynamoDB, ordersTable),
		prepTime:   prepTime,
		nowFunc:    time.Now,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg intaws.QueueEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	if msg.Event != "payment.paid" {
		log.Printf("[worker] ignoring event %s for order=%s", msg.Event, msg.OrderID)
		return nil
	}

	log.Printf("[worker] received %s order=%s", msg.Event, msg.OrderID)

	// Step 1: Read the current order
	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		// Should never happen: the event is mirrored after the write
		return fmt.Errorf("order not found: %s", msg.OrderID)
	}

	// Step 2: Move PENDING -> PROCESSING (idempotent against duplicates)
	eta := p.nowFunc().Add(p.prepTime)
	err = p.orderStore.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusProcessing,
		orders.StatusUpdate{EstimatedDelivery: &eta})
	if errors.Is(err, orders.ErrStatusMismatch) {
		// A competing consumer or an admin advanced it already. Duplicated
		// deliveries are swallowed; a cancelled order is left alone.
		o2, getErr := p.orderStore.Get(ctx, msg.OrderID)
		if getErr != nil || o2 == nil {
			return fmt.Errorf("order=%s re-read after conflict failed: %v", msg.OrderID, getErr)
		}
		log.Printf("[worker] order=%s already %s, skipping dispatch", msg.OrderID, o2.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update status to PROCESSING: %w", err)
	}

	log.Printf("[worker] dispatched order=%s eta=%s", msg.OrderID, eta.Format(time.RFC3339))
	return nil
}
