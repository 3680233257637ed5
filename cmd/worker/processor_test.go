package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/quickbites/order-engine/internal/orders"
)

// workerMock backs the orders store with an in-memory table keyed on order_id.
// It honors the #s = :expected condition the store uses for status transitions.
type workerMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newWorkerMock() *workerMock {
	return &workerMock{table: map[string]map[string]types.AttributeValue{}}
}

func (m *workerMock) seed(t *testing.T, o orders.Order) {
	t.Helper()
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		t.Fatalf("marshal seed order: %v", err)
	}
	m.mu.Lock()
	m.table[o.OrderID] = item
	m.mu.Unlock()
}

func (m *workerMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Item["order_id"].(*types.AttributeValueMemberS).Value
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *workerMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *workerMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return nil, errors.New("item not found")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :expected" {
		attr := params.ExpressionAttributeNames["#s"]
		expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		cur, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok || cur.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item[attr] = params.ExpressionAttributeValues[":new"]
	}
	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":eta"]; ok {
		item["estimated_delivery"] = v
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *workerMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not implemented")
}

func (m *workerMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not implemented")
}

func (m *workerMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not implemented")
}

func newTestProcessor(mock *workerMock) *Processor {
	return &Processor{
		orderStore: orders.NewStore(mock, "orders"),
		prepTime:   45 * time.Minute,
		nowFunc:    func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func sqsEvent(bodies ...string) events.SQSEvent {
	var ev events.SQSEvent
	for _, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{Body: b})
	}
	return ev
}

func TestHandle_PaymentPaidDispatchesOrder(t *testing.T) {
	mock := newWorkerMock()
	mock.seed(t, orders.Order{
		OrderID:       "order-1",
		OwnerID:       "cust-1",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPaid,
	})
	p := newTestProcessor(mock)

	err := p.Handle(context.Background(), sqsEvent(`{"event":"payment.paid","order_id":"order-1","owner_id":"cust-1"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := p.orderStore.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != orders.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", got.Status)
	}
	if got.EstimatedDelivery == nil {
		t.Fatalf("expected estimated delivery to be set")
	}
	wantETA := time.Date(2025, 6, 1, 12, 45, 0, 0, time.UTC)
	if !got.EstimatedDelivery.Equal(wantETA) {
		t.Fatalf("expected eta %s, got %s", wantETA, got.EstimatedDelivery)
	}
}

func TestHandle_DuplicateDeliveryIsSwallowed(t *testing.T) {
	mock := newWorkerMock()
	mock.seed(t, orders.Order{
		OrderID:       "order-1",
		OwnerID:       "cust-1",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPaid,
	})
	p := newTestProcessor(mock)

	body := `{"event":"payment.paid","order_id":"order-1"}`
	if err := p.Handle(context.Background(), sqsEvent(body)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// SQS is at-least-once; a redelivery must not error or regress state.
	if err := p.Handle(context.Background(), sqsEvent(body)); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	got, _ := p.orderStore.Get(context.Background(), "order-1")
	if got.Status != orders.StatusProcessing {
		t.Fatalf("expected PROCESSING after duplicate, got %s", got.Status)
	}
}

func TestHandle_CancelledOrderIsLeftAlone(t *testing.T) {
	mock := newWorkerMock()
	mock.seed(t, orders.Order{
		OrderID:       "order-1",
		OwnerID:       "cust-1",
		Status:        orders.StatusCancelled,
		PaymentStatus: orders.PaymentPaid,
	})
	p := newTestProcessor(mock)

	err := p.Handle(context.Background(), sqsEvent(`{"event":"payment.paid","order_id":"order-1"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := p.orderStore.Get(context.Background(), "order-1")
	if got.Status != orders.StatusCancelled {
		t.Fatalf("expected CANCELLED untouched, got %s", got.Status)
	}
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	mock := newWorkerMock()
	mock.seed(t, orders.Order{OrderID: "order-1", Status: orders.StatusPending})
	p := newTestProcessor(mock)

	err := p.Handle(context.Background(), sqsEvent(`{"event":"order.created","order_id":"order-1"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := p.orderStore.Get(context.Background(), "order-1")
	if got.Status != orders.StatusPending {
		t.Fatalf("expected PENDING untouched, got %s", got.Status)
	}
}

func TestHandle_MissingOrderReturnsErrorForRetry(t *testing.T) {
	p := newTestProcessor(newWorkerMock())

	err := p.Handle(context.Background(), sqsEvent(`{"event":"payment.paid","order_id":"ghost"}`))
	if err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestHandle_MalformedBodyReturnsError(t *testing.T) {
	p := newTestProcessor(newWorkerMock())

	err := p.Handle(context.Background(), sqsEvent(`{not json`))
	if err == nil {
		t.Fatalf("expected error for malformed body")
	}
}
