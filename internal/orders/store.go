package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/quickbites/order-engine/internal/aws"
)

// ErrStatusMismatch is returned when a conditional update loses against a
// concurrent writer: the stored value no longer matches the expected one.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// ErrReferenceSet is returned when a payment reference is already present.
var ErrReferenceSet = errors.New("payment reference already set")

// OwnerIndex is the GSI used to list a customer's orders.
const OwnerIndex = "owner_id-index"

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new order. The order_id must be unique; a duplicate id
// fails the conditional put.
func (s *Store) Create(ctx context.Context, order Order) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return fmt.Errorf("order %s already exists: %w", order.OrderID, err)
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in orders table
//
// It marshals both items and issues a TransactWriteItems call.
// idempotencyItem must be a serializable struct with attribute idempotency_key present.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	// caller can include expires_at; if not present, add it
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := time.Now().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (likely idempotency key exists): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByOwner queries the owner_id GSI and returns that customer's orders.
// Used by reconnecting clients to resync state missed while offline.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(OwnerIndex),
		KeyConditionExpression: awsString("owner_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query owner orders: %w", err)
	}
	var result []Order
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &result); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	return result, nil
}

// ListAll scans the full table for the admin view.
func (s *Store) ListAll(ctx context.Context) ([]Order, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName: &s.tableName,
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	var result []Order
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &result); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	return result, nil
}

// StatusUpdate carries optional timestamps written alongside a status change.
type StatusUpdate struct {
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// The condition serializes concurrent transitions on the same order: exactly
// one of two racing writers observes the expected value.
// Returns nil on success, ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string, extra StatusUpdate) error {
	now := s.nowFunc()
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: newStatus},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		":expected": &types.AttributeValueMemberS{Value: expectedStatus},
	}
	if extra.EstimatedDelivery != nil {
		updateExpr += ", estimated_delivery = :eta"
		values[":eta"] = &types.AttributeValueMemberS{Value: extra.EstimatedDelivery.Format(time.RFC3339)}
	}
	if extra.ActualDelivery != nil {
		updateExpr += ", actual_delivery = :act"
		values[":act"] = &types.AttributeValueMemberS{Value: extra.ActualDelivery.Format(time.RFC3339)}
	}

	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// UpdatePaymentStatus conditionally updates payment_status from expected -> newStatus.
// Returns ErrStatusMismatch when the condition failed.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #ps = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#ps": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#ps = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// SetPaymentReference stores the gateway reference on the order. The write is
// conditional on no reference being present already; a second initiation for
// the same order returns ErrReferenceSet.
func (s *Store) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET payment_reference = :r, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":  &types.AttributeValueMemberS{Value: reference},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_not_exists(payment_reference)"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrReferenceSet
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
