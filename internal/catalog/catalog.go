// Package catalog is a read-only lookup of authoritative product prices.
// The order engine resolves unit prices here at creation time and never
// trusts a client-supplied price.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/quickbites/order-engine/internal/aws"
)

// ErrUnknownProduct is returned when a product reference has no catalog entry.
var ErrUnknownProduct = errors.New("unknown product")

// Product is the subset of a catalog item the engine cares about.
type Product struct {
	ProductID  string `dynamodbav:"product_id"` // PK
	Name       string `dynamodbav:"name,omitempty"`
	PriceCents int64  `dynamodbav:"price_cents"`
	Available  bool   `dynamodbav:"available"`
}

// Store reads products from the catalog DynamoDB table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a catalog Store bound to tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// ResolveUnitPrice returns the current unit price for a product reference.
// ErrUnknownProduct when the item does not exist or is unavailable.
func (s *Store) ResolveUnitPrice(ctx context.Context, productID string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return 0, fmt.Errorf("unmarshal product: %w", err)
	}
	if !p.Available {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return p.PriceCents, nil
}

// Memory is an in-memory resolver for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	prices map[string]int64
}

// NewMemory returns a Memory catalog seeded with prices (product id -> cents).
func NewMemory(prices map[string]int64) *Memory {
	cp := make(map[string]int64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Memory{prices: cp}
}

// SetPrice updates a product's price. Orders created before the change keep
// their snapshotted unit prices.
func (m *Memory) SetPrice(productID string, cents int64) {
	m.mu.Lock()
	m.prices[productID] = cents
	m.mu.Unlock()
}

// ResolveUnitPrice implements the resolver against the in-memory table.
func (m *Memory) ResolveUnitPrice(ctx context.Context, productID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return price, nil
}
