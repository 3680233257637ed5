package orders

import "time"

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusShipped    = "SHIPPED"
	StatusDelivered  = "DELIVERED"
	StatusCancelled  = "CANCELLED"
)

// Payment statuses
const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
	PaymentFailed  = "FAILED"
)

// Payment methods
const (
	MethodCash    = "cash"
	MethodCard    = "card"
	MethodGateway = "gateway"
)

// LineItem is a single product position on an order. UnitPriceCents is
// snapshotted at creation time and never recomputed from the catalog.
type LineItem struct {
	ProductID      string `dynamodbav:"product_id" json:"product_id"`
	UnitPriceCents int64  `dynamodbav:"unit_price_cents" json:"unit_price_cents"`
	Quantity       int    `dynamodbav:"quantity" json:"quantity"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID           string     `dynamodbav:"order_id" json:"order_id"` // PK
	OwnerID           string     `dynamodbav:"owner_id" json:"owner_id"`
	LineItems         []LineItem `dynamodbav:"line_items" json:"line_items"`
	TotalCents        int64      `dynamodbav:"total_cents" json:"total_cents"`
	DeliveryAddress   string     `dynamodbav:"delivery_address" json:"delivery_address"`
	PaymentMethod     string     `dynamodbav:"payment_method" json:"payment_method"` // cash | card | gateway
	Status            string     `dynamodbav:"status" json:"status"`
	PaymentStatus     string     `dynamodbav:"payment_status" json:"payment_status"`
	PaymentReference  string     `dynamodbav:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	EstimatedDelivery *time.Time `dynamodbav:"estimated_delivery,omitempty" json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time `dynamodbav:"actual_delivery,omitempty" json:"actual_delivery,omitempty"`
	CreatedAt         time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// Terminal reports whether the order admits no further status transitions.
func (o *Order) Terminal() bool {
	return o.Status == StatusDelivered || o.Status == StatusCancelled
}
