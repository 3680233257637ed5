package validation

// Item is a single requested line: product reference and quantity only.
// Prices are resolved server-side and never accepted from the client.
type Item struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10"`
}

// CheckoutRequest is the payload for POST /orders
type CheckoutRequest struct {
	Items           []Item `json:"items" validate:"required,min=1,dive"`
	DeliveryAddress string `json:"delivery_address" validate:"required"`
	PaymentMethod   string `json:"payment_method" validate:"required,oneof=cash card gateway"`
}

// TransitionRequest is the payload for POST /orders/:id/status
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PROCESSING SHIPPED DELIVERED CANCELLED"`
}

// VerifyRequest carries the provider reference supplied on the return leg.
type VerifyRequest struct {
	Reference string `json:"reference" validate:"required"`
}
