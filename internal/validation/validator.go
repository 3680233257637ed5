package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for CheckoutRequest to reject
	// duplicate product references (one line per product; the quantity
	// field carries multiplicity).
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})

	return v
}

func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	seen := map[string]bool{}
	for _, it := range req.Items {
		if seen[it.ProductID] {
			sl.ReportError(req.Items, "items", "Items", "unique_products", fmt.Sprintf("duplicate product %s", it.ProductID))
			return
		}
		seen[it.ProductID] = true
	}
}
