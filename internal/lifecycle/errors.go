package lifecycle

import "errors"

// Error taxonomy for the order engine. Everything is surfaced synchronously
// to the immediate caller; nothing is retried here.
var (
	// ErrValidation covers caller-fixable input problems (empty items,
	// quantity out of range, empty address, unknown product).
	ErrValidation = errors.New("validation failed")

	// ErrIllegalTransition marks a status edge outside the legal DAG.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrPaymentRequired rejects advancing a gateway order whose payment
	// is still pending.
	ErrPaymentRequired = errors.New("payment required before processing")

	// ErrConflict means a concurrent transition won the conditional write;
	// the caller should re-read and retry.
	ErrConflict = errors.New("concurrent transition conflict")

	// ErrNotFound means the order does not exist.
	ErrNotFound = errors.New("order not found")
)
