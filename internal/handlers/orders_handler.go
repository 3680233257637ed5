package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quickbites/order-engine/internal/aws"
	"github.com/quickbites/order-engine/internal/catalog"
	"github.com/quickbites/order-engine/internal/checkout"
	"github.com/quickbites/order-engine/internal/gateway"
	"github.com/quickbites/order-engine/internal/idempotency"
	"github.com/quickbites/order-engine/internal/lifecycle"
	"github.com/quickbites/order-engine/internal/orders"
	"github.com/quickbites/order-engine/internal/realtime"
	"github.com/quickbites/order-engine/internal/validation"
)

// HandlerConfig groups dependencies for the order engine routes.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	Metrics          *aws.Metrics
	Hub              *realtime.Hub
	Gateway          checkout.Gateway
	OrdersTable      string
	CatalogTable     string
	IdempotencyTable string
	QueueURL         string
	TTLWindow        time.Duration
	VerifyRetry      checkout.VerifyRetryPolicy
}

// RegisterRoutes wires the engine's HTTP and websocket surface onto r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	ordersStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	catalogStore := catalog.NewStore(cfg.DynamoDBClient, cfg.CatalogTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)

	var mirror lifecycle.QueueMirror
	if cfg.SQSClient != nil && cfg.QueueURL != "" {
		mirror = aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	}

	machine := lifecycle.NewMachine(ordersStore, catalogStore, cfg.Hub, mirror, cfg.Metrics)
	flow := checkout.NewFlow(machine, cfg.Gateway, ordersStore, cfg.Metrics)
	flow.RetryPolicy = cfg.VerifyRetry

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		id, ok := requireIdentity(c)
		if !ok {
			return
		}

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Duplicate submissions with the same Idempotency-Key replay the
		// stored response instead of creating a second order.
		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey != "" {
			created, err := idempStore.CreateIfNotExists(ctx, idempKey, "")
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
				return
			}
			if !created {
				replayIdempotent(c, idempStore, idempKey)
				return
			}
		}

		items := make([]lifecycle.ItemRequest, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, lifecycle.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		result, err := flow.Checkout(ctx, id.OwnerID, items, req.DeliveryAddress, req.PaymentMethod)
		if err != nil {
			if idempKey != "" {
				_ = idempStore.MarkFailed(ctx, idempKey, err.Error())
			}
			writeError(c, err)
			return
		}

		body := gin.H{"order": result.Order}
		if result.RedirectURL != "" {
			body["redirect_url"] = result.RedirectURL
			body["reference"] = result.Reference
		}
		if result.GatewayErr != nil {
			// order exists and is payable later; initiation can be retried
			body["payment_initiation_failed"] = true
		}

		if idempKey != "" {
			stored, _ := json.Marshal(body)
			_ = idempStore.MarkDone(ctx, idempKey, string(stored), http.StatusCreated)
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", result.Order.OrderID))
		c.JSON(http.StatusCreated, body)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		id, ok := requireIdentity(c)
		if !ok {
			return
		}
		order, err := ordersStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed", "detail": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		if !id.Admin && order.OwnerID != id.OwnerID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not_your_order"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.GET("/orders", func(c *gin.Context) {
		id, ok := requireIdentity(c)
		if !ok {
			return
		}
		var (
			list []orders.Order
			err  error
		)
		if id.Admin {
			list, err = ordersStore.ListAll(c.Request.Context())
		} else {
			list, err = ordersStore.ListByOwner(c.Request.Context(), id.OwnerID)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.POST("/orders/:id/status", func(c *gin.Context) {
		id, ok := requireIdentity(c)
		if !ok {
			return
		}
		if !id.Admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin_only"})
			return
		}
		var req validation.TransitionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		order, err := machine.TransitionStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	// Return leg of the hosted payment flow: the provider redirects the
	// customer here with the transaction reference.
	r.GET("/payments/callback", func(c *gin.Context) {
		reference := c.Query("reference")
		if reference == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_reference"})
			return
		}
		confirm(c, flow, reference)
	})

	// Explicit re-verification for a reference that came back pending.
	r.POST("/payments/:reference/verify", func(c *gin.Context) {
		confirm(c, flow, c.Param("reference"))
	})

	r.GET("/ws", func(c *gin.Context) {
		id, ok := requireIdentity(c)
		if !ok {
			return
		}
		realtime.ServeWS(cfg.Hub, c.Writer, c.Request, realtime.Identity{OwnerID: id.OwnerID, Admin: id.Admin})
	})
}

type identity struct {
	OwnerID string
	Admin   bool
}

// requireIdentity reads the opaque identity the auth layer attached to the
// request. Credential validation is not this engine's job.
func requireIdentity(c *gin.Context) (identity, bool) {
	id := identity{
		OwnerID: c.GetHeader("X-Owner-ID"),
		Admin:   c.GetHeader("X-Role") == "admin",
	}
	if id.OwnerID == "" && !id.Admin {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return id, false
	}
	return id, true
}

func confirm(c *gin.Context, flow *checkout.Flow, reference string) {
	order, err := flow.ConfirmPayment(c.Request.Context(), reference)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, lifecycle.ErrPaymentRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "illegal_transition", "detail": err.Error()})
	case errors.Is(err, lifecycle.ErrConflict):
		// caller should re-read the order and retry
		c.JSON(http.StatusConflict, gin.H{"error": "transition_conflict", "detail": err.Error()})
	case errors.Is(err, gateway.ErrVerificationPending):
		// not a failure: payment state stays untouched until settled
		c.JSON(http.StatusAccepted, gin.H{"status": "verification_pending"})
	case errors.Is(err, gateway.ErrUnknownReference):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_reference"})
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable", "detail": err.Error()})
	case errors.Is(err, gateway.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}

func replayIdempotent(c *gin.Context, store *idempotency.Store, key string) {
	rec, err := store.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	case idempotency.StatusFailed:
		// let client retry with a fresh key
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}
