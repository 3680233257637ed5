package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quickbites/order-engine/internal/aws"
	"github.com/quickbites/order-engine/internal/checkout"
	"github.com/quickbites/order-engine/internal/gateway"
	"github.com/quickbites/order-engine/internal/handlers"
	"github.com/quickbites/order-engine/internal/realtime"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	clients, err := aws.NewAWSClients(context.Background())

	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	gw := gateway.NewClient(
		os.Getenv("GATEWAY_BASE_URL"),
		os.Getenv("GATEWAY_SECRET_KEY"),
		os.Getenv("GATEWAY_CALLBACK_URL"),
	)

	cfg := handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		Metrics:          aws.NewMetrics(clients.CloudWatch, "OrderEngine"),
		Hub:              realtime.NewHub(),
		Gateway:          gw,
		OrdersTable:      os.Getenv("ORDERS_TABLE"),
		CatalogTable:     os.Getenv("CATALOG_TABLE"),
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		QueueURL:         os.Getenv("EVENTS_QUEUE_URL"),
		TTLWindow:        48 * time.Hour,
		VerifyRetry: checkout.VerifyRetryPolicy{
			Attempts: envInt("VERIFY_ATTEMPTS", 1),
			Backoff:  time.Duration(envInt("VERIFY_BACKOFF_MS", 0)) * time.Millisecond,
		},
	}

	r := setupRouter(cfg)

	go reportDrops(context.Background(), cfg.Hub, cfg.Metrics, time.Minute)

	// The api binary hosts persistent websocket connections, so it always
	// runs as a long-lived server.
	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	log.Printf("running server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}

// reportDrops periodically flushes the hub's dropped-event counter as a
// CloudWatch delta.
func reportDrops(ctx context.Context, hub *realtime.Hub, metrics *aws.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last uint64
	for range ticker.C {
		total := hub.Dropped()
		if delta := total - last; delta > 0 {
			metrics.Count(ctx, aws.MetricEventsDropped, float64(delta))
		}
		last = total
	}
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using %d", name, os.Getenv(name), fallback)
	}
	return fallback
}
