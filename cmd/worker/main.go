package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	intaws "github.com/quickbites/order-engine/internal/aws"
)

func main() {
	clients, err := intaws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	processor := NewProcessor(clients, os.Getenv("ORDERS_TABLE"), 45*time.Minute)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"event":"payment.paid","order_id":"local-order-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{
					Body: testBody,
				},
			},
		}
		if err := processor.Handle(context.Background(), event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(processor.Handle)
}
