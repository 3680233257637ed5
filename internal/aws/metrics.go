package aws

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names emitted by the engine.
const (
	MetricOrdersCreated    = "OrdersCreated"
	MetricPaymentsVerified = "PaymentsVerified"
	MetricEventsPublished  = "EventsPublished"
	MetricEventsDropped    = "EventsDropped"
)

// Metrics records operational counters via CloudWatch PutMetricData.
// A nil *Metrics is a no-op so callers never have to branch.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics recorder publishing into namespace.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count emits a count metric. Failures are logged, never propagated: metric
// emission must not fail business operations.
func (m *Metrics) Count(ctx context.Context, name string, value float64) {
	if m == nil || m.client == nil {
		return
	}
	now := m.nowFunc()
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Timestamp:  &now,
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		log.Printf("put metric %s: %v", name, err)
	}
}
