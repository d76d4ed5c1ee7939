package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider    *metric.MeterProvider
	meter            otelmetric.Meter
	messageCounter   otelmetric.Int64Counter
	messageDuration  otelmetric.Float64Histogram
	transitionCount  otelmetric.Int64Counter
	reminderCounter  otelmetric.Int64Counter
	matchScoreHisto  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	messageCounter, _ := meter.Int64Counter(
		"messages.processed",
		otelmetric.WithDescription("Number of inbound messages processed"),
	)

	messageDuration, _ := meter.Float64Histogram(
		"messages.duration",
		otelmetric.WithDescription("Inbound message processing duration"),
		otelmetric.WithUnit("ms"),
	)

	transitionCount, _ := meter.Int64Counter(
		"conversation.transitions",
		otelmetric.WithDescription("Conversation state transitions"),
	)

	reminderCounter, _ := meter.Int64Counter(
		"reminders.dispatched",
		otelmetric.WithDescription("Reminder jobs dispatched"),
	)

	matchScoreHisto, _ := meter.Float64Histogram(
		"matcher.score",
		otelmetric.WithDescription("Property match scores"),
	)

	return &Observability{
		meterProvider:   provider,
		meter:           meter,
		messageCounter:  messageCounter,
		messageDuration: messageDuration,
		transitionCount: transitionCount,
		reminderCounter: reminderCounter,
		matchScoreHisto: matchScoreHisto,
	}
}

func (o *Observability) RecordMessageProcessed(ctx context.Context, tenantID, status string) {
	if o.messageCounter != nil {
		o.messageCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordMessageDuration(ctx context.Context, duration time.Duration, status string) {
	if o.messageDuration != nil {
		o.messageDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordTransition(ctx context.Context, from, to string) {
	if o.transitionCount != nil {
		o.transitionCount.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}

func (o *Observability) RecordReminderDispatched(ctx context.Context, kind, status string) {
	if o.reminderCounter != nil {
		o.reminderCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordMatchScore(ctx context.Context, score float64) {
	if o.matchScoreHisto != nil {
		o.matchScoreHisto.Record(ctx, score)
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
