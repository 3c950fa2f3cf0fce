package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes where engine spans are exported and how many are kept.
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string
	CollectorInsecure bool
	// SamplingRate is the fraction of root spans kept; children follow
	// their parent's decision.
	SamplingRate         float64
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig samples everything and exports to a local collector.
func DefaultConfig(serviceName string) Config {
	if serviceName == "" {
		serviceName = "adaptive-engine"
	}
	return Config{
		ServiceName:          serviceName,
		ServiceVersion:       "0.3.0",
		Environment:          "production",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true,
		SamplingRate:         1.0,
		MaxEventsPerSpan:     128,
		MaxAttributesPerSpan: 128,
	}
}

// Validate rejects configs the SDK would silently misread.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("otel: service name is required")
	}
	if c.CollectorEndpoint == "" {
		return errors.New("otel: collector endpoint is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("otel: sampling rate must be in [0, 1], got %v", c.SamplingRate)
	}
	return nil
}

func (c Config) sampler() sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplingRate))
}

// InitTracer exports spans over OTLP/gRPC and installs the provider and the
// W3C propagators globally. Callers must Shutdown the returned provider.
func InitTracer(ctx context.Context, config Config) (*sdktrace.TracerProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(config.sampler()),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes pending spans, giving up after ten seconds.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	// Add attributes if provided
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for the adaptive engine
const (
	// Adaptation attributes
	AttrAdaptationID = attribute.Key("adaptation.id")
	AttrStrategy     = attribute.Key("strategy.name")
	AttrOption       = attribute.Key("strategy.option")
	AttrStateKey     = attribute.Key("state.key")
	AttrSource       = attribute.Key("selection.source")
	AttrPolicy       = attribute.Key("selection.policy")

	// Learning attributes
	AttrReward          = attribute.Key("reward.value")
	AttrTerminal        = attribute.Key("reward.terminal")
	AttrExplorationRate = attribute.Key("exploration.rate")
	AttrReplayBatch     = attribute.Key("replay.batch")

	// Experiment attributes
	AttrExperimentID = attribute.Key("experiment.id")
	AttrVariant      = attribute.Key("experiment.variant")
)

// Helper functions to create common attributes

func AdaptationAttributes(id, strategy, option, stateKey, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAdaptationID.String(id),
		AttrStrategy.String(strategy),
		AttrOption.String(option),
		AttrStateKey.String(stateKey),
		AttrSource.String(source),
	}
}

func FeedbackAttributes(id string, reward float64, terminal bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAdaptationID.String(id),
		AttrReward.Float64(reward),
		AttrTerminal.Bool(terminal),
	}
}

func ExperimentAttributes(id, variant string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrExperimentID.String(id),
	}
	if variant != "" {
		attrs = append(attrs, AttrVariant.String(variant))
	}
	return attrs
}
