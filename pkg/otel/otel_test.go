package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("adaptive-engine")

	assert.Equal(t, "adaptive-engine", config.ServiceName)
	assert.Equal(t, "adaptive-engine", DefaultConfig("").ServiceName)
	assert.NotEmpty(t, config.ServiceVersion)
	assert.NotEmpty(t, config.CollectorEndpoint)
	assert.InDelta(t, 1.0, config.SamplingRate, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
		{"no endpoint", func(c *Config) { c.CollectorEndpoint = "" }, true},
		{"rate above one", func(c *Config) { c.SamplingRate = 1.5 }, true},
		{"rate below zero", func(c *Config) { c.SamplingRate = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig("adaptive-engine")
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestInitTracer_RejectsInvalidConfig(t *testing.T) {
	c := DefaultConfig("adaptive-engine")
	c.SamplingRate = 2
	tp, err := InitTracer(context.Background(), c)
	assert.Error(t, err)
	assert.Nil(t, tp)
}

func TestShutdown_NilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "engine", "engine.Generate",
		AdaptationAttributes("adp-123", "code-style", "functional", "8-10-5-4-0", "explore")...)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "engine.Generate", ended[0].Name())

	attrs := attrMap(ended[0].Attributes())
	assert.Equal(t, "adp-123", attrs[AttrAdaptationID].AsString())
	assert.Equal(t, "code-style", attrs[AttrStrategy].AsString())
	assert.Equal(t, "functional", attrs[AttrOption].AsString())
	assert.Equal(t, "8-10-5-4-0", attrs[AttrStateKey].AsString())
	assert.Equal(t, "explore", attrs[AttrSource].AsString())
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "engine", "engine.Apply")
	RecordError(span, nil, "ignored")
	RecordError(span, errors.New("executor failed"), "adp-1")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "executor failed", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "adp-1", attrMap(ended[0].Events()[0].Attributes)["error.message"].AsString())
}

func TestAddEvent(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "engine", "engine.ConcludeExperiment")
	AddEvent(span, "winner", AttrVariant.String("B"))
	AddEvent(nil, "ignored")
	span.End()

	events := sr.Ended()[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "winner", events[0].Name)
	assert.Equal(t, "B", attrMap(events[0].Attributes)[AttrVariant].AsString())
}

func TestFeedbackAttributes(t *testing.T) {
	attrs := attrMap(FeedbackAttributes("adp-123", -0.6, true))

	assert.Equal(t, "adp-123", attrs[AttrAdaptationID].AsString())
	assert.InDelta(t, -0.6, attrs[AttrReward].AsFloat64(), 1e-12)
	assert.True(t, attrs[AttrTerminal].AsBool())
}

func TestExperimentAttributes(t *testing.T) {
	assert.Len(t, ExperimentAttributes("exp-1", "B"), 2)
	assert.Len(t, ExperimentAttributes("exp-1", ""), 1)
}
