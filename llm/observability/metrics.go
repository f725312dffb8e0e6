// Package observability wires OpenTelemetry metrics and tracing around the
// connector layer. Hosts install their own meter and tracer providers; this
// package only records against the globals.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aibridge/aibridge/llm"

// Metrics records request counters, token histograms and traces for
// connector calls.
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	requestTotal   metric.Int64Counter
	tokenTotal     metric.Int64Counter
	errorTotal     metric.Int64Counter
	cacheHitTotal  metric.Int64Counter
	cacheMissTotal metric.Int64Counter

	requestDuration metric.Float64Histogram
	tokenCount      metric.Int64Histogram

	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set against the global otel providers.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	m.requestTotal, err = m.meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	m.tokenTotal, err = m.meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.errorTotal, err = m.meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.cacheHitTotal, err = m.meter.Int64Counter("llm.cache.hit.total",
		metric.WithDescription("Total cache hits"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}

	m.cacheMissTotal, err = m.meter.Int64Counter("llm.cache.miss.total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"))
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = m.meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	m.tokenCount, err = m.meter.Int64Histogram("llm.token.count",
		metric.WithDescription("Token count per request"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2000, 4000, 8000, 16000, 32000))
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of active requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RequestAttrs identifies a request for metrics and tracing.
type RequestAttrs struct {
	Provider string
	Model    string
}

// ResponseAttrs carries the outcome of a request.
type ResponseAttrs struct {
	Status           string
	ErrorCode        string
	TokensPrompt     int
	TokensCompletion int
	Duration         time.Duration
	Cached           bool
}

// StartRequest opens a span and bumps the active request gauge.
func (m *Metrics) StartRequest(ctx context.Context, attrs RequestAttrs) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.provider", attrs.Provider),
			attribute.String("llm.model", attrs.Model),
		))
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", attrs.Provider),
		attribute.String("model", attrs.Model)))
	return ctx, span
}

// EndRequest closes the span and records counters, latency and token usage.
func (m *Metrics) EndRequest(ctx context.Context, span trace.Span, req RequestAttrs, resp ResponseAttrs) {
	defer span.End()

	common := []attribute.KeyValue{
		attribute.String("provider", req.Provider),
		attribute.String("model", req.Model),
		attribute.String("status", resp.Status),
	}

	m.activeRequests.Add(ctx, -1, metric.WithAttributes(
		attribute.String("provider", req.Provider),
		attribute.String("model", req.Model)))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(common...))
	m.requestDuration.Record(ctx, resp.Duration.Seconds(), metric.WithAttributes(common...))

	total := int64(resp.TokensPrompt + resp.TokensCompletion)
	if total > 0 {
		for _, kind := range []struct {
			name  string
			count int64
		}{
			{"total", total},
			{"prompt", int64(resp.TokensPrompt)},
			{"completion", int64(resp.TokensCompletion)},
		} {
			m.tokenTotal.Add(ctx, kind.count, metric.WithAttributes(
				attribute.String("provider", req.Provider),
				attribute.String("model", req.Model),
				attribute.String("type", kind.name)))
		}
		m.tokenCount.Record(ctx, total, metric.WithAttributes(common...))
	}

	if resp.ErrorCode != "" {
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", req.Provider),
			attribute.String("model", req.Model),
			attribute.String("error_code", resp.ErrorCode)))
		span.SetAttributes(attribute.String("error.code", resp.ErrorCode))
	}

	if resp.Cached {
		m.cacheHitTotal.Add(ctx, 1, metric.WithAttributes(common...))
		span.SetAttributes(attribute.Bool("llm.cache_hit", true))
	}

	span.SetAttributes(
		attribute.String("llm.status", resp.Status),
		attribute.Int("llm.tokens.prompt", resp.TokensPrompt),
		attribute.Int("llm.tokens.completion", resp.TokensCompletion),
		attribute.Float64("llm.duration_ms", float64(resp.Duration.Milliseconds())))
}

// RecordCacheMiss counts a cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context, provider, model string) {
	m.cacheMissTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model)))
}

// RecordToolCall traces a single tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, toolName string, duration time.Duration, success bool) {
	_, span := m.tracer.Start(ctx, "llm.tool_call",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.Bool("tool.success", success),
			attribute.Float64("tool.duration_ms", float64(duration.Milliseconds()))))
	span.End()
}

// Tracer exposes the tracer for custom spans.
func (m *Metrics) Tracer() trace.Tracer { return m.tracer }
