// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps an OpenTelemetry TracerProvider with the span helpers every
// Agent Runner invocation and Platform Bridge RPC needs. A nil *Tracer is a
// valid no-op value — every method guards against it, matching Metrics'
// nil-receiver convention.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*Tracer)

// WithDebugExporter registers a DebugExporter alongside the configured span
// exporter, so recent spans stay inspectable in memory regardless of where
// the batch exporter ships them.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// WithCapturePayloads enables recording full LLM/tool request and response
// bodies as span attributes. Off by default since payloads can be large and
// may carry sensitive data.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayload = capture
	}
}

// NewTracer builds a Tracer from cfg, returning (nil, nil) when tracing is
// disabled so callers can treat "not configured" and "explicitly off" the
// same way.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build span exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}

	return t, nil
}

func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp", "jaeger", "zipkin":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.IsInsecure() {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a span named spanName. A nil Tracer returns a no-op span.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartAgentRun begins the top-level span for one agent invocation.
func (t *Tracer) StartAgentRun(ctx context.Context, agentName, agentType, sessionID, userID, invocationID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanAgentRun,
		trace.WithAttributes(
			attribute.String(AttrAgentName, agentName),
			attribute.String(AttrAgentType, agentType),
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrUserID, userID),
			attribute.String(AttrInvocationID, invocationID),
		),
	)
}

// StartLLMCall begins a span for one call into the LLM Gateway.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, maxTokens int, temperature, topP float64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(AttrLLMModel, model)}
	if maxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMMaxTokens, maxTokens))
	}
	if temperature > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMTemperature, temperature))
	}
	if topP > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMTopP, topP))
	}
	return t.Start(ctx, SpanLLMCall, trace.WithAttributes(attrs...))
}

// StartToolExecution begins a span for one provided-tool invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, toolDescription, callID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolExecution,
		trace.WithAttributes(
			attribute.String(AttrToolName, toolName),
			attribute.String(AttrToolDescription, toolDescription),
			attribute.String(AttrToolCallID, callID),
		),
	)
}

// StartMemorySearch begins a span for a chat-history or document-store
// lookup.
func (t *Tracer) StartMemorySearch(ctx context.Context, query string, limit int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanMemorySearch,
		trace.WithAttributes(
			attribute.String("query", query),
			attribute.Int("limit", limit),
		),
	)
}

// AddLLMUsage records token usage on an in-flight LLM call span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
	)
}

// AddLLMFinishReason records why the provider stopped generating.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrLLMFinishReason, reason))
}

// AddPayload attaches the serialized LLM request/response bodies to span,
// a no-op unless the Tracer was built WithCapturePayloads(true).
func (t *Tracer) AddPayload(span trace.Span, request, response string) {
	if t == nil || span == nil || !t.capturePayload {
		return
	}
	if request != "" {
		span.SetAttributes(attribute.String(AttrLLMRequestPayload, request))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrLLMResponsePayload, response))
	}
}

// AddToolPayload attaches the serialized tool args/response to span, a
// no-op unless the Tracer was built WithCapturePayloads(true).
func (t *Tracer) AddToolPayload(span trace.Span, args, response string) {
	if t == nil || span == nil || !t.capturePayload {
		return
	}
	if args != "" {
		span.SetAttributes(attribute.String(AttrToolArgsPayload, args))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrToolResponsePayload, response))
	}
}

// RecordError marks span as failed and attaches the error's type and
// message.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the Tracer's in-memory span exporter, or nil if
// none was configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a span that discards everything recorded on it, used
// whenever a nil or disabled Tracer still needs to hand back a valid
// context.Context/trace.Span pair.
func noopSpan() trace.Span {
	_, span := trace.NewNoopTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
