package gateway

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/events"
)

// instrumentedClient wraps an LLM client with metrics and a span per call.
type instrumentedClient struct {
	inner   llm.Client
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// InstrumentClient layers metrics and tracing onto a client. Either hook may
// be nil.
func InstrumentClient(inner llm.Client, m *observability.Metrics, tracer trace.Tracer) llm.Client {
	if m == nil && tracer == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, metrics: m, tracer: tracer}
}

func (c *instrumentedClient) Name() string { return c.inner.Name() }

func (c *instrumentedClient) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
			attribute.String("llm.provider", c.inner.Name()),
			attribute.String("llm.model", req.Model),
		))
		defer span.End()
		resp, err := c.generate(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
				attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
			)
		}
		return resp, err
	}
	return c.generate(ctx, req)
}

func (c *instrumentedClient) generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	start := time.Now()
	resp, err := c.inner.Generate(ctx, req)
	if c.metrics != nil {
		outcome := "ok"
		prompt, completion := 0, 0
		if err != nil {
			outcome = "error"
		} else {
			prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		c.metrics.ObserveLLMRequest(c.inner.Name(), req.Model, outcome,
			prompt, completion, time.Since(start))
	}
	return resp, err
}

// metricsSink derives tool execution metrics from the event stream by
// pairing each runnable action with the observation that cites it.
type metricsSink struct {
	metrics *observability.Metrics

	mu      sync.Mutex
	pending map[int64]toolStart
}

type toolStart struct {
	name string
	at   time.Time
}

func newMetricsSink(m *observability.Metrics) *metricsSink {
	return &metricsSink{metrics: m, pending: map[int64]toolStart{}}
}

func (s *metricsSink) Emit(_ context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.RunnableAction:
		name, _ := ev.Call()
		s.mu.Lock()
		s.pending[ev.Header().ID] = toolStart{name: name, at: time.Now()}
		s.mu.Unlock()

	case events.Observation:
		cause := ev.Cause()
		if cause == 0 {
			return
		}
		s.mu.Lock()
		start, ok := s.pending[cause]
		delete(s.pending, cause)
		s.mu.Unlock()
		if !ok {
			return
		}
		outcome := "ok"
		if tr, isResult := e.(*events.ToolResultObservation); isResult && !tr.Success {
			outcome = tr.ErrorKind
		}
		if _, interrupted := e.(*events.InterruptObservation); interrupted {
			outcome = "interrupted"
		}
		s.metrics.ObserveTool(start.name, outcome, time.Since(start.at))
	}
}
