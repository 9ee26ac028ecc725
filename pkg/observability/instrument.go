package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Instrumentation bundles metrics and tracing for the request path. Either
// part may be nil.
type Instrumentation struct {
	Metrics *Metrics
	Tracer  *Tracer
}

// RequestScope measures one request from Begin to End
type RequestScope struct {
	inst   *Instrumentation
	method string
	start  time.Time
	span   trace.Span
}

// Begin starts measuring a request and returns the context carrying its span
func (i *Instrumentation) Begin(ctx context.Context, method, clientID string) (context.Context, *RequestScope) {
	var tracer *Tracer
	if i != nil {
		tracer = i.Tracer
	}
	ctx, span := tracer.StartRequest(ctx, method, clientID)
	return ctx, &RequestScope{inst: i, method: method, start: time.Now(), span: span}
}

// Invoked records the handler part of a request, for tool calls and
// resource reads.
func (s *RequestScope) Invoked(kind, name, outcome string, duration time.Duration) {
	m := s.metrics()
	switch kind {
	case "tool":
		m.RecordToolCall(name, outcome, duration)
	case "resource":
		m.RecordResourceRead(name, outcome, duration)
	}
}

// Denied counts a gate denial
func (s *RequestScope) Denied(reason string) {
	s.metrics().RecordGateDenial(reason)
}

// End finishes the request
func (s *RequestScope) End(target, stage, outcome string, err error) {
	s.metrics().RecordRequest(s.method, outcome, stage, time.Since(s.start))
	EndRequest(s.span, target, stage, outcome, err)
}

func (s *RequestScope) metrics() *Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics
}
