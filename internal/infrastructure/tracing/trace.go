package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"go.uber.org/zap"
)

// TraceIDHeader carries the trace id on HTTP requests and responses.
const TraceIDHeader = "X-Trace-ID"

// TraceID groups the spans of one request.
type TraceID string

// SpanID identifies one span.
type SpanID string

// Span is a single timed operation within a trace.
type Span struct {
	TraceID   TraceID
	SpanID    SpanID
	ParentID  SpanID
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Tags      map[string]string
	Err       error

	tracer *Tracer
	once   sync.Once
}

// Tracer hands out spans and logs them once they end.
type Tracer struct {
	logger *zap.Logger
	spans  chan *Span
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a tracer whose collector logs completed spans to logger.
func New(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		logger: logger,
		spans:  make(chan *Span, 1000),
		done:   make(chan struct{}),
	}
	go t.collect()
	return t
}

// Start opens a span named name as a child of the span in ctx. A nil
// tracer returns a nil span, whose methods do nothing.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	if t == nil {
		return nil, ctx
	}
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.New(id.TracePrefix))
	}
	parent, _ := ctx.Value(spanIDKey).(SpanID)

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.New(id.SpanPrefix)),
		ParentID:  parent,
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
		tracer:    t,
	}
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// SetTag records a key/value on the span.
func (s *Span) SetTag(key, value string) {
	if s == nil {
		return
	}
	s.Tags[key] = value
}

// End stops the clock and hands the span to the collector. Only the
// first call counts.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.Duration = time.Since(s.StartTime)
		s.Err = err
		s.tracer.submit(s)
	})
}

func (t *Tracer) submit(s *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- s:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(s.TraceID)),
			zap.String("operation", s.Name))
	}
}

func (t *Tracer) collect() {
	defer close(t.done)
	for s := range t.spans {
		fields := []zap.Field{
			zap.String("trace_id", string(s.TraceID)),
			zap.String("span_id", string(s.SpanID)),
			zap.String("operation", s.Name),
			zap.Duration("duration", s.Duration),
		}
		if s.ParentID != "" {
			fields = append(fields, zap.String("parent_id", string(s.ParentID)))
		}
		for k, v := range s.Tags {
			fields = append(fields, zap.String(k, v))
		}
		if s.Err != nil {
			t.logger.Warn("span completed with error", append(fields, zap.Error(s.Err))...)
			continue
		}
		t.logger.Debug("span completed", fields...)
	}
}

// Close flushes pending spans and stops the collector. Spans ended after
// Close are dropped.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// WithTraceID continues the trace traceID in ctx.
func WithTraceID(ctx context.Context, traceID TraceID) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFrom returns the trace id carried by ctx, if any.
func TraceIDFrom(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}
