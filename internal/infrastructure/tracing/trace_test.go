package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedTracer() (*Tracer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func TestSpanNesting(t *testing.T) {
	tracer, logs := newObservedTracer()

	parent, ctx := tracer.Start(context.Background(), "parent")
	child, _ := tracer.Start(ctx, "child")
	child.SetTag("script", "test/Hello")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Empty(t, parent.ParentID)

	child.End(errors.New("boom"))
	child.End(nil)
	parent.End(nil)
	tracer.Close()

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "span completed with error", entries[0].Message)
	assert.Equal(t, "test/Hello", entries[0].ContextMap()["script"])
	assert.Equal(t, "span completed", entries[1].Message)
}

func TestContinueTrace(t *testing.T) {
	tracer, _ := newObservedTracer()
	defer tracer.Close()

	ctx := WithTraceID(context.Background(), "req_upstream")
	span, ctx := tracer.Start(ctx, "op")
	assert.Equal(t, TraceID("req_upstream"), span.TraceID)
	assert.Equal(t, TraceID("req_upstream"), TraceIDFrom(ctx))
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	span, ctx := tracer.Start(context.Background(), "op")
	assert.Nil(t, span)
	assert.Equal(t, context.Background(), ctx)
	span.SetTag("k", "v")
	span.End(nil)
	tracer.Close()
}

func TestEndAfterClose(t *testing.T) {
	tracer, logs := newObservedTracer()
	span, _ := tracer.Start(context.Background(), "late")
	tracer.Close()
	tracer.Close()
	span.End(nil)
	assert.Zero(t, logs.Len())
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newObservedTracer()

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	var seen TraceID
	r.GET("/scripts", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/scripts", nil)
	req.Header.Set(TraceIDHeader, "req_client")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req_client", w.Header().Get(TraceIDHeader))
	assert.Equal(t, TraceID("req_client"), seen)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scripts", nil))
	assert.NotEmpty(t, w.Header().Get(TraceIDHeader))
	assert.NotEqual(t, "req_client", w.Header().Get(TraceIDHeader))

	tracer.Close()
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "GET /scripts", logs.All()[0].ContextMap()["operation"])
	assert.Equal(t, "204", logs.All()[0].ContextMap()["http.status"])
}
