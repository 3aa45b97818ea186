package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a span per request, continuing the caller's trace
// when it sends one, and echoes the trace id on the response.
func HTTPMiddleware(t *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTraceID(c.Request.Context(), TraceID(c.GetHeader(TraceIDHeader)))
		span, ctx := t.Start(ctx, c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		if span != nil {
			c.Header(TraceIDHeader, string(span.TraceID))
		}

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		span.End(err)
	}
}
