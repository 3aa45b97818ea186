/*
Package tracing times requests and page loads as trees of spans.

A span is opened with Start, which nests it under the span already in the
context, and closed with End. Completed spans are logged asynchronously by
the tracer's collector through a buffered channel; when the buffer is full
spans are dropped rather than blocking the caller.

	span, ctx := tracer.Start(ctx, "browser.navigate")
	span.SetTag("url", target)
	defer span.End(err)

HTTPMiddleware continues a trace sent in the X-Trace-ID header, so a client
can correlate its calls with the server's page load and injection spans.
A nil *Tracer and a nil *Span are valid and do nothing.
*/
package tracing
