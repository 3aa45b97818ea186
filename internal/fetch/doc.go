// Package fetch is the privileged network client of the script host.
//
// It downloads scripts and their dependencies, fetches pages for the
// browser, and carries GM_xmlhttpRequest traffic on behalf of injected
// scripts. Built on go-resty/resty with a retryablehttp pooled transport,
// a token-bucket rate limiter and a circuit breaker:
//
//	client := fetch.New(fetch.DefaultConfig(), logger)
//	resp, err := client.Get(ctx, "https://example.com/script.user.js")
//	var se *fetch.StatusError
//	if errors.As(err, &se) { ... se.StatusCode ... }
package fetch
