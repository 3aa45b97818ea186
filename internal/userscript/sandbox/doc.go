/*
Package sandbox runs userscripts against a page inside goja.

# Overview

A Page is one JavaScript realm built around a parsed HTML document. Its
global object is the page window; page code run through RunPageScript is
untrusted. Every script injected into the page gets its own Context:

  - a capability Token issued by the Sandbox and never exposed to JS
  - the GM_* functions bound to the script's identity and stored values
  - a private wrapper scope for its @require files and source, unless the
    script declared @unwrap

# Provenance

Every privileged GM_* call first checks that the page's active Token is the
Context's own Token, then walks the goja call stack. Native frames, frames
named with HostScheme and frames from the script's own source files pass;
any other frame fails the call with an *AccessViolation. The effect does not
happen and the error is thrown back into JS.

# Event loop

Asynchronous work (GM_xmlhttpRequest completions, setTimeout, menu command
invocations) is queued on the page loop and only runs inside Settle, on the
caller's goroutine, never synchronously with the call that scheduled it.
Closing the page drops queued and in-flight callbacks.

# Usage

	sb := sandbox.New(sandbox.DefaultConfig(), sandbox.Deps{Prefs: store, Requester: client})
	page, err := sb.NewPage(sandbox.PageOptions{URL: url, HTML: body, UI: session})
	if err != nil {
		return err
	}
	defer page.Close()

	for _, s := range registry.RunnableAt(url) {
		if _, err := sb.Inject(page, s); err != nil {
			logger.Warn("injection failed", zap.Error(err))
		}
	}
	err = page.Settle(ctx)
*/
package sandbox
