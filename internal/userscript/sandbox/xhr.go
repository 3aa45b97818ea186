package sandbox

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var xhrSchemes = map[string]bool{"http": true, "https": true, "ftp": true}

type xhrHandlers struct {
	onload             goja.Callable
	onerror            goja.Callable
	onreadystatechange goja.Callable
}

type xhrOptions struct {
	overrideMimeType string
	binary           bool
}

// gmXMLHTTPRequest dispatches the request on a goroutine. Completion
// callbacks are queued on the page loop and never run before this returns.
func (c *Context) gmXMLHTTPRequest(call goja.FunctionCall) goja.Value {
	vm := c.page.vm
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(vm.NewTypeError("GM_xmlhttpRequest: details object required"))
	}
	details := arg.ToObject(vm)

	req, opts, err := c.buildRequest(details)
	if err != nil {
		c.throw(err)
	}
	handlers := xhrHandlers{
		onload:             callableField(details, "onload"),
		onerror:            callableField(details, "onerror"),
		onreadystatechange: callableField(details, "onreadystatechange"),
	}

	requester := c.page.sb.requester
	if requester == nil {
		c.throw(fmt.Errorf("GM_xmlhttpRequest: no network access configured"))
	}
	done, ok := c.page.loop.async(c.token)
	if !ok {
		c.throw(ErrPageClosed)
	}

	ctx := c.page.ctx
	metrics := c.page.sb.metrics
	go func() {
		start := time.Now()
		resp, err := requester.Do(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordFetch("xhr", outcome, time.Since(start))
		done(func() { c.deliver(handlers, opts, req, resp, err) })
	}()
	return goja.Undefined()
}

func (c *Context) buildRequest(details *goja.Object) (*fetch.Request, xhrOptions, error) {
	raw := stringField(details, "url")
	u, err := c.page.resolve(raw)
	if err != nil || !xhrSchemes[strings.ToLower(u.Scheme)] {
		return nil, xhrOptions{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	method := strings.ToUpper(stringField(details, "method"))
	if method == "" {
		method = http.MethodGet
	}
	req := &fetch.Request{
		Method:  method,
		URL:     u.String(),
		Body:    stringField(details, "data"),
		NoCache: boolField(details, "nocache"),
	}
	if h := details.Get("headers"); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
		obj := h.ToObject(c.page.vm)
		req.Header = make(map[string]string)
		for _, k := range obj.Keys() {
			req.Header[k] = obj.Get(k).String()
		}
	}
	return req, xhrOptions{
		overrideMimeType: stringField(details, "overrideMimeType"),
		binary:           boolField(details, "binary"),
	}, nil
}

// deliver runs on the page loop with this context's token active.
func (c *Context) deliver(h xhrHandlers, opts xhrOptions, req *fetch.Request, resp *fetch.Response, err error) {
	vm := c.page.vm
	state := vm.NewObject()
	state.Set("readyState", 4)
	state.Set("finalUrl", req.URL)

	if err != nil {
		c.logger.Debug("xmlhttpRequest failed", zap.String("url", req.URL), zap.Error(err))
		state.Set("status", 0)
		state.Set("statusText", err.Error())
		state.Set("responseHeaders", "")
		state.Set("responseText", "")
		c.fire(h.onreadystatechange, state)
		c.fire(h.onerror, state)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if opts.overrideMimeType != "" {
		contentType = opts.overrideMimeType
	}
	text := ""
	if opts.binary {
		text = binaryString(resp.Body)
	} else {
		text = DecodeText(resp.Body, "", contentType)
	}

	state.Set("status", resp.StatusCode)
	state.Set("statusText", resp.Status)
	state.Set("responseHeaders", formatHeaders(resp.Header))
	state.Set("responseText", text)
	if resp.FinalURL != "" {
		state.Set("finalUrl", resp.FinalURL)
	}
	c.fire(h.onreadystatechange, state)
	c.fire(h.onload, state)
}

func (c *Context) fire(fn goja.Callable, state *goja.Object) {
	if fn != nil {
		c.call(fn, state)
	}
}

func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	return b.String()
}

func callableField(obj *goja.Object, name string) goja.Callable {
	fn, _ := goja.AssertFunction(obj.Get(name))
	return fn
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func boolField(obj *goja.Object, name string) bool {
	v := obj.Get(name)
	return v != nil && v.ToBoolean()
}
