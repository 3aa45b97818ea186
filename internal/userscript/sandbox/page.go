package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// PageOptions describes the document a Page is built around.
type PageOptions struct {
	URL     string
	HTML    string
	UI      HostUI
	Console Console
}

// Page is one JavaScript realm around a parsed document.
type Page struct {
	id      id.PageID
	sb      *Sandbox
	url     *url.URL
	ui      HostUI
	console Console
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   *loop

	// mu serializes every use of the runtime.
	mu        sync.Mutex
	vm        *goja.Runtime
	dom       *DOM
	domjs     *domBinding
	window    *goja.Object
	active    *Token
	contexts  []*Context
	byToken   map[*Token]*Context
	globalAPI bool

	logMu sync.Mutex
	logs  []LogEntry

	closeOnce sync.Once
}

// NewPage parses opts.HTML and builds the page realm.
func (s *Sandbox) NewPage(opts PageOptions) (*Page, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("page url: %w", err)
	}
	dom, err := ParseDOM(opts.HTML)
	if err != nil {
		return nil, err
	}

	ui := opts.UI
	if ui == nil {
		ui = nopUI{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		id:      id.NewPageID(),
		sb:      s,
		url:     u,
		ui:      ui,
		console: opts.Console,
		ctx:     ctx,
		cancel:  cancel,
		loop:    newLoop(),
		vm:      goja.New(),
		dom:     dom,
		byToken: make(map[*Token]*Context),
	}
	p.logger = s.logger.With(zap.String("page", p.id.String()), zap.String("url", opts.URL))
	if s.cfg.MaxCallStackSize > 0 {
		p.vm.SetMaxCallStackSize(s.cfg.MaxCallStackSize)
	}
	p.domjs = newDOMBinding(p.vm, dom)
	p.setupGlobals()
	return p, nil
}

// ID returns the page identifier.
func (p *Page) ID() id.PageID { return p.id }

// URL returns the page address.
func (p *Page) URL() string { return p.url.String() }

// setupGlobals configures the window object and removes host globals.
func (p *Page) setupGlobals() {
	vm := p.vm
	p.window = vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		vm.Set(name, goja.Undefined())
	}

	p.window.Set("window", p.window)
	p.window.Set("self", p.window)
	p.window.Set("document", p.domjs.document())

	loc := vm.NewObject()
	loc.Set("href", p.url.String())
	loc.Set("protocol", p.url.Scheme+":")
	loc.Set("host", p.url.Host)
	loc.Set("hostname", p.url.Hostname())
	loc.Set("pathname", p.url.Path)
	loc.Set("search", questionPrefixed(p.url.RawQuery))
	loc.Set("hash", hashPrefixed(p.url.Fragment))
	loc.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(p.url.String()) })
	p.window.Set("location", loc)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, p.consoleFunc(level))
	}
	p.window.Set("console", console)

	p.window.Set("setTimeout", p.setTimeout)
	p.window.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		p.loop.clearTimeout(call.Argument(0).ToInteger())
		return goja.Undefined()
	})
}

func questionPrefixed(s string) string {
	if s == "" {
		return ""
	}
	return "?" + s
}

func hashPrefixed(s string) string {
	if s == "" {
		return ""
	}
	return "#" + s
}

func (p *Page) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		source := ""
		if p.active != nil {
			source = p.active.owner
		}
		p.log(LogEntry{Level: level, Source: source, Message: strings.Join(parts, " ")})
		return goja.Undefined()
	}
}

// setTimeout never runs fn synchronously; the callback keeps the activation
// of the code that scheduled it.
func (p *Page) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(p.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	tok := p.active
	handle := p.loop.setTimeout(tok, delay, func() {
		if _, err := fn(p.window, args...); err != nil {
			p.callbackFailed(tok, err)
		}
	})
	return p.vm.ToValue(handle)
}

func (p *Page) callbackFailed(tok *Token, err error) {
	if c := p.byToken[tok]; c != nil {
		c.reportError(err, "")
		return
	}
	p.log(LogEntry{Level: "error", Message: err.Error()})
}

func (p *Page) log(e LogEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.logMu.Lock()
	p.logs = append(p.logs, e)
	p.logMu.Unlock()

	if p.console != nil {
		p.console.Log(e)
	}
	p.logger.Debug("console", zap.String("level", e.Level), zap.String("source", e.Source), zap.String("message", e.Message))
}

// execute runs fn with tok as the active token, under the evaluation
// timeout. The caller holds p.mu.
func (p *Page) execute(tok *Token, fn func() (goja.Value, error)) (goja.Value, error) {
	prev := p.active
	p.active = tok
	defer func() { p.active = prev }()

	var timer *time.Timer
	if p.sb.cfg.Timeout > 0 {
		timer = time.AfterFunc(p.sb.cfg.Timeout, func() { p.vm.Interrupt(ErrTimeout) })
	}
	v, err := fn()
	if timer != nil {
		timer.Stop()
	}
	p.vm.ClearInterrupt()
	return v, err
}

// RunPageScript evaluates untrusted page code named name.
func (p *Page) RunPageScript(name, src string) (goja.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed() {
		return nil, ErrPageClosed
	}
	if name == "" {
		name = p.URL()
	}
	return p.execute(nil, func() (goja.Value, error) {
		return p.vm.RunScript(name, src)
	})
}

// Settle runs deferred callbacks until nothing is queued or in flight, the
// page is closed, or ctx is done.
func (p *Page) Settle(ctx context.Context) error {
	return p.loop.drain(ctx, func(t task) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.Closed() {
			return
		}
		p.execute(t.token, func() (goja.Value, error) {
			t.fn()
			return nil, nil
		})
	})
}

// Close tears the page down. Queued callbacks are dropped and in-flight
// requests are cancelled.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.loop.close()
		p.logger.Debug("page closed")
	})
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool { return p.loop.isClosed() }

// HTML serializes the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dom.HTML()
}

// Title returns the document title.
func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dom.Title()
}

// Changes returns the DOM modifications made so far.
func (p *Page) Changes() []DOMChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dom.Changes()
}

// Console returns everything logged on the page.
func (p *Page) Console() []LogEntry {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	return append([]LogEntry{}, p.logs...)
}

// Contexts returns the injected contexts in injection order.
func (p *Page) Contexts() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Context{}, p.contexts...)
}

func (p *Page) attach(c *Context) {
	p.contexts = append(p.contexts, c)
	p.byToken[c.token] = c
}

func (p *Page) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return p.url.ResolveReference(u), nil
}
