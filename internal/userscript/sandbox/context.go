package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// reportParam is the wrapper parameter that receives caught errors.
const reportParam = "__scriptmonkeyReport"

// Context is one script's injection into one page.
type Context struct {
	id      id.InjectionID
	page    *Page
	script  *script.Script
	bind    *binding
	token   *Token
	ui      HostUI
	console Console
	logger  *zap.Logger

	api     map[string]goja.Value
	errs    []*ScriptError
	menu    []*MenuCommand
	program string
	spans   []span
}

// span locates one source file inside the wrapped program.
type span struct {
	file  string
	start int
	lines int
}

func newContext(p *Page, sc *script.Script, b *binding, ui HostUI, console Console) *Context {
	c := &Context{
		id:      id.NewInjectionID(),
		page:    p,
		script:  sc,
		bind:    b,
		token:   newToken(b.id),
		ui:      ui,
		console: console,
		logger:  p.logger.With(zap.String("script", b.id)),
	}
	c.api = c.buildAPI()
	return c
}

// ID returns the injection identifier.
func (c *Context) ID() id.InjectionID { return c.id }

// Script returns the injected script.
func (c *Context) Script() *script.Script { return c.script }

// Page returns the page the context lives on.
func (c *Context) Page() *Page { return c.page }

// Errors returns the script errors caught so far.
func (c *Context) Errors() []*ScriptError {
	c.page.mu.Lock()
	defer c.page.mu.Unlock()
	return append([]*ScriptError{}, c.errs...)
}

// MenuCommands returns the commands the script registered.
func (c *Context) MenuCommands() []*MenuCommand {
	c.page.mu.Lock()
	defer c.page.mu.Unlock()
	return append([]*MenuCommand{}, c.menu...)
}

// Evaluate runs the requires in declaration order, then the script source.
// A failing file does not stop the files after it.
func (c *Context) Evaluate() error {
	sources, err := c.script.ReadSources()
	if err != nil {
		return fmt.Errorf("read sources of %s: %w", c.bind.id, err)
	}

	c.page.mu.Lock()
	defer c.page.mu.Unlock()
	if c.page.Closed() {
		return ErrPageClosed
	}

	if c.script.Metadata().Unwrap {
		c.evaluateUnwrapped(sources)
	} else {
		c.evaluateWrapped(sources)
	}
	c.logger.Debug("script injected", zap.Int("errors", len(c.errs)))
	return nil
}

// evaluateWrapped joins the sources into one function so their top-level
// bindings stay private to this injection. Each source sits in its own
// try block; a source that does not compile is left out.
func (c *Context) evaluateWrapped(sources []script.Source) {
	c.program = c.script.FileURL()
	c.spans = c.spans[:0]

	var b strings.Builder
	b.WriteString("(function(" + strings.Join(apiNames, ", ") + ", " + reportParam + ") {\n")
	line := 2
	for i, src := range sources {
		if _, err := goja.Compile(src.URL, "(function(){"+src.Text+"\n})", false); err != nil {
			c.record(src.URL, syntaxLine(err), err.Error())
			continue
		}
		text := src.Text
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		n := strings.Count(text, "\n")

		b.WriteString("try {\n")
		line++
		c.spans = append(c.spans, span{file: src.URL, start: line, lines: n})
		b.WriteString(text)
		line += n
		fmt.Fprintf(&b, "} catch (e) { %s(e, %d); }\n", reportParam, i)
		line++
	}
	b.WriteString("})")

	args := make([]goja.Value, 0, len(apiNames)+1)
	for _, name := range apiNames {
		args = append(args, c.api[name])
	}
	args = append(args, c.page.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fallback := ""
		if i := int(call.Argument(1).ToInteger()); i >= 0 && i < len(sources) {
			fallback = sources[i].URL
		}
		c.reportValue(call.Argument(0), fallback)
		return goja.Undefined()
	}))

	_, err := c.page.execute(c.token, func() (goja.Value, error) {
		prg, err := goja.Compile(c.program, b.String(), false)
		if err != nil {
			return nil, err
		}
		v, err := c.page.vm.RunProgram(prg)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, errors.New("wrapper did not evaluate to a function")
		}
		return fn(c.page.window, args...)
	})
	if err != nil {
		c.reportError(err, c.script.FileURL())
	}
}

// evaluateUnwrapped runs each source as a separate global program, so its
// declarations land in the page scope. The GM_* globals dispatch on the
// active token.
func (c *Context) evaluateUnwrapped(sources []script.Source) {
	c.page.installGlobalAPI()
	for _, src := range sources {
		src := src
		_, err := c.page.execute(c.token, func() (goja.Value, error) {
			return c.page.vm.RunScript(src.URL, src.Text)
		})
		if err != nil {
			c.reportError(err, src.URL)
		}
	}
}

// call invokes a script callback and records what it throws.
func (c *Context) call(fn goja.Callable, args ...goja.Value) {
	if _, err := fn(c.page.window, args...); err != nil {
		c.reportError(err, "")
	}
}

var (
	syntaxLineRe = regexp.MustCompile(`Line (\d+):(\d+)`)
	positionRe   = regexp.MustCompile(`:(\d+):(\d+)`)
)

func syntaxLine(err error) int {
	msg := err.Error()
	if m := syntaxLineRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := positionRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// reportError attributes a Go-side evaluation error.
func (c *Context) reportError(err error, fallback string) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		c.attribute(ex.String(), messageOf(ex.Value()), fallback)
		return
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		c.record(c.fileOr(fallback), 0, ErrTimeout.Error())
		return
	}
	c.record(c.fileOr(fallback), syntaxLine(err), err.Error())
}

// reportValue attributes a value caught by the wrapper's try block.
func (c *Context) reportValue(v goja.Value, fallback string) {
	stack := ""
	if obj, ok := v.(*goja.Object); ok {
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
	}
	c.attribute(stack, messageOf(v), fallback)
}

func messageOf(v goja.Value) string {
	if v == nil {
		return "unknown error"
	}
	return v.String()
}

// attribute finds the first position in stack that belongs to this
// script's files and maps it back onto the source file.
func (c *Context) attribute(stack, message, fallback string) {
	for _, frame := range strings.Split(stack, "\n") {
		if c.program != "" {
			if n, ok := locate(frame, c.program); ok {
				if file, local := c.spanOf(n); file != "" {
					c.record(file, local, message)
					return
				}
			}
			continue
		}
		for file := range c.bind.allowed {
			if n, ok := locate(frame, file); ok {
				c.record(file, n, message)
				return
			}
		}
	}
	c.record(c.fileOr(fallback), 0, message)
}

// locate extracts the line number following file in a stack frame.
func locate(frame, file string) (int, bool) {
	i := strings.Index(frame, file+":")
	if i < 0 {
		return 0, false
	}
	m := positionRe.FindStringSubmatch(frame[i+len(file):])
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return n, true
}

func (c *Context) spanOf(line int) (string, int) {
	for _, s := range c.spans {
		if line >= s.start && line < s.start+s.lines {
			return s.file, line - s.start + 1
		}
	}
	return "", 0
}

func (c *Context) fileOr(fallback string) string {
	if fallback != "" {
		return fallback
	}
	return c.script.FileURL()
}

func (c *Context) record(file string, line int, message string) {
	e := &ScriptError{Script: c.bind.id, File: file, Line: line, Message: message}
	c.errs = append(c.errs, e)
	c.logger.Warn("script error",
		zap.String("file", file), zap.Int("line", line), zap.String("error", message))
	c.log("error", e.Error())
}

// log writes to the page console and to the context's own console, if any.
func (c *Context) log(level, message string) {
	e := LogEntry{Level: level, Source: c.bind.id, Message: message, Time: time.Now()}
	c.page.log(e)
	if c.console != nil {
		c.console.Log(e)
	}
}
