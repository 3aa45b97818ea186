package sandbox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// apiNames lists, in wrapper parameter order, what each context exposes.
var apiNames = []string{
	"GM_log",
	"GM_getValue",
	"GM_setValue",
	"GM_deleteValue",
	"GM_listValues",
	"GM_openInTab",
	"GM_xmlhttpRequest",
	"GM_registerMenuCommand",
	"GM_getResourceText",
	"GM_getResourceURL",
	"GM_addStyle",
	"unsafeWindow",
}

type nativeFunc = func(goja.FunctionCall) goja.Value

func (c *Context) buildAPI() map[string]goja.Value {
	vm := c.page.vm
	return map[string]goja.Value{
		"GM_log":                 c.guard("GM_log", c.gmLog),
		"GM_getValue":            c.guard("GM_getValue", c.gmGetValue),
		"GM_setValue":            c.guard("GM_setValue", c.gmSetValue),
		"GM_deleteValue":         c.guard("GM_deleteValue", c.gmDeleteValue),
		"GM_listValues":          c.guard("GM_listValues", c.gmListValues),
		"GM_openInTab":           c.guard("GM_openInTab", c.gmOpenInTab),
		"GM_xmlhttpRequest":      c.guard("GM_xmlhttpRequest", c.gmXMLHTTPRequest),
		"GM_registerMenuCommand": c.guard("GM_registerMenuCommand", c.gmRegisterMenuCommand),
		"GM_getResourceText":     c.guard("GM_getResourceText", c.gmGetResourceText),
		"GM_getResourceURL":      c.guard("GM_getResourceURL", c.gmGetResourceURL),
		"GM_addStyle":            vm.ToValue(c.gmAddStyle),
		"unsafeWindow":           c.page.window,
	}
}

// guard wraps a privileged function with the provenance check.
func (c *Context) guard(api string, impl nativeFunc) goja.Value {
	return c.page.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return c.invokePrivileged(api, impl, call)
	})
}

func (c *Context) invokePrivileged(api string, impl nativeFunc, call goja.FunctionCall) goja.Value {
	p := c.page
	if err := verify(p.vm, api, p.active, c.token, c.bind.allowed); err != nil {
		p.denied(err)
		panic(p.vm.NewGoError(err))
	}
	p.sb.metrics.RecordAPICall(api, "ok")
	return impl(call)
}

// denied logs an access violation to the host console and metrics.
func (p *Page) denied(err error) {
	var av *AccessViolation
	if !errors.As(err, &av) {
		return
	}
	p.sb.metrics.RecordAccessViolation(av.API)
	p.sb.metrics.RecordAPICall(av.API, "denied")
	p.logger.Warn("access violation", zap.String("api", av.API), zap.String("caller", av.Caller))
	p.log(LogEntry{Level: "error", Message: av.Error()})
}

// installGlobalAPI exposes GM_* on the page for unwrapped scripts. Each
// global forwards to the context owning the active token; page code has no
// token and is refused.
func (p *Page) installGlobalAPI() {
	if p.globalAPI {
		return
	}
	p.globalAPI = true
	for _, name := range apiNames {
		name := name
		switch name {
		case "unsafeWindow":
			p.window.Set(name, p.window)
			continue
		case "GM_addStyle":
			p.window.Set(name, func(call goja.FunctionCall) goja.Value {
				p.dom.AddStyle(call.Argument(0).String())
				return goja.Undefined()
			})
			continue
		}
		p.window.Set(name, func(call goja.FunctionCall) goja.Value {
			c := p.byToken[p.active]
			if c == nil {
				err := &AccessViolation{API: name, Caller: "page"}
				p.denied(err)
				panic(p.vm.NewGoError(err))
			}
			fn, _ := goja.AssertFunction(c.api[name])
			v, err := fn(goja.Undefined(), call.Arguments...)
			var ex *goja.Exception
			if errors.As(err, &ex) {
				panic(ex.Value())
			}
			if err != nil {
				panic(err)
			}
			return v
		})
	}
}

func (c *Context) throw(err error) {
	panic(c.page.vm.NewGoError(err))
}

func (c *Context) gmLog(call goja.FunctionCall) goja.Value {
	c.log("log", call.Argument(0).String())
	return goja.Undefined()
}

func (c *Context) gmGetValue(call goja.FunctionCall) goja.Value {
	v := c.bind.branch.Get(call.Argument(0).String(), nil)
	if v == nil {
		return call.Argument(1)
	}
	return c.page.vm.ToValue(v)
}

func (c *Context) gmSetValue(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).String()
	err := c.bind.branch.Set(key, call.Argument(1).Export())
	if errors.Is(err, prefs.ErrUnsupportedType) {
		panic(c.page.vm.NewTypeError("GM_setValue: unsupported value type for %q", key))
	}
	if err != nil {
		c.throw(err)
	}
	return goja.Undefined()
}

func (c *Context) gmDeleteValue(call goja.FunctionCall) goja.Value {
	if err := c.bind.branch.Delete(call.Argument(0).String()); err != nil {
		c.throw(err)
	}
	return goja.Undefined()
}

func (c *Context) gmListValues(goja.FunctionCall) goja.Value {
	keys, err := c.bind.branch.List()
	if err != nil {
		c.throw(err)
	}
	items := make([]any, len(keys))
	for i, k := range keys {
		items[i] = k
	}
	return c.page.vm.NewArray(items...)
}

func (c *Context) gmOpenInTab(call goja.FunctionCall) goja.Value {
	u, err := c.page.resolve(call.Argument(0).String())
	if err != nil {
		c.throw(fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	if err := c.ui.OpenInTab(u.String()); err != nil {
		c.throw(err)
	}
	return goja.Undefined()
}

func (c *Context) gmRegisterMenuCommand(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(c.page.vm.NewTypeError("GM_registerMenuCommand: callback is not a function"))
	}
	cmd := &MenuCommand{
		Name:           call.Argument(0).String(),
		AccelKey:       optionalString(call.Argument(2)),
		AccelModifiers: optionalString(call.Argument(3)),
		AccessKey:      optionalString(call.Argument(4)),
		Script:         c.bind.id,
		ctx:            c,
		callback:       fn,
	}
	c.menu = append(c.menu, cmd)
	c.ui.RegisterMenuCommand(cmd)
	return goja.Undefined()
}

func (c *Context) resourceData(name string) ([]byte, string, string) {
	res, path, ok := c.script.ResourcePath(name)
	if !ok {
		c.throw(fmt.Errorf("no resource with name %q", name))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.throw(fmt.Errorf("read resource %q: %w", name, err))
	}
	return data, res.MimeType, res.Charset
}

func (c *Context) gmGetResourceText(call goja.FunctionCall) goja.Value {
	data, mimeType, cs := c.resourceData(call.Argument(0).String())
	return c.page.vm.ToValue(DecodeText(data, cs, mimeType))
}

func (c *Context) gmGetResourceURL(call goja.FunctionCall) goja.Value {
	data, mimeType, _ := c.resourceData(call.Argument(0).String())
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.page.vm.ToValue("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func (c *Context) gmAddStyle(call goja.FunctionCall) goja.Value {
	return c.page.domjs.element(c.page.dom.AddStyle(call.Argument(0).String()))
}

func optionalString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
