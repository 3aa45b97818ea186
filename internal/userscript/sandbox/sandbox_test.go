package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageHTML = `<html><head><title>Example</title></head><body><h1 id="title">Hello</h1><p class="note">one</p></body></html>`

type fakeUI struct {
	mu   sync.Mutex
	tabs []string
	cmds []*MenuCommand
}

func (u *fakeUI) OpenInTab(url string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tabs = append(u.tabs, url)
	return nil
}

func (u *fakeUI) RegisterMenuCommand(cmd *MenuCommand) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cmds = append(u.cmds, cmd)
}

type fixture struct {
	sb    *Sandbox
	store *prefs.Store
	ui    *fakeUI
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := prefs.NewStore(prefs.NewMemoryBackend(), nil)
	client := fetch.New(fetch.Config{Timeout: 5 * time.Second}, nil)
	return &fixture{
		sb:    New(cfg, Deps{Prefs: store, Requester: client}),
		store: store,
		ui:    &fakeUI{},
	}
}

func (f *fixture) page(t *testing.T) *Page {
	t.Helper()
	p, err := f.sb.NewPage(PageOptions{URL: "http://example.com/index.html", HTML: pageHTML, UI: f.ui})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func (f *fixture) value(s *script.Script, key string) any {
	return f.store.Branch(prefs.ScriptBranch(s.Namespace(), s.Name())).Get(key, nil)
}

func header(extra string) string {
	return "// ==UserScript==\n// @name test\n// @namespace sandbox\n" + extra + "// ==/UserScript==\n"
}

// localScript stages src with a file: origin so relative dependencies are
// read from files written next to it.
func localScript(t *testing.T, src string, files map[string]string) *script.Script {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	origin, err := url.Parse(script.FileURL(filepath.Join(dir, "test.user.js")))
	require.NoError(t, err)

	s, err := script.FromSource(script.Options{TempDir: t.TempDir()}, src, origin)
	require.NoError(t, err)
	fetcher := script.NewFetcher(fetch.New(fetch.DefaultConfig(), nil), nil)
	require.NoError(t, s.FetchDependencies(context.Background(), fetcher))
	return s
}

func settle(t *testing.T, p *Page) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Settle(ctx))
}

func TestWrappedInjectionKeepsBindingsPrivate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
var secret = 42;
GM_setValue("count", 7);
document.getElementById("title").textContent = "Changed";
`, nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())

	v, err := p.RunPageScript("http://example.com/app.js", "typeof secret")
	require.NoError(t, err)
	assert.Equal(t, "undefined", v.String())
	assert.Equal(t, int32(7), f.value(s, "count"))

	html, err := p.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "Changed")
	assert.NotEmpty(t, p.Changes())
}

func TestRequiresShareScopeWithScript(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("// @require lib.js\n")+`GM_setValue("from", helper());`,
		map[string]string{"lib.js": `var helper = function () { return "lib"; };`})

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())
	assert.Equal(t, "lib", f.value(s, "from"))
}

func TestFailingRequireDoesNotStopScript(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("// @require broken.js\n// @require syntax.js\n")+`GM_setValue("ran", true);`,
		map[string]string{
			"broken.js": "var a = 1;\nthrow new Error(\"boom\");\n",
			"syntax.js": "var = ;\n",
		})

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Equal(t, true, f.value(s, "ran"))

	errs := c.Errors()
	require.Len(t, errs, 2)
	files := s.SourceFiles()

	assert.Equal(t, files[1], errs[0].File, "syntax errors are found before evaluation")
	assert.Equal(t, files[0], errs[1].File)
	assert.Equal(t, 2, errs[1].Line)
	assert.Contains(t, errs[1].Message, "boom")
}

func TestScriptErrorIsAttributedToOwnFile(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	src := header("// @require lib.js\n") + "var ok = 1;\nnull.boom();\n"
	s := localScript(t, src, map[string]string{"lib.js": "var x = 1;\nvar y = 2;\n"})

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	errs := c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, s.FileURL(), errs[0].File)
	assert.Equal(t, 7, errs[0].Line)
}

func TestUnwrapLeaksIntoPageScope(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("// @unwrap\n")+`var shared = 5; GM_setValue("unwrapped", shared);`, nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())
	assert.Equal(t, int32(5), f.value(s, "unwrapped"))

	v, err := p.RunPageScript("http://example.com/app.js", "typeof shared")
	require.NoError(t, err)
	assert.Equal(t, "number", v.String())

	_, err = p.RunPageScript("http://example.com/app.js", `GM_setValue("stolen", 1)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access violation")
	assert.Nil(t, f.value(s, "stolen"))
}

func TestProvenance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)

	_, err := p.RunPageScript("http://example.com/app.js", `
window.relay = function (fn) {
	try { fn(); return "ok"; } catch (e) { return String(e); }
};`)
	require.NoError(t, err)
	_, err = p.RunPageScript("", `
window.relayAnon = function (fn) {
	try { fn(); return "ok"; } catch (e) { return String(e); }
};`)
	require.NoError(t, err)

	s := localScript(t, header("")+`
GM_setValue("direct", 1);
GM_setValue("relay", unsafeWindow.relay(function () { GM_setValue("relayed", 2); }));
GM_setValue("relayAnon", unsafeWindow.relayAnon(function () { GM_setValue("viaAnon", 3); }));
unsafeWindow.leaked = GM_setValue;
`, nil)
	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())

	assert.Equal(t, int32(1), f.value(s, "direct"), "own frames only")
	assert.Nil(t, f.value(s, "relayed"), "intervening page frame")
	assert.Contains(t, f.value(s, "relay"), "access violation")
	assert.Nil(t, f.value(s, "viaAnon"), "unnamed page code is still page code")
	assert.Contains(t, f.value(s, "relayAnon"), "access violation")

	_, err = p.RunPageScript("http://example.com/app.js", `leaked("stolen", 3)`)
	require.Error(t, err)
	assert.Nil(t, f.value(s, "stolen"))

	var violations int
	for _, e := range p.Console() {
		if e.Level == "error" && e.Source == "" {
			violations++
		}
	}
	assert.Equal(t, 3, violations)
}

func TestVerifyRejectsForeignActivation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	own, other := newToken("a"), newToken("b")

	err := verify(p.vm, "GM_log", other, own, nil)
	var av *AccessViolation
	require.ErrorAs(t, err, &av)
	assert.ErrorIs(t, err, ErrAccessViolation)
	assert.Equal(t, "GM_log", av.API)
	assert.Equal(t, "b", av.Caller)

	assert.NoError(t, verify(p.vm, "GM_log", own, own, nil))
}

func TestXMLHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Echo", r.Header.Get("X-Token"))
		_, _ = w.Write([]byte("hello " + r.Method))
	}))
	defer srv.Close()

	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
GM_xmlhttpRequest({
	method: "POST",
	url: "`+srv.URL+`/data",
	headers: {"X-Token": "abc"},
	onreadystatechange: function (r) { GM_setValue("state", r.readyState); },
	onload: function (r) {
		GM_setValue("status", r.status);
		GM_setValue("body", r.responseText);
		GM_setValue("headers", r.responseHeaders);
	}
});
GM_xmlhttpRequest({
	url: "`+srv.URL+`/missing",
	onload: function (r) { GM_setValue("missing", r.status); }
});
GM_setValue("sync", GM_getValue("status", "pending"));
`, nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())
	assert.Equal(t, "pending", f.value(s, "sync"), "completion is never synchronous")

	settle(t, p)
	assert.Equal(t, int32(4), f.value(s, "state"))
	assert.Equal(t, int32(200), f.value(s, "status"))
	assert.Equal(t, "hello POST", f.value(s, "body"))
	assert.Contains(t, f.value(s, "headers"), "X-Echo: abc")
	assert.Equal(t, int32(404), f.value(s, "missing"))
}

func TestXMLHTTPRequestRejectsScheme(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
try {
	GM_xmlhttpRequest({url: "file:///etc/passwd"});
} catch (e) {
	GM_setValue("err", String(e));
}`, nil)

	_, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Contains(t, f.value(s, "err"), "invalid url")
	settle(t, p)
}

func TestXMLHTTPRequestNetworkError(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
GM_xmlhttpRequest({
	url: "ftp://files.example/x",
	onerror: function (r) { GM_setValue("status", r.status); }
});`, nil)

	_, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	settle(t, p)
	assert.Equal(t, int32(0), f.value(s, "status"))
}

func TestMenuCommand(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
GM_registerMenuCommand("Count", function () {
	GM_setValue("clicks", GM_getValue("clicks", 0) + 1);
}, "c", "shift", "o");`, nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	require.Len(t, f.ui.cmds, 1)
	cmd := f.ui.cmds[0]
	assert.Equal(t, "Count", cmd.Name)
	assert.Equal(t, "shift", cmd.AccelModifiers)
	assert.Equal(t, c.MenuCommands(), f.ui.cmds)

	require.NoError(t, cmd.Invoke())
	assert.Nil(t, f.value(s, "clicks"))
	settle(t, p)
	assert.Equal(t, int32(1), f.value(s, "clicks"))

	p.Close()
	assert.ErrorIs(t, cmd.Invoke(), ErrPageClosed)
}

func TestResourcesAndTabs(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("// @resource greeting greeting.txt\n")+`
GM_setValue("text", GM_getResourceText("greeting"));
GM_setValue("url", GM_getResourceURL("greeting"));
GM_openInTab("/next");
try { GM_getResourceText("missing"); } catch (e) { GM_setValue("missing", String(e)); }
`, map[string]string{"greeting.txt": "hello resource"})

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())
	assert.Equal(t, "hello resource", f.value(s, "text"))
	assert.Contains(t, f.value(s, "url"), "data:text/plain")
	assert.Contains(t, f.value(s, "url"), ";base64,aGVsbG8gcmVzb3VyY2U=")
	assert.Contains(t, f.value(s, "missing"), "missing")
	assert.Equal(t, []string{"http://example.com/next"}, f.ui.tabs)
}

func TestValueAPI(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
GM_setValue("a", "x");
GM_setValue("b", false);
GM_deleteValue("a");
GM_setValue("keys", GM_listValues().join(","));
GM_setValue("fallback", GM_getValue("nope", "dflt"));
try { GM_setValue("bad", {}); } catch (e) { GM_setValue("badError", e instanceof TypeError); }
GM_log("logged");
`, nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Empty(t, c.Errors())
	assert.Nil(t, f.value(s, "a"))
	assert.Equal(t, false, f.value(s, "b"))
	assert.Equal(t, "b", f.value(s, "keys"))
	assert.Equal(t, "dflt", f.value(s, "fallback"))
	assert.Equal(t, true, f.value(s, "badError"))
	assert.Nil(t, f.value(s, "bad"))

	var logged bool
	for _, e := range p.Console() {
		logged = logged || (e.Message == "logged" && e.Source == s.ID())
	}
	assert.True(t, logged)
}

func TestSetTimeoutIsDeferred(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`
setTimeout(function (v) { GM_setValue("timer", v); }, 10, "fired");
var cancelled = setTimeout(function () { GM_setValue("cancelled", true); }, 10);
clearTimeout(cancelled);
`, nil)

	_, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	assert.Nil(t, f.value(s, "timer"))
	settle(t, p)
	assert.Equal(t, "fired", f.value(s, "timer"))
	assert.Nil(t, f.value(s, "cancelled"))
}

func TestTimeoutInterruptsScript(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	f := newFixture(t, cfg)
	p := f.page(t)
	s := localScript(t, header("")+"while (true) {}\n", nil)

	c, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	errs := c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, ErrTimeout.Error(), errs[0].Message)

	v, err := p.RunPageScript("http://example.com/app.js", "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())
}

func TestAddStyle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header("")+`GM_addStyle("h1 { color: red }");`, nil)

	_, err := f.sb.Inject(p, s)
	require.NoError(t, err)
	html, err := p.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `<style type="text/css">h1 { color: red }</style>`)
}

func TestClosedPage(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	s := localScript(t, header(""), nil)
	p.Close()

	_, err := f.sb.Inject(p, s)
	assert.ErrorIs(t, err, ErrPageClosed)
	_, err = p.RunPageScript("x", "1")
	assert.ErrorIs(t, err, ErrPageClosed)
	assert.NoError(t, p.Settle(context.Background()))
}

func TestForgetRebuildsBinding(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	s := localScript(t, header(""), nil)

	b := f.sb.bind(s)
	assert.Same(t, b, f.sb.bind(s))
	f.sb.Forget(s)
	assert.NotSame(t, b, f.sb.bind(s))
	assert.True(t, b.allowed[s.FileURL()])
}
