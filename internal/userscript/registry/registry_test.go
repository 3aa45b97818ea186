package registry

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg   *Config
	store *prefs.Store
	tmp   string
}

func newFixture(t *testing.T, format Format) *fixture {
	t.Helper()
	store := prefs.NewStore(prefs.NewMemoryBackend(), nil)
	cfg, err := New(Options{Root: t.TempDir(), Format: format, Prefs: store})
	require.NoError(t, err)
	return &fixture{cfg: cfg, store: store, tmp: t.TempDir()}
}

func (f *fixture) stage(t *testing.T, namespace, name, body string) *script.Script {
	t.Helper()
	src := fmt.Sprintf("// ==UserScript==\n// @name %s\n// @namespace %s\n// @include http://example.com/*\n// ==/UserScript==\n%s\n", name, namespace, body)
	origin, _ := url.Parse("http://scripts.example/" + name + ".user.js")
	s, err := script.FromSource(script.Options{TempDir: f.tmp}, src, origin)
	require.NoError(t, err)
	return s
}

type recorded struct {
	name    string
	event   Event
	payload any
}

func (f *fixture) record() *[]recorded {
	var events []recorded
	f.cfg.AddObserver(func(s *script.Script, e Event, p any) {
		events = append(events, recorded{s.Name(), e, p})
	}, nil)
	return &events
}

func names(scripts []*script.Script) []string {
	out := make([]string, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, s.Name())
	}
	return out
}

func TestInstallPersistsBeforeNotify(t *testing.T) {
	f := newFixture(t, FormatJSON)
	s := f.stage(t, "ns", "alpha", "")

	var persisted bool
	f.cfg.AddObserver(func(_ *script.Script, e Event, _ any) {
		data, err := os.ReadFile(f.cfg.File())
		require.NoError(t, err)
		persisted = strings.Contains(string(data), `"alpha"`)
	}, nil)

	require.NoError(t, f.cfg.Install(s))
	assert.True(t, persisted)
	assert.True(t, s.Installed())
	assert.Equal(t, filepath.Join(f.cfg.Root(), "alpha"), s.Dir())
}

func TestInstallReplacesSameIdentity(t *testing.T) {
	f := newFixture(t, FormatJSON)
	events := f.record()

	a := f.stage(t, "ns", "Widget", "var v = 1;")
	other := f.stage(t, "ns", "other", "")
	b := f.stage(t, "NS", "widget", "var v = 2;")

	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, f.cfg.Install(other))
	require.NoError(t, f.cfg.Branch(a).Set("kept", "yes"))
	require.NoError(t, f.cfg.Install(b))

	scripts := f.cfg.Scripts()
	require.Len(t, scripts, 2)
	assert.Same(t, other, scripts[0])
	assert.Same(t, b, scripts[1])
	assert.NoDirExists(t, a.Dir())
	assert.Equal(t, "yes", f.cfg.Branch(b).Get("kept", nil), "an update keeps stored values")

	reloaded, err := New(Options{Root: f.cfg.Root()})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"other", "widget"}, names(reloaded.Scripts()))

	assert.Equal(t, []recorded{
		{"Widget", EventInstall, 0},
		{"other", EventInstall, 1},
		{"Widget", EventUninstall, nil},
		{"widget", EventInstall, 1},
	}, *events)
}

func TestFailedUpdateKeepsInstalledScript(t *testing.T) {
	f := newFixture(t, FormatJSON)
	events := f.record()

	a := f.stage(t, "ns", "same", "var v = 1;")
	require.NoError(t, f.cfg.Install(a))

	b := f.stage(t, "ns", "same", "var v = 2;")
	require.NoError(t, os.RemoveAll(b.Dir()))
	require.Error(t, f.cfg.Install(b))

	require.Len(t, f.cfg.Scripts(), 1)
	assert.Same(t, a, f.cfg.Scripts()[0])
	assert.DirExists(t, a.Dir())
	assert.True(t, a.Installed())
	assert.Equal(t, []recorded{{"same", EventInstall, 0}}, *events)

	reloaded, err := New(Options{Root: f.cfg.Root()})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Len())
	sources, err := reloaded.Scripts()[0].ReadSources()
	require.NoError(t, err)
	assert.NotEmpty(t, sources)
}

func TestInstallSameObjectTwice(t *testing.T) {
	f := newFixture(t, FormatJSON)
	a := f.stage(t, "ns", "a", "")
	b := f.stage(t, "ns", "b", "")

	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, f.cfg.Install(b))
	require.NoError(t, f.cfg.Install(b))

	assert.Equal(t, []string{"a", "b"}, names(f.cfg.Scripts()))
	assert.FileExists(t, b.File())
}

func TestUninstall(t *testing.T) {
	f := newFixture(t, FormatJSON)
	events := f.record()
	a := f.stage(t, "ns", "a", "")
	b := f.stage(t, "ns", "b", "")
	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, f.cfg.Install(b))

	require.NoError(t, f.cfg.Branch(a).Set("k", int32(1)))
	require.NoError(t, f.cfg.Branch(b).Set("k", int32(2)))

	require.NoError(t, f.cfg.Uninstall(a, true))
	require.NoError(t, f.cfg.Uninstall(b, false))
	require.NoError(t, f.cfg.Uninstall(b, false))

	assert.Empty(t, f.cfg.RunnableAt("http://example.com/"))
	assert.NoDirExists(t, a.Dir())
	assert.Nil(t, f.cfg.Branch(a).Get("k", nil))
	assert.Equal(t, int32(2), f.cfg.Branch(b).Get("k", nil))

	uninstalls := 0
	for _, e := range *events {
		if e.event == EventUninstall {
			uninstalls++
		}
	}
	assert.Equal(t, 2, uninstalls)
}

func TestUninstallPurgeSparesNestedBranch(t *testing.T) {
	f := newFixture(t, FormatJSON)
	outer := f.stage(t, "x", "y", "")
	inner := f.stage(t, "x", "y.z", "")
	require.NoError(t, f.cfg.Install(outer))
	require.NoError(t, f.cfg.Install(inner))

	require.NoError(t, f.cfg.Branch(outer).Set("k", int32(1)))
	require.NoError(t, f.cfg.Branch(inner).Set("k", int32(2)))

	require.NoError(t, f.cfg.Uninstall(outer, true))
	assert.Nil(t, f.store.Branch(prefs.ScriptBranch("x", "y")).Get("k", nil))
	assert.Equal(t, int32(2), f.cfg.Branch(inner).Get("k", nil))
}

func TestMove(t *testing.T) {
	f := newFixture(t, FormatJSON)
	events := f.record()
	a := f.stage(t, "ns", "a", "")
	b := f.stage(t, "ns", "b", "")
	c := f.stage(t, "ns", "c", "")
	for _, s := range []*script.Script{a, b, c} {
		require.NoError(t, f.cfg.Install(s))
	}
	*events = nil

	require.NoError(t, f.cfg.MoveBy(a, -1))
	assert.Equal(t, []string{"a", "b", "c"}, names(f.cfg.Scripts()))
	assert.Empty(t, *events, "clamped no-op does not notify")

	require.NoError(t, f.cfg.MoveBy(a, 10))
	assert.Equal(t, []string{"b", "c", "a"}, names(f.cfg.Scripts()))

	require.NoError(t, f.cfg.MoveTo(a, b))
	assert.Equal(t, []string{"a", "b", "c"}, names(f.cfg.Scripts()))

	require.NoError(t, f.cfg.MoveBy(c, -1))
	assert.Equal(t, []string{"a", "c", "b"}, names(f.cfg.Scripts()))

	stranger := f.stage(t, "ns", "stranger", "")
	require.NoError(t, f.cfg.MoveBy(stranger, 1))
	require.NoError(t, f.cfg.MoveTo(a, stranger))
	assert.Equal(t, []string{"a", "c", "b"}, names(f.cfg.Scripts()))

	assert.Equal(t, []recorded{
		{"a", EventMove, 2},
		{"a", EventMove, 0},
		{"c", EventMove, 1},
	}, *events)

	reloaded, err := New(Options{Root: f.cfg.Root()})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"a", "c", "b"}, names(reloaded.Scripts()))
}

func TestObserverScopes(t *testing.T) {
	f := newFixture(t, FormatJSON)
	a := f.stage(t, "ns", "a", "")
	b := f.stage(t, "ns", "b", "")

	var global, scoped []string
	gid := f.cfg.AddObserver(func(s *script.Script, e Event, _ any) { global = append(global, s.Name()+":"+string(e)) }, nil)
	sid := f.cfg.AddObserver(func(s *script.Script, e Event, _ any) { scoped = append(scoped, s.Name()+":"+string(e)) }, a)

	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, f.cfg.Install(b))
	f.cfg.SetEnabled(a, false)

	assert.Equal(t, []string{"a:install", "b:install", "a:edit-enabled"}, global)
	assert.Equal(t, []string{"a:install", "a:edit-enabled"}, scoped)

	assert.ErrorIs(t, f.cfg.RemoveObserver(sid, nil), ErrObserverNotFound)
	require.NoError(t, f.cfg.RemoveObserver(sid, a))
	require.NoError(t, f.cfg.RemoveObserver(gid, nil))
	assert.ErrorIs(t, f.cfg.RemoveObserver(gid, nil), ErrObserverNotFound)

	f.cfg.SetEnabled(a, true)
	assert.Len(t, global, 3)
	assert.Len(t, scoped, 2)
}

func TestSetEnabledPersists(t *testing.T) {
	f := newFixture(t, FormatYAML)
	a := f.stage(t, "ns", "a", "")
	require.NoError(t, f.cfg.Install(a))
	a.SetEnabled(false)

	reloaded, err := New(Options{Root: f.cfg.Root(), Format: FormatYAML})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Len())
	assert.False(t, reloaded.Scripts()[0].Enabled())
	assert.Empty(t, reloaded.RunnableAt("http://example.com/"))
}

func TestMatching(t *testing.T) {
	f := newFixture(t, FormatJSON)
	a := f.stage(t, "ns", "a", "")
	b := f.stage(t, "ns", "b", "")
	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, f.cfg.Install(b))
	require.NoError(t, f.cfg.UpdateRules(b, []string{"http://other.example/*"}, nil))

	assert.Equal(t, []string{"a"}, names(f.cfg.RunnableAt("http://example.com/x")))
	assert.Equal(t, []string{"b"}, names(f.cfg.RunnableAt("http://other.example/")))
	assert.Equal(t, []string{"a", "b"}, names(f.cfg.GetMatchingScripts(func(*script.Script) bool { return true })))

	assert.Same(t, a, f.cfg.Find("NS", "A"))
	assert.Same(t, b, f.cfg.FindByKey(Key(b)))
	assert.Nil(t, f.cfg.Find("ns", "missing"))
	assert.Equal(t, 1, f.cfg.Index(b))
}

func TestReloadAfterEdit(t *testing.T) {
	f := newFixture(t, FormatJSON)
	events := f.record()
	a := f.stage(t, "ns", "a", "")
	require.NoError(t, f.cfg.Install(a))

	src := "// ==UserScript==\n// @name a\n// @namespace ns\n// @include http://edited.example/*\n// ==/UserScript==\n"
	require.NoError(t, os.WriteFile(a.File(), []byte(src), 0o644))
	require.NoError(t, f.cfg.Reload(a))

	assert.Equal(t, []string{"a"}, names(f.cfg.RunnableAt("http://edited.example/")))
	assert.Equal(t, EventEdit, (*events)[len(*events)-1].event)

	stray := f.stage(t, "ns", "stray", "")
	assert.Error(t, f.cfg.Reload(stray))
}

func TestLoadSkipsBrokenEntries(t *testing.T) {
	root := t.TempDir()
	doc := `{"version":1,"scripts":[{"basedir":"","filename":""},{"basedir":"ok","filename":"ok.user.js","enabled":true,"metadata":{"name":"ok","namespace":"ns"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.json"), []byte(doc), 0o644))

	cfg, err := New(Options{Root: root})
	require.NoError(t, err)
	require.NoError(t, cfg.Load())
	require.Equal(t, 1, cfg.Len())
	assert.Equal(t, []string{"*"}, cfg.Scripts()[0].Metadata().Includes)

	require.NoError(t, os.WriteFile(cfg.File(), []byte("{not json"), 0o644))
	assert.Error(t, cfg.Load())

	require.NoError(t, os.WriteFile(cfg.File(), []byte(`{"version":2,"scripts":[]}`), 0o644))
	err = cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
	assert.Equal(t, 1, cfg.Len())
}

func TestPrune(t *testing.T) {
	f := newFixture(t, FormatJSON)
	a := f.stage(t, "ns", "a", "")
	require.NoError(t, f.cfg.Install(a))
	require.NoError(t, os.Mkdir(filepath.Join(f.cfg.Root(), "orphan"), 0o755))

	removed, err := f.cfg.Prune()
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, removed)
	assert.DirExists(t, a.Dir())
	assert.FileExists(t, f.cfg.File())
}

func TestCodecFor(t *testing.T) {
	_, err := CodecFor("xml")
	assert.Error(t, err)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		codec, err := CodecFor(format)
		require.NoError(t, err)

		in := &Document{Version: DocumentVersion, Scripts: []script.Record{{Basedir: "d", Filename: "f.user.js", Enabled: true}}}
		data, err := codec.Marshal(in)
		require.NoError(t, err)

		var out Document
		require.NoError(t, codec.Unmarshal(data, &out))
		assert.Equal(t, in.Scripts[0].Basedir, out.Scripts[0].Basedir)
		assert.True(t, out.Scripts[0].Enabled)
	}
}
