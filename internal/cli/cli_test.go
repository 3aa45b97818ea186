package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloScript = `// ==UserScript==
// @name        Hello
// @namespace   test
// @include     http://example.com/*
// ==/UserScript==
document.title = "hello";
`

const otherScript = `// ==UserScript==
// @name        Other
// @namespace   test
// @include     http://other.org/*
// ==/UserScript==
`

type cliFixture struct {
	root string
	src  string
}

func newCLIFixture(t *testing.T) *cliFixture {
	dir := t.TempDir()
	t.Setenv("PREFS_BACKEND", "memory")
	t.Setenv("TEMP_DIR", filepath.Join(dir, "tmp"))

	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.user.js"), []byte(helloScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "other.user.js"), []byte(otherScript), 0o644))

	return &cliFixture{root: filepath.Join(dir, "scripts"), src: src}
}

func (f *cliFixture) exec(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--root", f.root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListEmpty(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.exec(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No scripts installed")
}

func TestInstallFileAndList(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.exec(t, "install", filepath.Join(f.src, "hello.user.js"))
	require.NoError(t, err)
	assert.Contains(t, out, "installed test/Hello")

	out, err = f.exec(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "test/Hello")
	assert.Contains(t, out, "http://example.com/*")
	assert.Contains(t, out, "true")
}

func TestInstallPattern(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.exec(t, "install", filepath.Join(f.src, "*.user.js"))
	require.NoError(t, err)
	assert.Contains(t, out, "test/Hello")
	assert.Contains(t, out, "test/Other")

	_, err = f.exec(t, "install", filepath.Join(f.src, "*.none.js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files match")
}

func TestEnableDisableAndMatch(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.exec(t, "install", filepath.Join(f.src, "*.user.js"))
	require.NoError(t, err)

	out, err := f.exec(t, "match", "http://example.com/page")
	require.NoError(t, err)
	assert.Contains(t, out, "test/Hello")
	assert.NotContains(t, out, "test/Other")

	out, err = f.exec(t, "disable", "test/Hello")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled test/Hello")

	out, err = f.exec(t, "match", "http://example.com/page")
	require.NoError(t, err)
	assert.Contains(t, out, "No scripts match")

	_, err = f.exec(t, "enable", "test/hello")
	require.NoError(t, err)
	out, err = f.exec(t, "match", "http://example.com/page")
	require.NoError(t, err)
	assert.Contains(t, out, "test/Hello")
}

func TestMove(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.exec(t, "install", filepath.Join(f.src, "hello.user.js"))
	require.NoError(t, err)
	_, err = f.exec(t, "install", filepath.Join(f.src, "other.user.js"))
	require.NoError(t, err)

	out, err := f.exec(t, "move", "--", "test/Other", "-1")
	require.NoError(t, err)
	assert.Less(t, bytes.Index([]byte(out), []byte("test/Other")), bytes.Index([]byte(out), []byte("test/Hello")))

	out, err = f.exec(t, "list")
	require.NoError(t, err)
	assert.Less(t, bytes.Index([]byte(out), []byte("test/Other")), bytes.Index([]byte(out), []byte("test/Hello")))

	_, err = f.exec(t, "move", "test/Other", "up")
	assert.Error(t, err)
}

func TestUninstallAndPrune(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.exec(t, "install", filepath.Join(f.src, "hello.user.js"))
	require.NoError(t, err)

	_, err = f.exec(t, "uninstall", "test/Missing")
	require.Error(t, err)

	out, err := f.exec(t, "uninstall", "--purge", "test/Hello")
	require.NoError(t, err)
	assert.Contains(t, out, "uninstalled test/Hello")

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "orphan"), 0o755))
	out, err = f.exec(t, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "removed orphan")
	assert.NoDirExists(t, filepath.Join(f.root, "orphan"))

	out, err = f.exec(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No scripts installed")
}
