package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestPageDOM(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"title", "document.title", "Example"},
		{"by id", `document.getElementById("title").tagName`, "H1"},
		{"missing is null", `String(document.querySelector("#nope"))`, "null"},
		{"class list", `document.getElementsByClassName("note").length`, "1"},
		{"tag list", `document.getElementsByTagName("p")[0].textContent`, "one"},
		{"identity", `document.querySelector("h1") === document.getElementById("title")`, "true"},
		{"xpath", `document.evaluate("//p[@class='note']").snapshotItem(0).className`, "note"},
		{"xpath length", `document.evaluate("//h1 | //p").snapshotLength`, "2"},
		{"location", "location.hostname + location.pathname", "example.com/index.html"},
		{"window alias", "window === self && window.document === document", "true"},
		{"no host require", "typeof require", "undefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := p.RunPageScript("http://example.com/app.js", tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestPageDOMMutation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)

	_, err := p.RunPageScript("http://example.com/app.js", `
var el = document.createElement("div");
el.setAttribute("id", "added");
el.textContent = "new";
document.body.appendChild(el);
document.querySelector("p.note").remove();
document.getElementById("title").className = "big";
`)
	require.NoError(t, err)

	html, err := p.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `<div id="added">new</div>`)
	assert.NotContains(t, html, "one")
	assert.Contains(t, html, `class="big"`)

	var types []string
	for _, c := range p.Changes() {
		types = append(types, c.Type)
	}
	assert.Equal(t, []string{"set_attribute", "set_text", "append", "remove", "set_attribute"}, types)
}

func TestInvalidXPathThrows(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.page(t)
	v, err := p.RunPageScript("http://example.com/app.js", `
try { document.evaluate("//["); "no" } catch (e) { e instanceof TypeError }`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestDecodeText(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String("café")
	require.NoError(t, err)

	assert.Equal(t, "café", DecodeText([]byte(latin1), "iso-8859-1", ""))
	assert.Equal(t, "café", DecodeText([]byte(latin1), "", "text/plain; charset=latin1"))
	assert.Equal(t, "café", DecodeText([]byte("café"), "", ""))
	assert.Equal(t, "ÿ\u0001", binaryString([]byte{0xff, 0x01}))
}
