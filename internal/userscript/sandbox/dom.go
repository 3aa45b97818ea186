package sandbox

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// DOM is the parsed page document shared by page code and every injected
// script. It is only touched while the page lock is held.
type DOM struct {
	doc     *goquery.Document
	changes []DOMChange
}

// ParseDOM parses an HTML document. An empty string yields an empty
// html/head/body skeleton.
func ParseDOM(src string) (*DOM, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &DOM{doc: doc}, nil
}

// Root returns the document node.
func (d *DOM) Root() *html.Node { return d.doc.Nodes[0] }

// Query finds elements by CSS selector. Invalid selectors match nothing.
func (d *DOM) Query(selector string) []*html.Node {
	return d.doc.Find(selector).Nodes
}

// QueryWithin finds elements under n.
func (d *DOM) QueryWithin(n *html.Node, selector string) []*html.Node {
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

// XPath evaluates expr against the document.
func (d *DOM) XPath(expr string) ([]*html.Node, error) {
	return htmlquery.QueryAll(d.Root(), expr)
}

// Title returns the text of the first title element.
func (d *DOM) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Head returns the head element, creating one if the document has none.
func (d *DOM) Head() *html.Node {
	if h := d.doc.Find("head").First(); h.Length() > 0 {
		return h.Nodes[0]
	}
	head := &html.Node{Type: html.ElementNode, Data: "head"}
	if htmlEl := d.doc.Find("html").First(); htmlEl.Length() > 0 {
		htmlEl.Nodes[0].InsertBefore(head, htmlEl.Nodes[0].FirstChild)
	} else {
		d.Root().AppendChild(head)
	}
	return head
}

// Body returns the body element, or nil.
func (d *DOM) Body() *html.Node {
	if b := d.doc.Find("body").First(); b.Length() > 0 {
		return b.Nodes[0]
	}
	return nil
}

// AddStyle appends a style element holding css to the head.
func (d *DOM) AddStyle(css string) *html.Node {
	style := &html.Node{
		Type: html.ElementNode,
		Data: "style",
		Attr: []html.Attribute{{Key: "type", Val: "text/css"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	d.Head().AppendChild(style)
	d.record(DOMChange{Type: "add_style", Selector: "head", Value: css})
	return style
}

// HTML serializes the document.
func (d *DOM) HTML() (string, error) {
	return d.doc.Html()
}

// Changes returns the modifications made so far.
func (d *DOM) Changes() []DOMChange {
	return append([]DOMChange{}, d.changes...)
}

func (d *DOM) record(c DOMChange) {
	d.changes = append(d.changes, c)
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

// describe renders a short selector for change records.
func describe(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.DocumentNode {
		return "document"
	}
	sel := n.Data
	if id, ok := getAttr(n, "id"); ok && id != "" {
		return sel + "#" + id
	}
	if class, ok := getAttr(n, "class"); ok && class != "" {
		sel += "." + strings.Join(strings.Fields(class), ".")
	}
	return sel
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
