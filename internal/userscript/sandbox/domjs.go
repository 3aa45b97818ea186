package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// domBinding exposes a DOM to one goja runtime. Proxies are cached per node
// so identity comparisons hold in JS.
type domBinding struct {
	vm      *goja.Runtime
	dom     *DOM
	proxies map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
}

func newDOMBinding(vm *goja.Runtime, dom *DOM) *domBinding {
	return &domBinding{
		vm:      vm,
		dom:     dom,
		proxies: make(map[*html.Node]*goja.Object),
		nodes:   make(map[*goja.Object]*html.Node),
	}
}

func (b *domBinding) fn(f func(goja.FunctionCall) goja.Value) goja.Value {
	return b.vm.ToValue(f)
}

func (b *domBinding) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	var setter goja.Value
	if set != nil {
		setter = b.fn(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	getter := b.fn(func(goja.FunctionCall) goja.Value { return get() })
	if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		panic(b.vm.NewGoError(err))
	}
}

func (b *domBinding) nodeOf(v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		return b.nodes[obj]
	}
	return nil
}

func (b *domBinding) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return b.element(n)
}

func (b *domBinding) list(nodes []*html.Node) goja.Value {
	items := make([]any, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, b.element(n))
	}
	return b.vm.NewArray(items...)
}

func (b *domBinding) first(nodes []*html.Node) goja.Value {
	if len(nodes) == 0 {
		return goja.Null()
	}
	return b.element(nodes[0])
}

// document builds the document object.
func (b *domBinding) document() *goja.Object {
	doc := b.vm.NewObject()
	root := b.dom.Root()
	b.nodes[doc] = root
	b.proxies[root] = doc

	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return b.first(b.dom.Query(call.Argument(0).String()))
	})
	doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return b.list(b.dom.Query(call.Argument(0).String()))
	})
	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return b.first(b.dom.Query(`[id="` + strings.ReplaceAll(call.Argument(0).String(), `"`, `\"`) + `"]`))
	})
	doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return b.list(b.dom.Query(call.Argument(0).String()))
	})
	doc.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		classes := strings.Fields(call.Argument(0).String())
		if len(classes) == 0 {
			return b.vm.NewArray()
		}
		return b.list(b.dom.Query("." + strings.Join(classes, ".")))
	})
	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return b.element(&html.Node{Type: html.ElementNode, Data: strings.ToLower(call.Argument(0).String())})
	})
	doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return b.element(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	doc.Set("evaluate", func(call goja.FunctionCall) goja.Value {
		nodes, err := b.dom.XPath(call.Argument(0).String())
		if err != nil {
			panic(b.vm.NewTypeError("invalid xpath: %v", err))
		}
		return b.snapshot(nodes)
	})

	b.accessor(doc, "title", func() goja.Value { return b.vm.ToValue(b.dom.Title()) }, func(v goja.Value) {
		title := b.dom.doc.Find("title").First()
		if title.Length() == 0 {
			n := &html.Node{Type: html.ElementNode, Data: "title"}
			b.dom.Head().AppendChild(n)
			title = goquery.NewDocumentFromNode(n).Selection
		}
		title.SetText(v.String())
		b.dom.record(DOMChange{Type: "set_text", Selector: "title", Value: v.String()})
	})
	b.accessor(doc, "head", func() goja.Value { return b.wrap(b.dom.Head()) }, nil)
	b.accessor(doc, "body", func() goja.Value { return b.wrap(b.dom.Body()) }, nil)
	b.accessor(doc, "documentElement", func() goja.Value {
		return b.first(b.dom.Query("html"))
	}, nil)
	return doc
}

// snapshot mimics an ORDERED_NODE_SNAPSHOT XPathResult.
func (b *domBinding) snapshot(nodes []*html.Node) goja.Value {
	res := b.vm.NewObject()
	res.Set("snapshotLength", len(nodes))
	res.Set("snapshotItem", func(call goja.FunctionCall) goja.Value {
		i := int(call.Argument(0).ToInteger())
		if i < 0 || i >= len(nodes) {
			return goja.Null()
		}
		return b.element(nodes[i])
	})
	return res
}

// element returns the cached proxy of n.
func (b *domBinding) element(n *html.Node) *goja.Object {
	if obj, ok := b.proxies[n]; ok {
		return obj
	}
	obj := b.vm.NewObject()
	b.proxies[n] = obj
	b.nodes[obj] = n
	sel := func() *goquery.Selection { return goquery.NewDocumentFromNode(n).Selection }

	if n.Type == html.TextNode {
		obj.Set("nodeType", 3)
		b.accessor(obj, "textContent", func() goja.Value { return b.vm.ToValue(n.Data) }, func(v goja.Value) {
			n.Data = v.String()
		})
		return obj
	}

	obj.Set("nodeType", 1)
	b.accessor(obj, "tagName", func() goja.Value { return b.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	b.accessor(obj, "nodeName", func() goja.Value { return b.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	b.attrAccessor(obj, n, "id", "id")
	b.attrAccessor(obj, n, "className", "class")

	b.accessor(obj, "textContent", func() goja.Value { return b.vm.ToValue(sel().Text()) }, func(v goja.Value) {
		sel().SetText(v.String())
		b.dom.record(DOMChange{Type: "set_text", Selector: describe(n), Property: "textContent", Value: v.String()})
	})
	b.accessor(obj, "innerHTML", func() goja.Value {
		s, _ := sel().Html()
		return b.vm.ToValue(s)
	}, func(v goja.Value) {
		sel().SetHtml(v.String())
		b.dom.record(DOMChange{Type: "set_html", Selector: describe(n), Property: "innerHTML", Value: v.String()})
	})
	b.accessor(obj, "outerHTML", func() goja.Value {
		s, _ := goquery.OuterHtml(sel())
		return b.vm.ToValue(s)
	}, nil)
	b.accessor(obj, "parentNode", func() goja.Value { return b.wrap(n.Parent) }, nil)
	b.accessor(obj, "children", func() goja.Value { return b.list(sel().Children().Nodes) }, nil)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := getAttr(n, call.Argument(0).String()); ok {
			return b.vm.ToValue(v)
		}
		return goja.Null()
	})
	obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := getAttr(n, call.Argument(0).String())
		return b.vm.ToValue(ok)
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		name, val := call.Argument(0).String(), call.Argument(1).String()
		setAttr(n, name, val)
		b.dom.record(DOMChange{Type: "set_attribute", Selector: describe(n), Property: name, Value: val})
		return goja.Undefined()
	})
	obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		removeAttr(n, name)
		b.dom.record(DOMChange{Type: "remove_attribute", Selector: describe(n), Property: name})
		return goja.Undefined()
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := b.nodeOf(call.Argument(0))
		if child == nil || child == n {
			panic(b.vm.NewTypeError("appendChild: argument is not a node"))
		}
		detach(child)
		n.AppendChild(child)
		b.dom.record(DOMChange{Type: "append", Selector: describe(n), Value: describe(child)})
		return call.Argument(0)
	})
	obj.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			b.dom.record(DOMChange{Type: "remove", Selector: describe(n)})
			detach(n)
		}
		return goja.Undefined()
	})
	obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return b.first(b.dom.QueryWithin(n, call.Argument(0).String()))
	})
	obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return b.list(b.dom.QueryWithin(n, call.Argument(0).String()))
	})
	return obj
}

func (b *domBinding) attrAccessor(obj *goja.Object, n *html.Node, prop, attr string) {
	b.accessor(obj, prop, func() goja.Value {
		v, _ := getAttr(n, attr)
		return b.vm.ToValue(v)
	}, func(v goja.Value) {
		setAttr(n, attr, v.String())
		b.dom.record(DOMChange{Type: "set_attribute", Selector: describe(n), Property: attr, Value: v.String()})
	})
}
