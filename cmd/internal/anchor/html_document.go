package anchor

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// MarkerClass is the class attribute carried by every highlight marker.
	MarkerClass = "browser-jam-highlight"
	// MarkerIDAttr carries the highlight id on a marker.
	MarkerIDAttr = "data-highlight-id"
)

var errForeignNode = errors.New("anchor: node does not belong to an html document")

// HTMLDocument implements Document over a parsed golang.org/x/net/html tree.
type HTMLDocument struct {
	root *html.Node
	sel  *Range
}

// NewHTMLDocument wraps an already parsed tree. root should be the
// html.DocumentNode returned by html.Parse.
func NewHTMLDocument(root *html.Node) *HTMLDocument {
	return &HTMLDocument{root: root}
}

// ParseHTML parses r into an HTMLDocument.
func ParseHTML(r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewHTMLDocument(root), nil
}

// Render writes the current tree as HTML.
func (d *HTMLDocument) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Select sets the active selection.
func (d *HTMLDocument) Select(r Range) {
	d.sel = &r
}

func (d *HTMLDocument) Selection() (Range, bool) {
	if d.sel == nil {
		return Range{}, false
	}
	return *d.sel, true
}

func (d *HTMLDocument) ClearSelection() { d.sel = nil }

func (d *HTMLDocument) Root() Node { return d.root }

func (d *HTMLDocument) Parent(n Node) Node {
	h := asHTML(n)
	if h == nil || h.Parent == nil {
		return nil
	}
	return h.Parent
}

func (d *HTMLDocument) Children(n Node) []Node {
	h := asHTML(n)
	if h == nil {
		return nil
	}
	var out []Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func (d *HTMLDocument) Kind(n Node) Kind {
	h := asHTML(n)
	if h == nil {
		return KindOther
	}
	switch h.Type {
	case html.ElementNode:
		return KindElement
	case html.TextNode:
		return KindText
	default:
		return KindOther
	}
}

func (d *HTMLDocument) Tag(n Node) string {
	h := asHTML(n)
	if h == nil || h.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(h.Data)
}

func (d *HTMLDocument) ID(n Node) string {
	h := asHTML(n)
	if h == nil || h.Type != html.ElementNode {
		return ""
	}
	return attr(h, "id")
}

func (d *HTMLDocument) Text(n Node) string {
	h := asHTML(n)
	if h == nil {
		return ""
	}
	if h.Type == html.TextNode {
		return h.Data
	}
	var b strings.Builder
	walkHTML(h, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func (d *HTMLDocument) ElementByID(id string) Node {
	if id == "" {
		return nil
	}
	var found *html.Node
	walkHTML(d.root, func(c *html.Node) {
		if found == nil && c.Type == html.ElementNode && attr(c, "id") == id {
			found = c
		}
	})
	if found == nil {
		return nil
	}
	return found
}

func (d *HTMLDocument) SplitText(n Node, offset int) (Node, error) {
	h := asHTML(n)
	if h == nil {
		return nil, errForeignNode
	}
	if h.Type != html.TextNode {
		return nil, errors.New("anchor: split of non-text node")
	}
	if h.Parent == nil {
		return nil, errors.New("anchor: split of detached text node")
	}
	runes := []rune(h.Data)
	if offset < 0 || offset > len(runes) {
		return nil, fmt.Errorf("anchor: split offset %d out of range [0,%d]", offset, len(runes))
	}

	rest := &html.Node{Type: html.TextNode, Data: string(runes[offset:])}
	h.Data = string(runes[:offset])
	h.Parent.InsertBefore(rest, h.NextSibling)
	return rest, nil
}

func (d *HTMLDocument) Wrap(n Node, highlightID string) (Node, error) {
	h := asHTML(n)
	if h == nil {
		return nil, errForeignNode
	}
	parent := h.Parent
	if parent == nil {
		return nil, errors.New("anchor: wrap of detached node")
	}

	marker := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: MarkerIDAttr, Val: highlightID},
		},
	}
	parent.InsertBefore(marker, h)
	parent.RemoveChild(h)
	marker.AppendChild(h)
	return marker, nil
}

func (d *HTMLDocument) Markers(highlightID string) []Node {
	var out []Node
	walkHTML(d.root, func(c *html.Node) {
		if isMarker(c) && attr(c, MarkerIDAttr) == highlightID {
			out = append(out, c)
		}
	})
	return out
}

func (d *HTMLDocument) Unwrap(marker Node) error {
	m := asHTML(marker)
	if m == nil {
		return errForeignNode
	}
	parent := m.Parent
	if parent == nil {
		return errors.New("anchor: unwrap of detached marker")
	}
	for c := m.FirstChild; c != nil; c = m.FirstChild {
		m.RemoveChild(c)
		parent.InsertBefore(c, m)
	}
	parent.RemoveChild(m)
	return nil
}

func asHTML(n Node) *html.Node {
	h, _ := n.(*html.Node)
	return h
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isMarker(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "span" {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == MarkerClass {
			return true
		}
	}
	return false
}

// walkHTML visits n and its descendants in document order. fn must not mutate the tree.
func walkHTML(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, fn)
	}
}

// runeLen is the code point length used for all offsets.
func runeLen(s string) int { return utf8.RuneCountInString(s) }
