package anchor

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	v1 "browserjam/shared/contracts/realtime/v1"
)

const pageHTML = `<html><head></head><body><div id="main"><p>Hello world</p><p>Second <b>bold</b> tail</p></div><p>Outside</p></body></html>`

func mustParse(t *testing.T, src string) *HTMLDocument {
	t.Helper()
	doc, err := ParseHTML(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	return doc
}

// nthElement returns the n-th (0-based) element with tag in document order.
func nthElement(t *testing.T, doc *HTMLDocument, tag string, n int) *html.Node {
	t.Helper()
	var found []*html.Node
	walkHTML(doc.root, func(c *html.Node) {
		if c.Type == html.ElementNode && c.Data == tag {
			found = append(found, c)
		}
	})
	if len(found) <= n {
		t.Fatalf("no %s #%d", tag, n)
	}
	return found[n]
}

func textChild(t *testing.T, el *html.Node, n int) *html.Node {
	t.Helper()
	i := 0
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if i == n {
				return c
			}
			i++
		}
	}
	t.Fatalf("no text child #%d", n)
	return nil
}

func markerTexts(doc *HTMLDocument, id string) []string {
	var out []string
	for _, m := range doc.Markers(id) {
		out = append(out, doc.Text(m))
	}
	return out
}

func fixedCodec() *Codec {
	return NewCodec(nil, func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
}

func TestLocateStopsAtNearestID(t *testing.T) {
	doc := mustParse(t, pageHTML)

	cases := []struct {
		node *html.Node
		want string
	}{
		{nthElement(t, doc, "div", 0), "div#main"},
		{nthElement(t, doc, "p", 0), "div#main > p"},
		{nthElement(t, doc, "p", 1), "div#main > p:nth-of-type(2)"},
		{nthElement(t, doc, "b", 0), "div#main > p:nth-of-type(2) > b"},
		{nthElement(t, doc, "p", 2), "html > body > p"},
		{textChild(t, nthElement(t, doc, "p", 0), 0), ""},
	}
	for _, tc := range cases {
		if got := Locate(doc, tc.node); got != tc.want {
			t.Fatalf("Locate(%s)=%q want %q", tc.node.Data, got, tc.want)
		}
	}
}

func TestResolveInvertsLocate(t *testing.T) {
	doc := mustParse(t, pageHTML)

	walkHTML(doc.root, func(c *html.Node) {
		if c.Type != html.ElementNode {
			return
		}
		path := Locate(doc, c)
		got, err := Resolve(doc, path)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", path, err)
		}
		if asHTML(got) != c {
			t.Fatalf("Resolve(%q) returned a different node", path)
		}
	})
}

func TestResolveRejectsUnknownPaths(t *testing.T) {
	doc := mustParse(t, pageHTML)

	for _, path := range []string{
		"",
		"html > body > section",
		"div#missing > p",
		"span#main",
		"html > body > p:nth-of-type(3)",
	} {
		if _, err := Resolve(doc, path); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("Resolve(%q)=%v want ErrUnresolved", path, err)
		}
	}

	if _, err := Resolve(doc, "html > body > p:nth-of-type(x)"); err == nil {
		t.Fatalf("expected error for malformed nth-of-type")
	}
}

func TestSerializeWithinOneTextNode(t *testing.T) {
	doc := mustParse(t, pageHTML)
	text := textChild(t, nthElement(t, doc, "p", 0), 0)

	parts, err := fixedCodec().Serialize(doc, Range{StartContainer: text, StartOffset: 0, EndContainer: text, EndOffset: 5})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("parts=%+v", parts)
	}

	p := parts[0]
	if !strings.HasPrefix(p.HighlightID, HighlightIDPrefix) {
		t.Fatalf("highlight id %q lacks prefix", p.HighlightID)
	}
	want := v1.HighlightPart{AnchorPath: "div#main > p", NodeIndex: 0, StartOffset: 0, EndOffset: 5, Text: "Hello", HighlightID: p.HighlightID}
	if p != want {
		t.Fatalf("part=%+v want %+v", p, want)
	}
}

func TestSerializeAcrossElements(t *testing.T) {
	doc := mustParse(t, pageHTML)
	p2 := nthElement(t, doc, "p", 1)

	r := Range{
		StartContainer: textChild(t, p2, 0), StartOffset: 3,
		EndContainer: textChild(t, p2, 1), EndOffset: 3,
	}
	got := Serialize(doc, r, "jam-test")
	want := []v1.HighlightPart{
		{AnchorPath: "div#main > p:nth-of-type(2)", NodeIndex: 0, StartOffset: 3, EndOffset: 7, Text: "ond ", HighlightID: "jam-test"},
		{AnchorPath: "div#main > p:nth-of-type(2) > b", NodeIndex: 0, StartOffset: 0, EndOffset: 4, Text: "bold", HighlightID: "jam-test"},
		{AnchorPath: "div#main > p:nth-of-type(2)", NodeIndex: 2, StartOffset: 0, EndOffset: 3, Text: " ta", HighlightID: "jam-test"},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("parts=%+v\nwant %+v", got, want)
	}
}

func TestSerializeDropsBlankParts(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="x"><p>one</p> <p>two</p></div></body></html>`)

	r := Range{
		StartContainer: textChild(t, nthElement(t, doc, "p", 0), 0), StartOffset: 0,
		EndContainer: textChild(t, nthElement(t, doc, "p", 1), 0), EndOffset: 3,
	}
	parts := Serialize(doc, r, "jam-test")
	if len(parts) != 2 || parts[0].Text != "one" || parts[1].Text != "two" {
		t.Fatalf("parts=%+v", parts)
	}
}

func TestSerializeElementBoundaries(t *testing.T) {
	doc := mustParse(t, pageHTML)
	p1 := nthElement(t, doc, "p", 0)

	parts := Serialize(doc, Range{StartContainer: p1, StartOffset: 0, EndContainer: p1, EndOffset: 1}, "jam-test")
	if len(parts) != 1 || parts[0].Text != "Hello world" || parts[0].EndOffset != 11 {
		t.Fatalf("parts=%+v", parts)
	}
}

func TestSerializeEmptyRange(t *testing.T) {
	doc := mustParse(t, pageHTML)
	text := textChild(t, nthElement(t, doc, "p", 0), 0)

	if parts := Serialize(doc, Range{}, "jam-test"); parts != nil {
		t.Fatalf("zero range gave %+v", parts)
	}
	if parts := Serialize(doc, Range{StartContainer: text, StartOffset: 2, EndContainer: text, EndOffset: 2}, "jam-test"); parts != nil {
		t.Fatalf("collapsed range gave %+v", parts)
	}

	parts, err := fixedCodec().SerializeSelection(doc)
	if err != nil || parts != nil {
		t.Fatalf("SerializeSelection without selection: %+v %v", parts, err)
	}
}

func TestDeserializeReproducesSelection(t *testing.T) {
	doc := mustParse(t, pageHTML)
	p2 := nthElement(t, doc, "p", 1)
	doc.Select(Range{
		StartContainer: textChild(t, p2, 0), StartOffset: 3,
		EndContainer: textChild(t, p2, 1), EndOffset: 3,
	})
	before := doc.Text(doc.Root())

	c := fixedCodec()
	parts, err := c.SerializeSelection(doc)
	if err != nil || len(parts) != 3 {
		t.Fatalf("SerializeSelection: %+v %v", parts, err)
	}

	if n := c.Deserialize(doc, parts); n != 3 {
		t.Fatalf("Deserialize applied %d parts, want 3", n)
	}

	got := markerTexts(doc, parts[0].HighlightID)
	want := []string{parts[0].Text, parts[1].Text, parts[2].Text}
	if !slices.Equal(got, want) {
		t.Fatalf("marker texts=%q want %q", got, want)
	}
	if after := doc.Text(doc.Root()); after != before {
		t.Fatalf("wrapping changed document text:\n%q\n%q", before, after)
	}
	if _, hasSel := doc.Selection(); hasSel {
		t.Fatalf("selection survived deserialize")
	}
}

func TestDeserializeSameParentKeepsIndexes(t *testing.T) {
	doc := mustParse(t, `<html><body><p id="t">aaa<b>bbb</b>ccc</p></body></html>`)
	p := nthElement(t, doc, "p", 0)

	parts := Serialize(doc, Range{
		StartContainer: textChild(t, p, 0), StartOffset: 1,
		EndContainer: textChild(t, p, 1), EndOffset: 2,
	}, "jam-same")
	if len(parts) != 3 {
		t.Fatalf("parts=%+v", parts)
	}

	if n := fixedCodec().Deserialize(doc, parts); n != 3 {
		t.Fatalf("Deserialize applied %d parts, want 3", n)
	}
	if got := markerTexts(doc, "jam-same"); !slices.Equal(got, []string{"aa", "bbb", "cc"}) {
		t.Fatalf("marker texts=%q", got)
	}
}

func TestDeserializeSkipsUnresolvableParts(t *testing.T) {
	doc := mustParse(t, pageHTML)

	parts := []v1.HighlightPart{
		{AnchorPath: "div#main > p", NodeIndex: 0, StartOffset: 6, EndOffset: 11, Text: "world", HighlightID: "jam-1"},
		{AnchorPath: "div#gone > p", NodeIndex: 0, StartOffset: 0, EndOffset: 1, Text: "x", HighlightID: "jam-1"},
		{AnchorPath: "div#main", NodeIndex: 0, StartOffset: 0, EndOffset: 1, Text: "x", HighlightID: "jam-1"},
		{AnchorPath: "html > body > p", NodeIndex: 0, StartOffset: 0, EndOffset: 99, Text: "x", HighlightID: "jam-1"},
	}

	if n := fixedCodec().Deserialize(doc, parts); n != 1 {
		t.Fatalf("Deserialize applied %d parts, want 1", n)
	}
	if got := markerTexts(doc, "jam-1"); !slices.Equal(got, []string{"world"}) {
		t.Fatalf("marker texts=%q", got)
	}
}

func TestRemoveRestoresText(t *testing.T) {
	doc := mustParse(t, pageHTML)
	p2 := nthElement(t, doc, "p", 1)
	before := doc.Text(doc.Root())

	parts := Serialize(doc, Range{
		StartContainer: textChild(t, p2, 0), StartOffset: 0,
		EndContainer: textChild(t, p2, 1), EndOffset: 5,
	}, "jam-rm")
	c := fixedCodec()
	if n := c.Deserialize(doc, parts); n != len(parts) {
		t.Fatalf("Deserialize applied %d of %d parts", n, len(parts))
	}

	if n := c.Remove(doc, "jam-rm"); n != len(parts) {
		t.Fatalf("Remove unwrapped %d of %d markers", n, len(parts))
	}
	if n := len(doc.Markers("jam-rm")); n != 0 {
		t.Fatalf("%d markers left", n)
	}
	if after := doc.Text(doc.Root()); after != before {
		t.Fatalf("text changed:\n%q\n%q", before, after)
	}

	var sb strings.Builder
	if err := doc.Render(&sb); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(sb.String(), MarkerClass) {
		t.Fatalf("rendered html still has markers: %s", sb.String())
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	doc := mustParse(t, pageHTML)
	if n := fixedCodec().Remove(doc, "jam-none"); n != 0 {
		t.Fatalf("Remove=%d want 0", n)
	}
}

func TestMultibyteOffsetsCountCodePoints(t *testing.T) {
	doc := mustParse(t, `<html><body><p id="u">héllo wörld</p></body></html>`)
	text := textChild(t, nthElement(t, doc, "p", 0), 0)

	parts := Serialize(doc, Range{StartContainer: text, StartOffset: 6, EndContainer: text, EndOffset: 11}, "jam-u")
	if len(parts) != 1 || parts[0].Text != "wörld" {
		t.Fatalf("parts=%+v", parts)
	}

	if n := fixedCodec().Deserialize(doc, parts); n != 1 {
		t.Fatalf("Deserialize applied %d parts, want 1", n)
	}
	if got := markerTexts(doc, "jam-u"); !slices.Equal(got, []string{"wörld"}) {
		t.Fatalf("marker texts=%q", got)
	}
}
