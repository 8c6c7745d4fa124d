package anchor

import (
	"math"
	"strings"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// Serialize describes the text covered by r as highlight parts sharing
// highlightID. Every text node the range intersects yields one part, clamped
// to the range; parts whose text is blank are dropped. Returns nil when the
// range is missing, collapsed or covers only whitespace.
func Serialize(doc Document, r Range, highlightID string) []v1.HighlightPart {
	if r.empty() {
		return nil
	}

	ord := indexTree(doc)
	start, ok := ord.boundary(doc, r.StartContainer, r.StartOffset)
	if !ok {
		return nil
	}
	end, ok := ord.boundary(doc, r.EndContainer, r.EndOffset)
	if !ok || !start.less(end) {
		return nil
	}

	var parts []v1.HighlightPart
	eachText(doc, commonAncestor(doc, r.StartContainer, r.EndContainer), func(t Node) {
		pos := ord.pre[t]
		runes := []rune(doc.Text(t))
		n := len(runes)

		// Intersects when start <= (t, n) and end >= (t, 0).
		if (point{pos, n}).less(start) || end.less(point{pos, 0}) {
			return
		}

		s, e := 0, n
		if start.ord == pos {
			s = clamp(start.off, 0, n)
		}
		if end.ord == pos {
			e = clamp(end.off, 0, n)
		}
		if s >= e {
			return
		}

		text := string(runes[s:e])
		if strings.TrimSpace(text) == "" {
			return
		}

		parent := doc.Parent(t)
		parts = append(parts, v1.HighlightPart{
			AnchorPath:  Locate(doc, parent),
			NodeIndex:   indexOf(doc.Children(parent), t),
			StartOffset: s,
			EndOffset:   e,
			Text:        text,
			HighlightID: highlightID,
		})
	})

	if len(parts) == 0 {
		return nil
	}
	return parts
}

// point is a totally ordered position: a node's preorder index plus an offset
// inside it. off=-1 sits before the node's content; math.MaxInt after the
// content of every descendant.
type point struct {
	ord int
	off int
}

func (p point) less(q point) bool {
	if p.ord != q.ord {
		return p.ord < q.ord
	}
	return p.off < q.off
}

type treeIndex struct {
	pre  map[Node]int
	last map[Node]int
}

func indexTree(doc Document) treeIndex {
	ix := treeIndex{pre: make(map[Node]int), last: make(map[Node]int)}
	next := 0
	var visit func(n Node) int
	visit = func(n Node) int {
		ix.pre[n] = next
		last := next
		next++
		for _, c := range doc.Children(n) {
			last = visit(c)
		}
		ix.last[n] = last
		return last
	}
	visit(doc.Root())
	return ix
}

func (ix treeIndex) boundary(doc Document, container Node, offset int) (point, bool) {
	pos, ok := ix.pre[container]
	if !ok {
		return point{}, false
	}
	if doc.Kind(container) != KindElement && container != doc.Root() {
		return point{pos, offset}, true
	}

	children := doc.Children(container)
	if offset >= 0 && offset < len(children) {
		return point{ix.pre[children[offset]], -1}, true
	}
	return point{ix.last[container], math.MaxInt}, true
}

func commonAncestor(doc Document, a, b Node) Node {
	seen := make(map[Node]struct{})
	for n := a; n != nil; n = doc.Parent(n) {
		seen[n] = struct{}{}
	}
	for n := b; n != nil; n = doc.Parent(n) {
		if _, ok := seen[n]; ok {
			return n
		}
	}
	return doc.Root()
}

// eachText visits text nodes at or below n in document order.
func eachText(doc Document, n Node, fn func(Node)) {
	if n == nil {
		return
	}
	if doc.Kind(n) == KindText {
		fn(n)
		return
	}
	for _, c := range doc.Children(n) {
		eachText(doc, c, fn)
	}
}

func indexOf(nodes []Node, n Node) int {
	for i, c := range nodes {
		if c == n {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
