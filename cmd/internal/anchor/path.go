package anchor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const pathSep = " > "

// ErrUnresolved is returned when an anchor path names no element in the document.
var ErrUnresolved = errors.New("anchor: path does not resolve")

// Locate returns the anchor path of element el: from the nearest ancestor
// (or el itself) carrying an id down to el. Elements without an id are named
// by tag, with :nth-of-type(k) appended when they are not the first sibling
// of that tag. Returns "" when el is not an element.
func Locate(doc Document, el Node) string {
	var segs []string
	for n := el; n != nil && doc.Kind(n) == KindElement; n = doc.Parent(n) {
		tag := doc.Tag(n)
		if id := doc.ID(n); id != "" {
			segs = append(segs, tag+"#"+id)
			break
		}
		if k := ordinalOfType(doc, n); k > 1 {
			tag += ":nth-of-type(" + strconv.Itoa(k) + ")"
		}
		segs = append(segs, tag)
	}

	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, pathSep)
}

// Resolve finds the element named by path in the current document.
func Resolve(doc Document, path string) (Node, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnresolved)
	}

	var cur Node
	for i, raw := range strings.Split(path, pathSep) {
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, err
		}

		switch {
		case i == 0 && seg.id != "":
			cur = doc.ElementByID(seg.id)
			if cur != nil && doc.Tag(cur) != seg.tag {
				cur = nil
			}
		case i == 0:
			cur = childOfType(doc, doc.Root(), seg)
		default:
			cur = childOfType(doc, cur, seg)
		}

		if cur == nil {
			return nil, fmt.Errorf("%w: %q at %q", ErrUnresolved, path, raw)
		}
	}
	return cur, nil
}

type segment struct {
	tag string
	id  string
	nth int
}

func parseSegment(raw string) (segment, error) {
	s := strings.TrimSpace(raw)
	seg := segment{nth: 1}

	if i := strings.Index(s, ":nth-of-type("); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return segment{}, fmt.Errorf("anchor: malformed segment %q", raw)
		}
		n, err := strconv.Atoi(s[i+len(":nth-of-type(") : len(s)-1])
		if err != nil || n < 1 {
			return segment{}, fmt.Errorf("anchor: malformed ordinal in %q", raw)
		}
		seg.nth = n
		s = s[:i]
	}

	if tag, id, ok := strings.Cut(s, "#"); ok {
		seg.id = id
		s = tag
	}

	seg.tag = strings.ToLower(s)
	if seg.tag == "" {
		return segment{}, fmt.Errorf("anchor: segment %q has no tag", raw)
	}
	return seg, nil
}

// ordinalOfType is the 1-based position of n among its parent's element
// children with the same tag.
func ordinalOfType(doc Document, n Node) int {
	parent := doc.Parent(n)
	if parent == nil {
		return 1
	}
	tag := doc.Tag(n)
	k := 0
	for _, c := range doc.Children(parent) {
		if doc.Kind(c) == KindElement && doc.Tag(c) == tag {
			k++
		}
		if c == n {
			return k
		}
	}
	return 1
}

func childOfType(doc Document, parent Node, seg segment) Node {
	if parent == nil {
		return nil
	}
	k := 0
	for _, c := range doc.Children(parent) {
		if doc.Kind(c) != KindElement || doc.Tag(c) != seg.tag {
			continue
		}
		if seg.id != "" {
			if doc.ID(c) == seg.id {
				return c
			}
			continue
		}
		k++
		if k == seg.nth {
			return c
		}
	}
	return nil
}
