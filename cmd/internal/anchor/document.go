package anchor

// Node is an opaque handle to a node of a Document. A nil Node means "none".
type Node interface{}

// Kind classifies nodes for the codec.
type Kind uint8

const (
	KindOther Kind = iota
	KindElement
	KindText
)

// Document is the tree access the codec needs.
//
// Text offsets are counted in Unicode code points.
type Document interface {
	// Root returns the document node (the parent of the top-level element).
	Root() Node
	Parent(n Node) Node
	Children(n Node) []Node
	Kind(n Node) Kind
	// Tag returns the lower-case element name, or "" for non-elements.
	Tag(n Node) string
	// ID returns the element's stable identifier, or "".
	ID(n Node) string
	// Text returns the character data of a text node.
	Text(n Node) string
	ElementByID(id string) Node

	// SplitText truncates n to [0,offset) and inserts a new text node holding
	// the rest immediately after it. The new node is returned.
	SplitText(n Node, offset int) (Node, error)
	// Wrap replaces n with a highlight marker that contains n.
	Wrap(n Node, highlightID string) (Node, error)
	// Markers returns every marker for highlightID in document order.
	Markers(highlightID string) []Node
	// Unwrap moves the marker's children into its place and drops the marker.
	Unwrap(marker Node) error

	Selection() (Range, bool)
	ClearSelection()
}

// Range is a selection between two boundary points.
//
// A boundary in a text node is a code point offset into its data; a boundary
// in an element is a child index.
type Range struct {
	StartContainer Node
	StartOffset    int
	EndContainer   Node
	EndOffset      int
}

// Collapsed reports whether the range selects nothing.
func (r Range) Collapsed() bool {
	return r.StartContainer == r.EndContainer && r.StartOffset == r.EndOffset
}

func (r Range) empty() bool {
	return r.StartContainer == nil || r.EndContainer == nil || r.Collapsed()
}
