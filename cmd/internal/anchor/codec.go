package anchor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"browserjam/cmd/identity/ids"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// HighlightIDPrefix prefixes every generated highlight id.
const HighlightIDPrefix = "jam-"

var (
	errNotText    = errors.New("anchor: node index does not name a text node")
	errNodeIndex  = errors.New("anchor: node index out of range")
	errBadOffsets = errors.New("anchor: offsets out of range")
	errMissingID  = errors.New("anchor: highlight id missing")
)

// NewHighlightID returns a time-ordered, globally unique highlight id.
func NewHighlightID(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	return HighlightIDPrefix + id, nil
}

// Codec serializes selections and applies or removes highlight markers.
// A Codec is not safe for concurrent use on the same Document.
type Codec struct {
	log *slog.Logger
	now func() time.Time
}

// NewCodec constructs a Codec. now may be nil.
func NewCodec(log *slog.Logger, now func() time.Time) *Codec {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{log: log, now: now}
}

// Serialize describes r under a freshly generated highlight id.
func (c *Codec) Serialize(doc Document, r Range) ([]v1.HighlightPart, error) {
	if r.empty() {
		return nil, nil
	}
	id, err := NewHighlightID(c.now())
	if err != nil {
		return nil, fmt.Errorf("highlight id: %w", err)
	}
	return Serialize(doc, r, id), nil
}

// SerializeSelection serializes the document's active selection, if any.
func (c *Codec) SerializeSelection(doc Document) ([]v1.HighlightPart, error) {
	r, ok := doc.Selection()
	if !ok {
		return nil, nil
	}
	return c.Serialize(doc, r)
}

// Deserialize wraps the text each part names in a highlight marker and
// clears the selection. Parts that no longer resolve are skipped with a
// warning. It returns how many parts were applied. Applying the same parts
// twice nests markers.
func (c *Codec) Deserialize(doc Document, parts []v1.HighlightPart) int {
	applied := 0

	// Reverse document order: wrapping a later text node never shifts the
	// node index or nth-of-type ordinal of an earlier one.
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if err := applyPart(doc, p); err != nil {
			c.log.Warn("anchor.part.skip",
				"highlight_id", p.HighlightID,
				"anchor_path", p.AnchorPath,
				"node_index", p.NodeIndex,
				"err", err,
			)
			continue
		}
		applied++
	}

	doc.ClearSelection()
	return applied
}

// Remove unwraps every marker of highlightID and returns how many were removed.
// Adjacent text nodes are left unmerged.
func (c *Codec) Remove(doc Document, highlightID string) int {
	removed := 0
	for _, m := range doc.Markers(highlightID) {
		if err := doc.Unwrap(m); err != nil {
			c.log.Warn("anchor.marker.unwrap.fail", "highlight_id", highlightID, "err", err)
			continue
		}
		removed++
	}
	return removed
}

func applyPart(doc Document, p v1.HighlightPart) error {
	if p.HighlightID == "" {
		return errMissingID
	}

	parent, err := Resolve(doc, p.AnchorPath)
	if err != nil {
		return err
	}

	children := doc.Children(parent)
	if p.NodeIndex < 0 || p.NodeIndex >= len(children) {
		return fmt.Errorf("%w: %d of %d", errNodeIndex, p.NodeIndex, len(children))
	}
	target := children[p.NodeIndex]
	if doc.Kind(target) != KindText {
		return errNotText
	}

	n := runeLen(doc.Text(target))
	if p.StartOffset < 0 || p.EndOffset > n || p.StartOffset >= p.EndOffset {
		return fmt.Errorf("%w: [%d,%d) of %d", errBadOffsets, p.StartOffset, p.EndOffset, n)
	}

	if p.EndOffset < n {
		if _, err := doc.SplitText(target, p.EndOffset); err != nil {
			return err
		}
	}
	if p.StartOffset > 0 {
		if target, err = doc.SplitText(target, p.StartOffset); err != nil {
			return err
		}
	}

	_, err = doc.Wrap(target, p.HighlightID)
	return err
}
