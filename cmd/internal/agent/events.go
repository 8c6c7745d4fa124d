package agent

// LocalEvent is a user action observed on the page.
type LocalEvent interface {
	localEvent()
}

// PointerMoved is a pointer position in page coordinates.
type PointerMoved struct{ X, Y float64 }

// Clicked is a click. HighlightID is set when the target was a highlight
// marker; InPanel when it landed inside the comment panel.
type Clicked struct {
	X, Y        float64
	HighlightID string
	InPanel     bool
}

// Scrolled signals that the page scroll offset changed.
type Scrolled struct{}

// SelectionReleased signals the end of a text selection gesture.
type SelectionReleased struct{}

// CommentSubmitted posts text to the open panel's highlight.
type CommentSubmitted struct{ Text string }

// DeleteRequested asks to delete the open panel's highlight.
type DeleteRequested struct{}

// PanelDismissed closes the comment panel.
type PanelDismissed struct{}

func (PointerMoved) localEvent()      {}
func (Clicked) localEvent()           {}
func (Scrolled) localEvent()          {}
func (SelectionReleased) localEvent() {}
func (CommentSubmitted) localEvent()  {}
func (DeleteRequested) localEvent()   {}
func (PanelDismissed) localEvent()    {}
