package agent

import v1 "browserjam/shared/contracts/realtime/v1"

// Comment is one rendered comment.
type Comment = v1.CommentPayload

// panel is the comment thread bound to one highlight.
type panel struct {
	highlightID string
	comments    []Comment
	canDelete   bool
}

// newPanel binds a panel. Delete is offered only to a user who authored at
// least one comment; the server does not enforce this.
func newPanel(highlightID string, comments []Comment, userID string) *panel {
	p := &panel{highlightID: highlightID, comments: append([]Comment(nil), comments...)}
	p.canDelete = authored(p.comments, userID)
	return p
}

func (p *panel) add(c Comment, userID string) {
	p.comments = append(p.comments, c)
	if userID != "" && c.UserID == userID {
		p.canDelete = true
	}
}

func (p *panel) view() PanelView {
	return PanelView{
		HighlightID: p.highlightID,
		Comments:    append([]Comment(nil), p.comments...),
		CanDelete:   p.canDelete,
	}
}

func authored(comments []Comment, userID string) bool {
	if userID == "" {
		return false
	}
	for _, c := range comments {
		if c.UserID == userID {
			return true
		}
	}
	return false
}
