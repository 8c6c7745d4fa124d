package v1

import "time"

// JoinSessionPayload binds a connection to a session room.
// Token is optional; without it the connection is anonymous.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Token     string `json:"token,omitempty"`
}

// SessionJoinedPayload acknowledges a join to the joining connection only.
type SessionJoinedPayload struct {
	SessionID     string `json:"sessionId"`
	ConnectionID  string `json:"connectionId"`
	Authenticated bool   `json:"authenticated"`
}

// PointerPayload carries viewport coordinates for mouse-move and user-click
// and their remote counterparts.
type PointerPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScrollPayload carries a scroll position normalized to [0,1].
type ScrollPayload struct {
	ScrollTopRatio float64 `json:"scrollTopRatio"`
}

// HighlightPart is the contiguous slice of one text node covered by a highlight.
// Offsets count Unicode code points of the text node.
type HighlightPart struct {
	AnchorPath  string `json:"anchorPath"`
	NodeIndex   int    `json:"nodeIndex"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Text        string `json:"text"`
	HighlightID string `json:"highlightId"`
}

// NewCommentPayload appends a comment to a highlight thread.
type NewCommentPayload struct {
	HighlightID string `json:"highlightId"`
	Text        string `json:"text"`
}

// HighlightRefPayload names a highlight; used by delete-highlight and highlight-deleted.
type HighlightRefPayload struct {
	HighlightID string `json:"highlightId"`
}

// UserNavigatedPayload reports that a participant moved to a new page.
type UserNavigatedPayload struct {
	NewURL string `json:"newUrl"`
}

// ForceRedirectPayload instructs peers to follow a navigation.
// NewURL already carries the session query parameter.
type ForceRedirectPayload struct {
	NewURL string `json:"newUrl"`
}

// CommentPayload is a persisted comment joined with its author's email.
// It is the comment-added payload and the REST comment listing item.
type CommentPayload struct {
	CommentID   string    `json:"commentId"`
	HighlightID string    `json:"highlightId"`
	UserID      string    `json:"userId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	AuthorEmail string    `json:"authorEmail"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
