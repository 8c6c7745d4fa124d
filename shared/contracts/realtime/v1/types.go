// Package v1 defines the Browser Jam realtime protocol v1 contract.
//
// It is shared by the session broker and the client agent so the wire
// format has a single definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated by both sides.
const Subprotocol = "browserjam.realtime.v1"

// SessionQueryParam is the URL query parameter that carries a session id.
const SessionQueryParam = "jamSessionId"

// Client -> server event types (wire-stable).
const (
	TypeJoinSession     = "join-session"
	TypeMouseMove       = "mouse-move"
	TypeUserClick       = "user-click"
	TypeUserScroll      = "user-scroll"
	TypeNewHighlight    = "new-highlight"
	TypeNewComment      = "new-comment"
	TypeDeleteHighlight = "delete-highlight"
	TypeUserNavigated   = "user-navigated"
)

// Server -> client event types (wire-stable).
const (
	TypeSessionJoined      = "session-joined"
	TypeMouseMoveRemote    = "mouse-move-remote"
	TypeRemoteClickShow    = "remote-click-show"
	TypeRemoteScrollUpdate = "remote-scroll-update"
	TypeRemoteHighlight    = "remote-highlight"
	TypeHighlightDeleted   = "highlight-deleted"
	TypeCommentAdded       = "comment-added"
	TypeForceRedirect      = "force-redirect"

	// TypeError is a generic error envelope.
	TypeError = "error"
)

var knownTypes = map[string]struct{}{
	TypeJoinSession:        {},
	TypeMouseMove:          {},
	TypeUserClick:          {},
	TypeUserScroll:         {},
	TypeNewHighlight:       {},
	TypeNewComment:         {},
	TypeDeleteHighlight:    {},
	TypeUserNavigated:      {},
	TypeSessionJoined:      {},
	TypeMouseMoveRemote:    {},
	TypeRemoteClickShow:    {},
	TypeRemoteScrollUpdate: {},
	TypeRemoteHighlight:    {},
	TypeHighlightDeleted:   {},
	TypeCommentAdded:       {},
	TypeForceRedirect:      {},
	TypeError:              {},
}

// IsKnown reports whether typ is a protocol event type.
func IsKnown(typ string) bool {
	_, ok := knownTypes[typ]
	return ok
}

// IsMutating reports whether an event type changes persisted session state.
// Mutating events require an authenticated connection.
func IsMutating(typ string) bool {
	switch typ {
	case TypeNewHighlight, TypeNewComment, TypeDeleteHighlight, TypeUserNavigated:
		return true
	default:
		return false
	}
}

// IsEphemeral reports whether an event type is relayed without persistence.
func IsEphemeral(typ string) bool {
	switch typ {
	case TypeMouseMove, TypeUserClick, TypeUserScroll:
		return true
	default:
		return false
	}
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsKnown(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(e.Payload, dst)
}

// NewEnvelope marshals payload and wraps it into a versioned envelope.
func NewEnvelope(typ, id string, payload any, ts time.Time) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: ts}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = b
	return env, nil
}
