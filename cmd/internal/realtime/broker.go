package realtime

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"browserjam/cmd/identity"
	"browserjam/cmd/internal/store"
	"browserjam/cmd/security/token"
	v1 "browserjam/shared/contracts/realtime/v1"
)

// TokenVerifier validates join tokens.
type TokenVerifier interface {
	Verify(tok string, now time.Time) (token.Claims, error)
}

// UserDirectory resolves author emails for comment broadcasts.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (identity.User, error)
}

// Broker routes validated envelopes for one process. It is transport
// independent: the websocket gateway feeds it through Dispatch.
//
// Dispatch for a given Client must not be called concurrently; the gateway
// guarantees this with one read loop per connection.
type Broker struct {
	log     *slog.Logger
	store   store.Store
	tokens  TokenVerifier
	users   UserDirectory
	hub     *Hub
	metrics *Metrics
	now     func() time.Time
}

// BrokerOption customizes a Broker.
type BrokerOption func(*Broker)

// WithMetrics records broker activity on m.
func WithMetrics(m *Metrics) BrokerOption {
	return func(b *Broker) { b.metrics = m }
}

// WithUserDirectory enables author email lookup for new comments.
func WithUserDirectory(u UserDirectory) BrokerOption {
	return func(b *Broker) { b.users = u }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker constructs a Broker. tokens may be nil, in which case every
// join is anonymous.
func NewBroker(log *slog.Logger, st store.Store, tokens TokenVerifier, opts ...BrokerOption) *Broker {
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{
		log:    log,
		store:  st,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(b)
	}
	b.hub = NewHub(log, b.metrics)
	return b
}

// Hub exposes the room registry.
func (b *Broker) Hub() *Hub { return b.hub }

// Connect registers a new connection.
func (b *Broker) Connect(c *Client) {
	b.metrics.connOpened()
	b.log.Debug("broker.connect", "connection_id", c.ConnectionID)
}

// Disconnect drops the connection's room binding and stops its goroutines.
func (b *Broker) Disconnect(c *Client) {
	if bd := c.Binding(); bd.Bound() {
		b.hub.Leave(bd.SessionID, c.ConnectionID)
	}
	c.Close()
	b.metrics.connClosed()
	b.log.Debug("broker.disconnect", "connection_id", c.ConnectionID)
}

// RateLimited records an event dropped by the connection's limiter.
func (b *Broker) RateLimited(c *Client, env v1.Envelope) {
	b.metrics.event(env.Type, outcomeRateLimited)
	b.log.Debug("broker.rate_limited", "connection_id", c.ConnectionID, "type", env.Type)
}

// Dispatch handles one inbound envelope to completion.
func (b *Broker) Dispatch(ctx context.Context, c *Client, env v1.Envelope) {
	if err := env.Validate(); err != nil {
		b.metrics.event(env.Type, outcomeInvalid)
		b.sendError(c, "bad_envelope", err.Error())
		return
	}

	switch {
	case env.Type == v1.TypeJoinSession:
		b.onJoin(ctx, c, env)
	case v1.IsEphemeral(env.Type):
		b.onEphemeral(c, env)
	case v1.IsMutating(env.Type):
		b.onMutation(ctx, c, env)
	default:
		b.metrics.event(env.Type, outcomeRejected)
		b.log.Debug("broker.event.unsupported", "connection_id", c.ConnectionID, "type", env.Type)
	}
}

func (b *Broker) onJoin(ctx context.Context, c *Client, env v1.Envelope) {
	if c.Binding().Bound() {
		b.metrics.event(env.Type, outcomeRejected)
		b.sendError(c, "already_joined", "connection is already bound to a session")
		return
	}

	var p v1.JoinSessionPayload
	if err := env.Decode(&p); err != nil {
		b.metrics.event(env.Type, outcomeInvalid)
		b.sendError(c, "bad_join", "invalid payload")
		return
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		b.metrics.event(env.Type, outcomeInvalid)
		b.sendError(c, "bad_join", "missing sessionId")
		return
	}

	if _, err := b.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.metrics.event(env.Type, outcomeRejected)
			b.sendError(c, "unknown_session", "session does not exist")
			return
		}
		b.metrics.event(env.Type, outcomeStoreError)
		b.log.Error("broker.join.lookup.fail", "connection_id", c.ConnectionID, "session_id", sessionID, "err", err)
		b.sendError(c, "join_failed", "internal error")
		return
	}

	bd := Binding{SessionID: sessionID, URL: CanonicalURL(p.URL)}
	if tok := strings.TrimSpace(p.Token); tok != "" {
		claims, err := b.verify(tok)
		if err != nil {
			b.log.Warn("broker.join.token.invalid", "connection_id", c.ConnectionID, "session_id", sessionID, "err", err)
		} else {
			bd.UserID = claims.UserID
			bd.Email = claims.Email
		}
	}

	if !c.bind(bd) {
		b.sendError(c, "already_joined", "connection is already bound to a session")
		return
	}
	b.hub.Join(sessionID, c)

	if bd.Authenticated() {
		if bd.URL != "" {
			if _, err := b.store.BindSessionURL(ctx, sessionID, bd.URL); err != nil {
				b.log.Error("broker.join.bind_url.fail", "session_id", sessionID, "err", err)
			}
		}
		if err := b.store.AddParticipant(ctx, sessionID, bd.UserID, b.now()); err != nil {
			b.log.Error("broker.join.participant.fail", "session_id", sessionID, "user_id", bd.UserID, "err", err)
		}
	}

	b.metrics.event(env.Type, outcomeOK)
	b.log.Info("broker.join",
		"connection_id", c.ConnectionID,
		"session_id", sessionID,
		"authenticated", bd.Authenticated(),
	)

	b.send(c, v1.TypeSessionJoined, v1.SessionJoinedPayload{
		SessionID:     sessionID,
		ConnectionID:  c.ConnectionID,
		Authenticated: bd.Authenticated(),
	})

	if bd.URL == "" {
		return
	}
	hs, err := b.store.ListHighlights(ctx, sessionID, bd.URL)
	if err != nil {
		b.log.Error("broker.join.replay.fail", "session_id", sessionID, "err", err)
		return
	}
	for _, h := range hs {
		b.send(c, v1.TypeRemoteHighlight, h.Parts)
	}
}

func (b *Broker) verify(tok string) (token.Claims, error) {
	if b.tokens == nil {
		return token.Claims{}, token.ErrInvalidToken
	}
	return b.tokens.Verify(tok, b.now())
}

var ephemeralRelay = map[string]string{
	v1.TypeMouseMove:  v1.TypeMouseMoveRemote,
	v1.TypeUserClick:  v1.TypeRemoteClickShow,
	v1.TypeUserScroll: v1.TypeRemoteScrollUpdate,
}

func (b *Broker) onEphemeral(c *Client, env v1.Envelope) {
	bd := c.Binding()
	if !bd.Bound() {
		b.metrics.event(env.Type, outcomeUnbound)
		return
	}

	var payload any
	switch env.Type {
	case v1.TypeUserScroll:
		var p v1.ScrollPayload
		if err := env.Decode(&p); err != nil {
			b.metrics.event(env.Type, outcomeInvalid)
			return
		}
		p.ScrollTopRatio = clampRatio(p.ScrollTopRatio)
		payload = p
	default:
		var p v1.PointerPayload
		if err := env.Decode(&p); err != nil {
			b.metrics.event(env.Type, outcomeInvalid)
			return
		}
		payload = p
	}

	b.metrics.event(env.Type, outcomeOK)
	b.broadcast(bd.SessionID, ephemeralRelay[env.Type], payload, c.ConnectionID)
}

func (b *Broker) onMutation(ctx context.Context, c *Client, env v1.Envelope) {
	bd := c.Binding()
	if !bd.Bound() {
		b.metrics.event(env.Type, outcomeUnbound)
		b.log.Debug("broker.mutation.drop", "connection_id", c.ConnectionID, "type", env.Type, "reason", "unbound")
		return
	}
	if !bd.Authenticated() {
		b.metrics.event(env.Type, outcomeAnonymous)
		b.log.Debug("broker.mutation.drop", "connection_id", c.ConnectionID, "type", env.Type, "reason", "anonymous")
		return
	}

	switch env.Type {
	case v1.TypeNewHighlight:
		b.onNewHighlight(ctx, c, bd, env)
	case v1.TypeNewComment:
		b.onNewComment(ctx, bd, env)
	case v1.TypeDeleteHighlight:
		b.onDeleteHighlight(ctx, bd, env)
	case v1.TypeUserNavigated:
		b.onUserNavigated(ctx, c, bd, env)
	}
}

func (b *Broker) onNewHighlight(ctx context.Context, c *Client, bd Binding, env v1.Envelope) {
	var parts []v1.HighlightPart
	if err := env.Decode(&parts); err != nil || !validParts(parts) {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}

	now := b.now()
	inserted, err := b.store.InsertHighlight(ctx, store.Highlight{
		ID:        parts[0].HighlightID,
		SessionID: bd.SessionID,
		UserID:    bd.UserID,
		PageURL:   bd.URL,
		Parts:     parts,
		CreatedAt: now,
	})
	if err != nil {
		b.metrics.event(env.Type, outcomeStoreError)
		b.log.Error("broker.highlight.persist.fail", "session_id", bd.SessionID, "highlight_id", parts[0].HighlightID, "err", err)
		return
	}
	if !inserted {
		b.metrics.event(env.Type, outcomeDuplicate)
		return
	}

	b.metrics.event(env.Type, outcomeOK)
	b.broadcast(bd.SessionID, v1.TypeRemoteHighlight, parts, c.ConnectionID)
}

func (b *Broker) onNewComment(ctx context.Context, bd Binding, env v1.Envelope) {
	var p v1.NewCommentPayload
	if err := env.Decode(&p); err != nil {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}
	text := strings.TrimSpace(p.Text)
	hid := strings.TrimSpace(p.HighlightID)
	if hid == "" || text == "" || utf8.RuneCountInString(text) > maxCommentChars {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}

	now := b.now()
	id, err := NewCommentID(now)
	if err != nil {
		b.log.Error("broker.comment.id.fail", "err", err)
		return
	}

	stored, err := b.store.InsertComment(ctx, store.Comment{
		ID:          id,
		HighlightID: hid,
		UserID:      bd.UserID,
		Text:        text,
		CreatedAt:   now,
	})
	if err != nil {
		b.metrics.event(env.Type, outcomeStoreError)
		b.log.Error("broker.comment.persist.fail", "session_id", bd.SessionID, "highlight_id", hid, "err", err)
		return
	}

	email := bd.Email
	if b.users != nil {
		if u, err := b.users.UserByID(ctx, bd.UserID); err == nil {
			email = u.Email
		} else {
			b.log.Warn("broker.comment.author.fail", "user_id", bd.UserID, "err", err)
		}
	}

	b.metrics.event(env.Type, outcomeOK)
	b.broadcast(bd.SessionID, v1.TypeCommentAdded, v1.CommentPayload{
		CommentID:   stored.ID,
		HighlightID: stored.HighlightID,
		UserID:      stored.UserID,
		Text:        stored.Text,
		CreatedAt:   stored.CreatedAt,
		AuthorEmail: email,
	}, "")
}

func (b *Broker) onDeleteHighlight(ctx context.Context, bd Binding, env v1.Envelope) {
	var p v1.HighlightRefPayload
	if err := env.Decode(&p); err != nil || strings.TrimSpace(p.HighlightID) == "" {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}

	deleted, err := b.store.DeleteHighlight(ctx, bd.SessionID, p.HighlightID)
	if err != nil {
		b.metrics.event(env.Type, outcomeStoreError)
		b.log.Error("broker.highlight.delete.fail", "session_id", bd.SessionID, "highlight_id", p.HighlightID, "err", err)
		return
	}
	if !deleted {
		b.metrics.event(env.Type, outcomeDuplicate)
		return
	}

	b.metrics.event(env.Type, outcomeOK)
	b.broadcast(bd.SessionID, v1.TypeHighlightDeleted, v1.HighlightRefPayload{HighlightID: p.HighlightID}, "")
}

func (b *Broker) onUserNavigated(ctx context.Context, c *Client, bd Binding, env v1.Envelope) {
	var p v1.UserNavigatedPayload
	if err := env.Decode(&p); err != nil {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}
	next := CanonicalURL(p.NewURL)
	if next == "" {
		b.metrics.event(env.Type, outcomeInvalid)
		return
	}

	if err := b.store.SetSessionURL(ctx, bd.SessionID, next); err != nil {
		b.metrics.event(env.Type, outcomeStoreError)
		b.log.Error("broker.navigate.persist.fail", "session_id", bd.SessionID, "err", err)
		return
	}
	c.setURL(next)

	b.metrics.event(env.Type, outcomeOK)
	b.broadcast(bd.SessionID, v1.TypeForceRedirect, v1.ForceRedirectPayload{
		NewURL: WithSessionParam(next, bd.SessionID),
	}, c.ConnectionID)
}

// ---- send helpers ----

func (b *Broker) broadcast(sessionID, typ string, payload any, exclude string) {
	env, ok := b.envelope(typ, payload)
	if !ok {
		return
	}
	_, dropped := b.hub.Room(sessionID).Broadcast(env, exclude)
	b.metrics.droppedSends(dropped)
}

func (b *Broker) send(c *Client, typ string, payload any) {
	env, ok := b.envelope(typ, payload)
	if !ok {
		return
	}
	if !c.offer(env) {
		b.metrics.droppedSends(1)
	}
}

func (b *Broker) sendError(c *Client, code, msg string) {
	b.send(c, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

func (b *Broker) envelope(typ string, payload any) (v1.Envelope, bool) {
	now := b.now()
	id, err := NewEnvelopeID(now)
	if err != nil {
		b.log.Error("broker.envelope.id.fail", "type", typ, "err", err)
		return v1.Envelope{}, false
	}
	env, err := v1.NewEnvelope(typ, id, payload, now)
	if err != nil {
		b.log.Error("broker.envelope.encode.fail", "type", typ, "err", err)
		return v1.Envelope{}, false
	}
	return env, true
}

// ---- payload rules ----

func validParts(parts []v1.HighlightPart) bool {
	if len(parts) == 0 || len(parts) > maxHighlightParts {
		return false
	}
	id := strings.TrimSpace(parts[0].HighlightID)
	if id == "" {
		return false
	}
	for _, p := range parts {
		if p.HighlightID != id || strings.TrimSpace(p.AnchorPath) == "" {
			return false
		}
		if p.NodeIndex < 0 || p.StartOffset < 0 || p.EndOffset < p.StartOffset {
			return false
		}
	}
	return true
}

func clampRatio(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// CanonicalURL strips the fragment and the session query parameter so that
// every participant keys a page identically.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Del(v1.SessionQueryParam)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// WithSessionParam appends the session query parameter to raw.
func WithSessionParam(raw, sessionID string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(v1.SessionQueryParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}
