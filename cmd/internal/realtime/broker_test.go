package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"browserjam/cmd/identity"
	"browserjam/cmd/internal/store"
	"browserjam/cmd/security/token"
	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
)

const testPage = "https://docs.example/guide"

type brokerFixture struct {
	broker *Broker
	store  *store.InMemoryStore
	users  *identity.MemoryStore
	tokens *token.Manager
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	t.Helper()

	users := identity.NewMemoryStore()
	st := store.NewInMemoryStore(func(ctx context.Context, id string) (string, error) {
		u, err := users.GetUserByID(ctx, id)
		return u.Email, err
	})
	tokens, err := token.NewManager(token.DefaultConfig())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroker(log, st, tokens, WithMetrics(metrics), WithUserDirectory(userLookup{users}))

	if _, err := st.CreateSession(context.Background(), "s-1", time.Now()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &brokerFixture{broker: b, store: st, users: users, tokens: tokens}
}

type userLookup struct{ s identity.Store }

func (u userLookup) UserByID(ctx context.Context, id string) (identity.User, error) {
	return u.s.GetUserByID(ctx, id)
}

// login creates a user and returns a token for it.
func (f *brokerFixture) login(t *testing.T, email string) (identity.User, string) {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), identity.CreateUserInput{Email: email, PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok, _, err := f.tokens.Issue(u.ID, u.Email, time.Now().UTC())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return u, tok
}

// join binds a fresh client and returns it with its queue drained.
func (f *brokerFixture) join(t *testing.T, connID, tok, page string) *Client {
	t.Helper()
	c := NewClient(connID, 64)
	f.broker.Connect(c)
	f.broker.Dispatch(context.Background(), c, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{
		SessionID: "s-1",
		URL:       page,
		Token:     tok,
	}))
	got := drain(c)
	if len(got) == 0 || got[0].Type != v1.TypeSessionJoined {
		t.Fatalf("%s: expected session-joined first, got %+v", connID, got)
	}
	return c
}

func mustEnv(t *testing.T, typ string, payload any) v1.Envelope {
	t.Helper()
	env, err := v1.NewEnvelope(typ, "", payload, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func typesOf(envs []v1.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func errorCode(t *testing.T, envs []v1.Envelope) string {
	t.Helper()
	if len(envs) != 1 || envs[0].Type != v1.TypeError {
		t.Fatalf("expected one error envelope, got %v", typesOf(envs))
	}
	var p v1.ErrorPayload
	if err := envs[0].Decode(&p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return p.Code
}

func highlightParts(id string) []v1.HighlightPart {
	return []v1.HighlightPart{
		{AnchorPath: "main#content > p", NodeIndex: 0, StartOffset: 0, EndOffset: 5, Text: "Hello", HighlightID: id},
	}
}

func TestBroker_JoinUnknownSessionStaysUnbound(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)

	c := NewClient("c-1", 8)
	f.broker.Dispatch(context.Background(), c, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{SessionID: "nope"}))

	if code := errorCode(t, drain(c)); code != "unknown_session" {
		t.Fatalf("code=%q", code)
	}
	if c.Binding().Bound() {
		t.Fatalf("client must stay unbound")
	}
}

func TestBroker_JoinMissingSessionID(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)

	c := NewClient("c-1", 8)
	f.broker.Dispatch(context.Background(), c, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{SessionID: "  "}))

	if code := errorCode(t, drain(c)); code != "bad_join" {
		t.Fatalf("code=%q", code)
	}
}

func TestBroker_NoRebinding(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)

	c := f.join(t, "c-1", "", testPage)
	f.broker.Dispatch(context.Background(), c, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{SessionID: "s-1"}))

	if code := errorCode(t, drain(c)); code != "already_joined" {
		t.Fatalf("code=%q", code)
	}
}

func TestBroker_InvalidTokenJoinsAnonymously(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	_, tok := f.login(t, "a@x.io")
	ctx := context.Background()

	anon := f.join(t, "anon", "v4.public.garbage", testPage)
	peer := f.join(t, "peer", tok, testPage)

	if anon.Binding().Authenticated() {
		t.Fatalf("invalid token must not authenticate")
	}

	f.broker.Dispatch(ctx, anon, mustEnv(t, v1.TypeNewHighlight, highlightParts("jam-anon")))
	f.broker.Dispatch(ctx, anon, mustEnv(t, v1.TypeUserNavigated, v1.UserNavigatedPayload{NewURL: "https://evil.example/"}))

	if got := drain(peer); len(got) != 0 {
		t.Fatalf("anonymous mutations must be dropped, peer got %v", typesOf(got))
	}
	if got := drain(anon); len(got) != 0 {
		t.Fatalf("anonymous mutations must be silent, sender got %v", typesOf(got))
	}
	hs, _ := f.store.ListHighlights(ctx, "s-1", testPage)
	if len(hs) != 0 {
		t.Fatalf("anonymous highlight persisted: %+v", hs)
	}
	sess, _ := f.store.GetSession(ctx, "s-1")
	if sess.URL == nil || *sess.URL != testPage {
		t.Fatalf("session url changed by anonymous navigation: %v", sess.URL)
	}
}

func TestBroker_AnonymousCommentAndDeleteAreDropped(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	_, tok := f.login(t, "alice@x.io")

	a := f.join(t, "a", tok, testPage)
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewHighlight, highlightParts("jam-1")))
	anon := f.join(t, "anon", "", testPage)
	drain(a)

	f.broker.Dispatch(ctx, anon, mustEnv(t, v1.TypeNewComment, v1.NewCommentPayload{HighlightID: "jam-1", Text: "drive-by"}))
	f.broker.Dispatch(ctx, anon, mustEnv(t, v1.TypeDeleteHighlight, v1.HighlightRefPayload{HighlightID: "jam-1"}))

	if got := drain(a); len(got) != 0 {
		t.Fatalf("member got %v from anonymous mutations", typesOf(got))
	}
	if got := drain(anon); len(got) != 0 {
		t.Fatalf("anonymous sender got %v", typesOf(got))
	}
	cs, err := f.store.ListComments(ctx, "jam-1")
	if err != nil || len(cs) != 0 {
		t.Fatalf("anonymous comment stored: %+v %v", cs, err)
	}
	hs, err := f.store.ListHighlights(ctx, "s-1", testPage)
	if err != nil || len(hs) != 1 || hs[0].ID != "jam-1" {
		t.Fatalf("anonymous delete removed highlight: %+v %v", hs, err)
	}
}

func TestBroker_DeleteIsScopedToSession(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	_, aliceTok := f.login(t, "alice@x.io")
	_, malloryTok := f.login(t, "mallory@x.io")

	a := f.join(t, "a", aliceTok, testPage)
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewHighlight, highlightParts("jam-1")))
	drain(a)

	if _, err := f.store.CreateSession(ctx, "s-2", time.Now()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	m := NewClient("m", 16)
	f.broker.Connect(m)
	f.broker.Dispatch(ctx, m, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{SessionID: "s-2", URL: testPage, Token: malloryTok}))
	drain(m)

	f.broker.Dispatch(ctx, m, mustEnv(t, v1.TypeDeleteHighlight, v1.HighlightRefPayload{HighlightID: "jam-1"}))

	if got := drain(m); len(got) != 0 {
		t.Fatalf("other session got %v", typesOf(got))
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("owning session got %v", typesOf(got))
	}
	hs, err := f.store.ListHighlights(ctx, "s-1", testPage)
	if err != nil || len(hs) != 1 {
		t.Fatalf("highlight deleted from another session: %+v %v", hs, err)
	}
}

func TestBroker_AuthenticatedJoinBindsURLAndParticipant(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	alice, aliceTok := f.login(t, "alice@x.io")
	_, bobTok := f.login(t, "bob@x.io")

	f.join(t, "a", aliceTok, testPage+"?jamSessionId=s-1#top")
	f.join(t, "b", bobTok, "https://docs.example/other")

	sess, err := f.store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.URL == nil || *sess.URL != testPage {
		t.Fatalf("first writer must win with canonical url, got %v", sess.URL)
	}

	recent, err := f.store.ListRecentSessions(ctx, alice.ID, 0)
	if err != nil || len(recent) != 1 || recent[0].SessionID != "s-1" {
		t.Fatalf("participant not recorded: %+v %v", recent, err)
	}
}

func TestBroker_EphemeralRelayExcludesSender(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()

	a := f.join(t, "a", "", testPage)
	b := f.join(t, "b", "", testPage)
	unbound := NewClient("u", 8)

	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeMouseMove, v1.PointerPayload{X: 10, Y: 20}))
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeUserClick, v1.PointerPayload{X: 1, Y: 2}))
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeUserScroll, v1.ScrollPayload{ScrollTopRatio: 1.7}))
	f.broker.Dispatch(ctx, unbound, mustEnv(t, v1.TypeMouseMove, v1.PointerPayload{X: 5, Y: 5}))

	got := drain(b)
	want := []string{v1.TypeMouseMoveRemote, v1.TypeRemoteClickShow, v1.TypeRemoteScrollUpdate}
	if len(got) != len(want) {
		t.Fatalf("peer got %v want %v", typesOf(got), want)
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("peer got %v want %v", typesOf(got), want)
		}
	}

	var sp v1.ScrollPayload
	if err := got[2].Decode(&sp); err != nil || sp.ScrollTopRatio != 1 {
		t.Fatalf("scroll ratio must be clamped: %+v %v", sp, err)
	}
	if echo := drain(a); len(echo) != 0 {
		t.Fatalf("sender must not receive its own ephemeral events: %v", typesOf(echo))
	}
	if u := drain(unbound); len(u) != 0 {
		t.Fatalf("unbound client got %v", typesOf(u))
	}
}

func TestBroker_HighlightPersistBroadcastAndReplay(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	_, tok := f.login(t, "alice@x.io")

	a := f.join(t, "a", tok, testPage)
	b := f.join(t, "b", "", testPage)

	hl := mustEnv(t, v1.TypeNewHighlight, highlightParts("jam-1"))
	f.broker.Dispatch(ctx, a, hl)
	f.broker.Dispatch(ctx, a, hl)

	if echo := drain(a); len(echo) != 0 {
		t.Fatalf("author must not get its own highlight: %v", typesOf(echo))
	}
	got := drain(b)
	if len(got) != 1 || got[0].Type != v1.TypeRemoteHighlight {
		t.Fatalf("peer must get exactly one remote-highlight, got %v", typesOf(got))
	}
	var parts []v1.HighlightPart
	if err := got[0].Decode(&parts); err != nil || len(parts) != 1 || parts[0].HighlightID != "jam-1" {
		t.Fatalf("unexpected parts: %+v %v", parts, err)
	}

	// Late joiner on the same page gets the persisted highlight.
	late := NewClient("late", 16)
	f.broker.Dispatch(ctx, late, mustEnv(t, v1.TypeJoinSession, v1.JoinSessionPayload{SessionID: "s-1", URL: testPage}))
	replay := drain(late)
	if len(replay) != 2 || replay[0].Type != v1.TypeSessionJoined || replay[1].Type != v1.TypeRemoteHighlight {
		t.Fatalf("unexpected replay: %v", typesOf(replay))
	}

	// Invalid parts are dropped.
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewHighlight, []v1.HighlightPart{}))
	if got := drain(b); len(got) != 0 {
		t.Fatalf("empty highlight must be dropped, got %v", typesOf(got))
	}
}

func TestBroker_CommentsAndDeleteReachEveryone(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	alice, tok := f.login(t, "alice@x.io")

	a := f.join(t, "a", tok, testPage)
	b := f.join(t, "b", "", testPage)

	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewHighlight, highlightParts("jam-1")))
	drain(b)

	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewComment, v1.NewCommentPayload{HighlightID: "jam-1", Text: "  nice  "}))
	for _, c := range []*Client{a, b} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != v1.TypeCommentAdded {
			t.Fatalf("%s: expected comment-added, got %v", c.ConnectionID, typesOf(got))
		}
		var p v1.CommentPayload
		if err := got[0].Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Text != "nice" || p.UserID != alice.ID || p.AuthorEmail != "alice@x.io" || p.CommentID == "" {
			t.Fatalf("unexpected comment: %+v", p)
		}
	}

	// Comment on an unknown highlight is dropped silently.
	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeNewComment, v1.NewCommentPayload{HighlightID: "jam-x", Text: "?"}))
	if got := drain(a); len(got) != 0 {
		t.Fatalf("failed comment must be silent, got %v", typesOf(got))
	}

	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeDeleteHighlight, v1.HighlightRefPayload{HighlightID: "jam-1"}))
	for _, c := range []*Client{a, b} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != v1.TypeHighlightDeleted {
			t.Fatalf("%s: expected highlight-deleted, got %v", c.ConnectionID, typesOf(got))
		}
	}

	cs, err := f.store.ListComments(ctx, "jam-1")
	if err != nil || len(cs) != 0 {
		t.Fatalf("comments must cascade: %+v %v", cs, err)
	}
}

func TestBroker_NavigationRedirectsPeers(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)
	ctx := context.Background()
	_, tok := f.login(t, "alice@x.io")

	a := f.join(t, "a", tok, testPage)
	b := f.join(t, "b", "", testPage)

	f.broker.Dispatch(ctx, a, mustEnv(t, v1.TypeUserNavigated, v1.UserNavigatedPayload{NewURL: "https://docs.example/next?page=2"}))

	if echo := drain(a); len(echo) != 0 {
		t.Fatalf("navigator must not be redirected: %v", typesOf(echo))
	}
	got := drain(b)
	if len(got) != 1 || got[0].Type != v1.TypeForceRedirect {
		t.Fatalf("expected force-redirect, got %v", typesOf(got))
	}
	var p v1.ForceRedirectPayload
	if err := got[0].Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, err := url.Parse(p.NewURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.Path != "/next" || u.Query().Get("page") != "2" || u.Query().Get(v1.SessionQueryParam) != "s-1" {
		t.Fatalf("unexpected redirect url: %s", p.NewURL)
	}

	sess, _ := f.store.GetSession(ctx, "s-1")
	if sess.URL == nil || *sess.URL != "https://docs.example/next?page=2" {
		t.Fatalf("navigation must overwrite url, got %v", sess.URL)
	}
	if a.Binding().URL != "https://docs.example/next?page=2" {
		t.Fatalf("connection url not updated: %q", a.Binding().URL)
	}
}

func TestBroker_DisconnectDropsEmptyRoom(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)

	a := f.join(t, "a", "", testPage)
	b := f.join(t, "b", "", testPage)
	if n := f.broker.Hub().Room("s-1").Len(); n != 2 {
		t.Fatalf("room size=%d", n)
	}

	f.broker.Disconnect(a)
	f.broker.Dispatch(context.Background(), b, mustEnv(t, v1.TypeMouseMove, v1.PointerPayload{}))
	if got := drain(a); len(got) != 0 {
		t.Fatalf("disconnected client received %v", typesOf(got))
	}

	f.broker.Disconnect(b)
	if f.broker.Hub().Len() != 0 {
		t.Fatalf("empty room must be removed")
	}
}

func TestBroker_BadEnvelope(t *testing.T) {
	t.Parallel()
	f := newBrokerFixture(t)

	c := NewClient("c", 8)
	f.broker.Dispatch(context.Background(), c, v1.Envelope{V: "v0", Type: v1.TypeMouseMove, Payload: json.RawMessage(`{}`)})
	if code := errorCode(t, drain(c)); code != "bad_envelope" {
		t.Fatalf("code=%q", code)
	}
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                   "",
		"https://a.example/p":                "https://a.example/p",
		"https://a.example/p#frag":           "https://a.example/p",
		"https://a.example/p?jamSessionId=x": "https://a.example/p",
		"https://a.example/p?b=2&jamSessionId=x&a=1": "https://a.example/p?a=1&b=2",
	}
	for in, want := range cases {
		if got := CanonicalURL(in); got != want {
			t.Fatalf("CanonicalURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestBroker_EventMetricsIgnoreClientTypeNames(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	st := store.NewInMemoryStore(nil)
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)), st, nil, WithMetrics(metrics))
	c := NewClient("c", 1024)

	for i := 0; i < 200; i++ {
		typ := fmt.Sprintf("junk-%d", i)
		b.RateLimited(c, v1.Envelope{V: v1.Version, Type: typ})
		b.Dispatch(context.Background(), c, v1.Envelope{V: v1.Version, Type: typ})
	}
	b.RateLimited(c, v1.Envelope{V: v1.Version, Type: v1.TypeMouseMove})

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range fams {
		if mf.GetName() != "browserjam_realtime_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var typ, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "type":
					typ = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			got[typ+"/"+outcome] = m.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"unknown/rate_limited":    200,
		"unknown/invalid":         200,
		"mouse-move/rate_limited": 1,
	}
	if len(got) != len(want) {
		t.Fatalf("series=%v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("series %s=%v want %v (all: %v)", k, got[k], v, got)
		}
	}
}
