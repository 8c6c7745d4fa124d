package sessionapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"browserjam/cmd/internal/store"
	"browserjam/cmd/security/token"
	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/google/uuid"
)

type fixture struct {
	ts     *httptest.Server
	store  *store.InMemoryStore
	tokens *token.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewInMemoryStore(func(context.Context, string) (string, error) { return "a@x.io", nil })
	tokens, err := token.NewManager(token.DefaultConfig())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), st, tokens)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: st, tokens: tokens}
}

func getJSON(t *testing.T, url, bearer string, dst any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/session/create", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(out.SessionID); err != nil {
		t.Fatalf("session id %q is not a uuid: %v", out.SessionID, err)
	}
	if _, err := f.store.GetSession(context.Background(), out.SessionID); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
}

func TestRecentSessionsRequiresBearer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if code := getJSON(t, f.ts.URL+"/api/sessions", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", code)
	}
	if code := getJSON(t, f.ts.URL+"/api/sessions", "bogus", nil); code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", code)
	}
}

func TestRecentSessionsForUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"s-old", "s-new"} {
		if _, err := f.store.CreateSession(ctx, id, now); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.store.BindSessionURL(ctx, id, "https://x.example/"+id); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if err := f.store.AddParticipant(ctx, id, "u-1", now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("participant: %v", err)
		}
	}

	tok, _, err := f.tokens.Issue("u-1", "a@x.io", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var out []sessionSummary
	if code := getJSON(t, f.ts.URL+"/api/sessions", tok, &out); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(out) != 2 || out[0].SessionID != "s-new" || out[1].URL != "https://x.example/s-old" {
		t.Fatalf("unexpected sessions: %+v", out)
	}
}

func TestListComments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var empty []commentResponse
	if code := getJSON(t, f.ts.URL+"/comments/jam-none", "", &empty); code != http.StatusOK || empty == nil || len(empty) != 0 {
		t.Fatalf("unknown highlight must yield [], got code=%d %v", code, empty)
	}

	if _, err := f.store.CreateSession(ctx, "s", now); err != nil {
		t.Fatalf("create: %v", err)
	}
	parts := []v1.HighlightPart{{AnchorPath: "p", EndOffset: 1, Text: "x", HighlightID: "jam-1"}}
	if _, err := f.store.InsertHighlight(ctx, store.Highlight{ID: "jam-1", SessionID: "s", UserID: "u-1", Parts: parts}); err != nil {
		t.Fatalf("highlight: %v", err)
	}
	for i, text := range []string{"first", "second"} {
		c := store.Comment{ID: text, HighlightID: "jam-1", UserID: "u-1", Text: text, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if _, err := f.store.InsertComment(ctx, c); err != nil {
			t.Fatalf("comment: %v", err)
		}
	}

	var out []commentResponse
	if code := getJSON(t, f.ts.URL+"/comments/jam-1", "", &out); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(out) != 2 || out[0].Text != "first" || out[1].AuthorEmail != "a@x.io" {
		t.Fatalf("unexpected comments: %+v", out)
	}
}
