package authapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"browserjam/cmd/identity"
	"browserjam/cmd/security/password"
	"browserjam/cmd/security/token"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *token.Manager) {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := identity.NewService(log, identity.NewMemoryStore(), identity.NewPasswordHasher(pw))
	tokens, err := token.NewManager(token.DefaultConfig())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	h, err := NewHandler(log, cfg, users, tokens)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /whoami", RequireBearer(tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := ClaimsFromContext(r.Context())
		WriteJSON(w, http.StatusOK, map[string]string{"uid": c.UserID, "email": c.Email})
	})))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, tokens
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

func TestRegisterLoginFlow(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, Config{MaxBodyBytes: 1 << 10})

	resp, body := postJSON(t, ts.URL+"/api/auth/register", `{"email":"a@x.io","password":"pw"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status=%d body=%v", resp.StatusCode, body)
	}
	if body["email"] != "a@x.io" || body["userId"] == "" {
		t.Fatalf("unexpected register body: %v", body)
	}

	resp, body = postJSON(t, ts.URL+"/api/auth/register", `{"email":"A@x.io","password":"other"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status=%d", resp.StatusCode)
	}

	resp, body = postJSON(t, ts.URL+"/api/auth/login", `{"email":"a@x.io","password":"pw"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status=%d body=%v", resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	user, _ := body["user"].(map[string]any)
	if tok == "" || user["email"] != "a@x.io" {
		t.Fatalf("unexpected login body: %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	who, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	defer func() { _ = who.Body.Close() }()
	if who.StatusCode != http.StatusOK {
		t.Fatalf("whoami status=%d", who.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, Config{})

	for name, body := range map[string]string{
		"bad json":      `{"email":`,
		"unknown field": `{"email":"a@x.io","password":"pw","admin":true}`,
		"bad email":     `{"email":"nope","password":"pw"}`,
		"no password":   `{"email":"a@x.io","password":""}`,
	} {
		resp, _ := postJSON(t, ts.URL+"/api/auth/register", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", name, resp.StatusCode)
		}
	}
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, Config{})

	postJSON(t, ts.URL+"/api/auth/register", `{"email":"a@x.io","password":"pw"}`)

	resp, body := postJSON(t, ts.URL+"/api/auth/login", `{"email":"a@x.io","password":"nope"}`)
	if resp.StatusCode != http.StatusUnauthorized || errCode(body) != "invalid_credentials" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	resp, _ = postJSON(t, ts.URL+"/api/auth/login", `{"email":"ghost@x.io","password":"pw"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user status=%d", resp.StatusCode)
	}
}

func TestLoginThrottledPerIP(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, Config{LoginIPMax: 2, LoginIPWindow: time.Minute})

	for i := 0; i < 2; i++ {
		resp, _ := postJSON(t, ts.URL+"/api/auth/login", `{"email":"a@x.io","password":"x"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status=%d", i, resp.StatusCode)
		}
	}
	resp, body := postJSON(t, ts.URL+"/api/auth/login", `{"email":"a@x.io","password":"x"}`)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestRequireBearer(t *testing.T) {
	t.Parallel()
	ts, tokens := newTestServer(t, Config{})

	expired, _, _ := tokens.Issue("u-1", "a@x.io", time.Now().Add(-30*24*time.Hour))

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Basic abc",
		"garbage": "Bearer nope",
		"expired": "Bearer " + expired,
	} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want 401", name, resp.StatusCode)
		}
	}
}
