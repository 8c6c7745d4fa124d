// Package main provides a CI-friendly smoke test for a running browserjam
// server.
//
// It validates:
//   - register/login and session creation over REST
//   - handshake + subprotocol selection
//   - authenticated and anonymous joins
//   - ephemeral relay (mouse-move)
//   - highlight fanout and duplicate suppression
//   - comment fanout with author email, and the REST comment listing
//   - highlight deletion fanout
//   - anonymous mutations are dropped
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = pflag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin   = pflag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = pflag.String("email", "smoke@example.com", "Account used for the authenticated client")
		password = pflag.String("password", "smoke-password", "Password for --email")
		page     = pflag.String("page", "https://example.com/smoke", "Page URL both clients join")
		timeout  = pflag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = pflag.BoolP("verbose", "v", false, "Verbose output")
	)
	pflag.Parse()

	wsURL, err := wsURLFromBase(*baseURL)
	if err != nil {
		fatalf("invalid --base: %v", err)
	}
	if err := validateWSURL(wsURL); err != nil {
		fatalf("invalid --base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	tok, userEmail := mustLogin(root, hc, *baseURL, *email, *password)
	sessionID := mustCreateSession(root, hc, *baseURL)
	if *verbose {
		fmt.Printf("session=%s user=%s\n", sessionID, userEmail)
	}

	a := mustConnect(root, "A", wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, a, sessionID, *page, tok, true, *timeout)
	mustJoin(root, b, sessionID, *page, "", false, *timeout)

	// Ephemeral relay.
	mustWriteWithTimeout(root, a.conn, mustEnvelope(v1.TypeMouseMove, v1.PointerPayload{X: 10, Y: 20}), *timeout)
	b.mustReadUntilType(root, v1.TypeMouseMoveRemote, *timeout, nil)

	// Highlight fanout, then a duplicate that must not be rebroadcast.
	highlightID := fmt.Sprintf("jam-smoke-%d", time.Now().UnixNano())
	parts := []v1.HighlightPart{{AnchorPath: "body > p", NodeIndex: 0, StartOffset: 0, EndOffset: 5, Text: "smoke", HighlightID: highlightID}}
	mustWriteWithTimeout(root, a.conn, mustEnvelope(v1.TypeNewHighlight, parts), *timeout)
	hl := b.mustReadUntilType(root, v1.TypeRemoteHighlight, *timeout, nil)
	var gotParts []v1.HighlightPart
	if err := json.Unmarshal(hl.Payload, &gotParts); err != nil || len(gotParts) != 1 || gotParts[0].HighlightID != highlightID {
		fatalf("remote-highlight mismatch: %s (err=%v)", string(hl.Payload), err)
	}
	mustWriteWithTimeout(root, a.conn, mustEnvelope(v1.TypeNewHighlight, parts), *timeout)
	mustAssertNoType(root, b, v1.TypeRemoteHighlight, 1200*time.Millisecond)

	// Comments reach everyone, sender included.
	text := "hello jam 👋"
	mustWriteWithTimeout(root, a.conn, mustEnvelope(v1.TypeNewComment, v1.NewCommentPayload{HighlightID: highlightID, Text: text}), *timeout)
	for _, c := range []*smokeClient{a, b} {
		env := c.mustReadUntilType(root, v1.TypeCommentAdded, *timeout, nil)
		var p v1.CommentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal comment-added (%s): %v", c.name, err)
		}
		if p.HighlightID != highlightID || p.Text != text || p.AuthorEmail == "" {
			fatalf("comment-added mismatch (%s): %+v", c.name, p)
		}
	}
	mustCommentsContain(root, hc, *baseURL, highlightID, text)

	// Anonymous mutations are dropped.
	anon := []v1.HighlightPart{{AnchorPath: "body > p", NodeIndex: 0, StartOffset: 0, EndOffset: 1, Text: "s", HighlightID: highlightID + "-anon"}}
	mustWriteWithTimeout(root, b.conn, mustEnvelope(v1.TypeNewHighlight, anon), *timeout)
	mustAssertNoType(root, a, v1.TypeRemoteHighlight, 1200*time.Millisecond)

	// Deletion reaches everyone.
	mustWriteWithTimeout(root, a.conn, mustEnvelope(v1.TypeDeleteHighlight, v1.HighlightRefPayload{HighlightID: highlightID}), *timeout)
	a.mustReadUntilType(root, v1.TypeHighlightDeleted, *timeout, nil)
	b.mustReadUntilType(root, v1.TypeHighlightDeleted, *timeout, nil)

	fmt.Printf("OK: session=%s highlight=%s\n", sessionID, highlightID)
}

func wsURLFromBase(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, hc *http.Client, base, email, password string) (token, userEmail string) {
	creds := map[string]string{"email": email, "password": password}

	status, body := doJSON(parent, hc, http.MethodPost, base+"/api/auth/register", creds)
	if status != http.StatusCreated && status != http.StatusConflict {
		fatalf("register: status=%d body=%s", status, body)
	}

	status, body = doJSON(parent, hc, http.MethodPost, base+"/api/auth/login", creds)
	if status != http.StatusOK {
		fatalf("login: status=%d body=%s", status, body)
	}
	var out struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Token == "" {
		fatalf("login: bad response %s (err=%v)", body, err)
	}
	return out.Token, out.User.Email
}

func mustCreateSession(parent context.Context, hc *http.Client, base string) string {
	status, body := doJSON(parent, hc, http.MethodPost, base+"/session/create", nil)
	if status != http.StatusOK {
		fatalf("create session: status=%d body=%s", status, body)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.SessionID == "" {
		fatalf("create session: bad response %s (err=%v)", body, err)
	}
	return out.SessionID
}

func mustCommentsContain(parent context.Context, hc *http.Client, base, highlightID, text string) {
	status, body := doJSON(parent, hc, http.MethodGet, base+"/comments/"+url.PathEscape(highlightID), nil)
	if status != http.StatusOK {
		fatalf("list comments: status=%d body=%s", status, body)
	}
	var out []v1.CommentPayload
	if err := json.Unmarshal(body, &out); err != nil {
		fatalf("list comments: %v", err)
	}
	for _, c := range out {
		if c.Text == text {
			return
		}
	}
	fatalf("list comments: %q not found in %s", text, body)
}

func doJSON(parent context.Context, hc *http.Client, method, target string, in any) (int, []byte) {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(parent, method, target, rd)
	if err != nil {
		fatalf("build request: %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, target, err)
	}
	return resp.StatusCode, body
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func mustJoin(parent context.Context, c *smokeClient, sessionID, page, token string, wantAuth bool, stepTimeout time.Duration) {
	env := mustEnvelope(v1.TypeJoinSession, v1.JoinSessionPayload{
		SessionID: sessionID,
		URL:       page,
		Token:     token,
	})
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeSessionJoined, stepTimeout, nil)

	var p v1.SessionJoinedPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal session-joined payload (%s): %v", c.name, err)
	}
	if p.SessionID != sessionID {
		fatalf("session-joined id mismatch (%s): got=%q want=%q", c.name, p.SessionID, sessionID)
	}
	if p.Authenticated != wantAuth {
		fatalf("session-joined authenticated=%v want=%v (%s)", p.Authenticated, wantAuth, c.name)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

func mustEnvelope(typ string, payload any) v1.Envelope {
	env, err := v1.NewEnvelope(typ, "", payload, time.Now().UTC())
	if err != nil {
		fatalf("build %s: %v", typ, err)
	}
	return env
}
