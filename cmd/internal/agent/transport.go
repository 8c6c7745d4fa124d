package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Transport carries envelopes to and from the broker.
type Transport interface {
	Send(ctx context.Context, env v1.Envelope) error
	Recv(ctx context.Context) (v1.Envelope, error)
	Close() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context) (Transport, error)

// WSTransport is a Transport over coder/websocket.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// DialWS connects to a broker websocket endpoint such as
// ws://localhost:8080/ws.
func DialWS(ctx context.Context, wsURL string, header http.Header) (*WSTransport, error) {
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("agent: dial %s: %w", wsURL, err)
	}
	if conn.Subprotocol() != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("agent: server did not select %s", v1.Subprotocol)
	}
	conn.SetReadLimit(1 << 20)
	return &WSTransport{conn: conn, writeTimeout: 5 * time.Second}, nil
}

// WSURL derives the websocket endpoint from a server base URL:
// http://host:8080 becomes ws://host:8080/ws.
func WSURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("agent: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("agent: missing host in %q", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/ws"
	return u.String(), nil
}

// ShareURL returns pageURL with the session query parameter set.
func ShareURL(pageURL, sessionID string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(v1.SessionQueryParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WSDialer returns a Dialer for wsURL.
func WSDialer(wsURL string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialWS(ctx, wsURL, nil)
	}
}

func (t *WSTransport) Send(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, b)
}

func (t *WSTransport) Recv(ctx context.Context) (v1.Envelope, error) {
	_, b, err := t.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("agent: bad envelope: %w", err)
	}
	return env, nil
}

func (t *WSTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
