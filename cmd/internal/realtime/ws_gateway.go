package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/gobwas/glob"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Content scripts run on arbitrary sites, so any origin is accepted
	// unless an allow-list is configured.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "*"
)

// GatewayConfig tunes the websocket gateway.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout  time.Duration
	SendQueueSize int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the built-in defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// GatewayConfigFromEnv overlays JAM_WS_* variables onto the defaults.
// Malformed values keep the default.
func GatewayConfigFromEnv() GatewayConfig {
	c := DefaultGatewayConfig()
	c.OriginRequired = envBoolWS("JAM_WS_ORIGIN_REQUIRED", c.OriginRequired)
	c.AllowedOrigins = splitCSV(envStringWS("JAM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins))
	c.WriteTimeout = envDurationWS("JAM_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.SendQueueSize = envIntWS("JAM_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatEvery = envDurationWS("JAM_WS_HEARTBEAT_INTERVAL", c.HeartbeatEvery)
	c.HeartbeatTimeout = envDurationWS("JAM_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envIntWS("JAM_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDurationWS("JAM_WS_RATE_WINDOW", c.RateWindow)
	return c
}

// WSGateway is the websocket entrypoint for the session broker.
//
// It enforces origin policy, subprotocol selection, heartbeats and the
// per-connection rate limit, and hands validated frames to the Broker.
type WSGateway struct {
	log    *slog.Logger
	broker *Broker
	cfg    GatewayConfig

	anyOrigin bool
	origins   []glob.Glob
}

// NewWSGateway constructs a gateway around broker.
func NewWSGateway(log *slog.Logger, broker *Broker, cfg GatewayConfig) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if broker == nil {
		return nil, errors.New("realtime: nil broker")
	}

	def := DefaultGatewayConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}

	g := &WSGateway{log: log, broker: broker, cfg: cfg}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			g.anyOrigin = true
			continue
		}
		pat, err := glob.Compile(strings.ToLower(o), '.', ':')
		if err != nil {
			return nil, fmt.Errorf("realtime: origin pattern %q: %w", o, err)
		}
		g.origins = append(g.origins, pat)
	}
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request and runs the connection until either
// side goes away.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{v1.Subprotocol},
		// Origin was vetted by enforceOrigin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnectionID(time.Now())
	if err != nil {
		g.log.Error("ws.connection_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, g.cfg.SendQueueSize)
	g.broker.Connect(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Room removal happens inside Disconnect before
	// the client is closed, and Send stays open.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.broker.Disconnect(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Reads carry no deadline of their own: a member that only listens is
	// still live while it answers pings, and the heartbeat ends dead peers.
readLoop:
	for {
		env, err := readEnvelope(ctx, conn)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.broker.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "connection_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now()) {
			g.broker.RateLimited(client, env)
			continue readLoop
		}

		g.broker.Dispatch(ctx, client, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- envelope IO ----

type badJSONError struct{ err error }

func (e badJSONError) Error() string { return "bad json: " + e.err.Error() }
func (e badJSONError) Unwrap() error { return e.err }

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, badJSONError{err: err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad badJSONError
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if g.anyOrigin {
		return nil
	}
	for _, pat := range g.origins {
		if pat.Match(origin) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// ---- env helpers ----

func envStringWS(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
