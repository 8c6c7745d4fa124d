package realtime

import (
	"sync"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// Client represents one connected websocket.
//
// Send is never closed by the server so concurrent broadcasters cannot
// panic; done signals the connection goroutines to stop. Close is idempotent.
//
// A Client starts Unbound and becomes Bound on its first valid join. It is
// never rebound.
type Client struct {
	ConnectionID string
	Send         chan v1.Envelope

	mu        sync.RWMutex
	sessionID string
	userID    string
	email     string
	url       string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs an Unbound Client with a bounded send queue.
func NewClient(connectionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnectionID: connectionID,
		Send:         make(chan v1.Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Binding is a snapshot of the client's session state.
type Binding struct {
	SessionID string
	UserID    string
	Email     string
	URL       string
}

// Bound reports whether the client has joined a session.
func (b Binding) Bound() bool { return b.SessionID != "" }

// Authenticated reports whether the join carried a valid token.
func (b Binding) Authenticated() bool { return b.UserID != "" }

// Binding returns the current session state.
func (c *Client) Binding() Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Binding{SessionID: c.sessionID, UserID: c.userID, Email: c.email, URL: c.url}
}

// bind moves the client to Bound. It reports false if already bound.
func (c *Client) bind(b Binding) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return false
	}
	c.sessionID = b.SessionID
	c.userID = b.UserID
	c.email = b.Email
	c.url = b.URL
	return true
}

func (c *Client) setURL(u string) {
	c.mu.Lock()
	c.url = u
	c.mu.Unlock()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. It does not close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the queue is
// full or the client is shutting down.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
