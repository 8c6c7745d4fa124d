package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"browserjam/cmd/internal/anchor"
	v1 "browserjam/shared/contracts/realtime/v1"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []v1.Envelope
	inbox  chan v1.Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan v1.Envelope, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Send(_ context.Context, env v1.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) (v1.Envelope, error) {
	select {
	case env := <-f.inbox:
		return env, nil
	case <-f.closed:
		return v1.Envelope{}, errors.New("closed")
	case <-ctx.Done():
		return v1.Envelope{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Sent() []v1.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]v1.Envelope(nil), f.sent...)
}

func (f *fakeTransport) types() []string {
	var out []string
	for _, env := range f.Sent() {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeTransport) push(t *testing.T, typ string, payload any) {
	t.Helper()
	env, err := v1.NewEnvelope(typ, "", payload, time.Now())
	if err != nil {
		t.Fatalf("NewEnvelope(%s): %v", typ, err)
	}
	f.inbox <- env
}

type fakePage struct {
	url       string
	doc       *anchor.HTMLDocument
	offset    float64
	scrollMax float64
	navigated []string
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Navigate(_ context.Context, u string) error {
	p.navigated = append(p.navigated, u)
	p.url = u
	return nil
}

func (p *fakePage) Document() anchor.Document {
	if p.doc == nil {
		return nil
	}
	return p.doc
}

func (p *fakePage) Scroll() (float64, float64) { return p.offset, p.scrollMax }

func (p *fakePage) ScrollTo(offset float64) { p.offset = offset }

type recordingUI struct {
	cursor []float64
	clicks int
	panels []PanelView
	hidden int
}

func (u *recordingUI) MoveCursor(x, y float64) { u.cursor = []float64{x, y} }
func (u *recordingUI) ShowClick(_, _ float64)  { u.clicks++ }
func (u *recordingUI) ShowPanel(v PanelView)   { u.panels = append(u.panels, v) }
func (u *recordingUI) HidePanel()              { u.hidden++ }

type staticComments map[string][]v1.CommentPayload

func (s staticComments) Comments(_ context.Context, id string) ([]v1.CommentPayload, error) {
	return s[id], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDoc(t *testing.T, src string) *anchor.HTMLDocument {
	t.Helper()
	doc, err := anchor.ParseHTML(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	return doc
}

// firstText returns the first text node containing substr.
func firstText(doc *anchor.HTMLDocument, substr string) anchor.Node {
	var found anchor.Node
	var walk func(n anchor.Node)
	walk = func(n anchor.Node) {
		if found != nil {
			return
		}
		if doc.Kind(n) == anchor.KindText && strings.Contains(doc.Text(n), substr) {
			found = n
			return
		}
		for _, c := range doc.Children(n) {
			walk(c)
		}
	}
	walk(doc.Root())
	return found
}

type harness struct {
	agent *Agent
	tr    *fakeTransport
	page  *fakePage
	ui    *recordingUI
	kv    *MemoryKV
	clock *clock
}

func newHarness(t *testing.T, pageURL string, comments CommentSource) *harness {
	t.Helper()
	h := &harness{
		tr:    newFakeTransport(),
		page:  &fakePage{url: pageURL, scrollMax: 1000},
		ui:    &recordingUI{},
		kv:    NewMemoryKV(),
		clock: &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	a, err := New(Config{
		Page:     h.page,
		UI:       h.ui,
		KV:       h.kv,
		Dial:     func(context.Context) (Transport, error) { return h.tr, nil },
		Comments: comments,
		Log:      discardLog(),
		Now:      h.clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.tr = h.tr
	h.agent = a
	return h
}
