package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"browserjam/cmd/internal/anchor"
	v1 "browserjam/shared/contracts/realtime/v1"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrIdle means the page has no session to join.
	ErrIdle = errors.New("agent: no active session")

	// ErrNavigated means a force-redirect moved the page; the caller should
	// run a fresh agent for the new page load.
	ErrNavigated = errors.New("agent: page navigated")
)

// CommentSource fetches a highlight's thread. *APIClient satisfies it.
type CommentSource interface {
	Comments(ctx context.Context, highlightID string) ([]v1.CommentPayload, error)
}

// Config wires an Agent.
type Config struct {
	Page     Page
	UI       UI
	KV       KV
	Dial     Dialer
	Comments CommentSource

	Log *slog.Logger
	Now func() time.Time

	// SuppressWindow and ScrollInterval default to the package constants.
	SuppressWindow time.Duration
	ScrollInterval time.Duration
}

// Agent follows one page load: it joins the resolved session, mirrors
// remote presence and highlights onto the page, and forwards local actions.
type Agent struct {
	log      *slog.Logger
	now      func() time.Time
	page     Page
	ui       UI
	kv       KV
	dial     Dialer
	comments CommentSource
	codec    *anchor.Codec

	gate     *ScrollGate
	throttle *Throttle
	panel    *panel

	tr     Transport
	local  chan LocalEvent
	joined chan struct{}
}

// New validates cfg and returns an Agent.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Page == nil:
		return nil, errors.New("agent: page is required")
	case cfg.KV == nil:
		return nil, errors.New("agent: kv is required")
	case cfg.Dial == nil:
		return nil, errors.New("agent: dialer is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UI == nil {
		cfg.UI = LogUI{Log: cfg.Log}
	}

	return &Agent{
		log:      cfg.Log,
		now:      cfg.Now,
		page:     cfg.Page,
		ui:       cfg.UI,
		kv:       cfg.KV,
		dial:     cfg.Dial,
		comments: cfg.Comments,
		codec:    anchor.NewCodec(cfg.Log, cfg.Now),
		gate:     NewScrollGate(cfg.SuppressWindow),
		throttle: NewThrottle(cfg.ScrollInterval),
		local:    make(chan LocalEvent, 64),
		joined:   make(chan struct{}),
	}, nil
}

// Post queues a local event for the dispatch loop.
func (a *Agent) Post(ctx context.Context, ev LocalEvent) error {
	select {
	case a.local <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Joined is closed once the broker acknowledges the join.
func (a *Agent) Joined() <-chan struct{} { return a.joined }

// Run resolves the session, joins it and dispatches events until ctx ends,
// the transport fails, or a force-redirect navigates the page.
func (a *Agent) Run(ctx context.Context) error {
	pageURL := a.page.URL()
	res, ok, err := Resolve(pageURL, a.kv)
	if err != nil {
		return err
	}
	if !ok {
		a.log.Info("agent.idle", "url", pageURL)
		return ErrIdle
	}

	tr, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()
	a.tr = tr

	if err := a.join(ctx, res, pageURL); err != nil {
		return err
	}

	inbound := make(chan v1.Envelope, 64)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(inbound)
		for {
			env, err := tr.Recv(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("agent: recv: %w", err)
			}
			select {
			case inbound <- env:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case env, ok := <-inbound:
				if !ok {
					return nil
				}
				if err := a.handleRemote(gctx, env); err != nil {
					return err
				}
			case ev := <-a.local:
				if err := a.handleLocal(gctx, ev); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func (a *Agent) join(ctx context.Context, res Resolution, pageURL string) error {
	token, _, err := a.kv.Get(KeyToken)
	if err != nil {
		return err
	}

	a.log.Info("agent.join", "session_id", res.SessionID, "initial", res.Initial, "authenticated", token != "")
	if err := a.send(ctx, v1.TypeJoinSession, v1.JoinSessionPayload{
		SessionID: res.SessionID,
		URL:       StripQuery(pageURL),
		Token:     token,
	}); err != nil {
		return err
	}

	if res.Initial {
		return nil
	}
	// Sticky join: the page moved on without the id in its URL.
	return a.send(ctx, v1.TypeUserNavigated, v1.UserNavigatedPayload{NewURL: pageURL})
}

func (a *Agent) handleRemote(ctx context.Context, env v1.Envelope) error {
	switch env.Type {
	case v1.TypeSessionJoined:
		var p v1.SessionJoinedPayload
		if err := env.Decode(&p); err == nil {
			a.log.Info("agent.joined", "session_id", p.SessionID, "authenticated", p.Authenticated)
		}
		select {
		case <-a.joined:
		default:
			close(a.joined)
		}

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = env.Decode(&p)
		a.log.Warn("agent.remote.error", "code", p.Code, "message", p.Message)

	case v1.TypeMouseMoveRemote:
		var p v1.PointerPayload
		if a.decode(env, &p) {
			a.ui.MoveCursor(p.X, p.Y)
		}

	case v1.TypeRemoteClickShow:
		var p v1.PointerPayload
		if a.decode(env, &p) {
			a.ui.ShowClick(p.X, p.Y)
		}

	case v1.TypeRemoteScrollUpdate:
		var p v1.ScrollPayload
		if a.decode(env, &p) {
			_, maxOffset := a.page.Scroll()
			a.page.ScrollTo(p.ScrollTopRatio * maxOffset)
			a.gate.RemoteApplied(a.now())
		}

	case v1.TypeRemoteHighlight:
		var parts []v1.HighlightPart
		if a.decode(env, &parts) {
			if doc := a.page.Document(); doc != nil {
				a.codec.Deserialize(doc, parts)
			}
		}

	case v1.TypeHighlightDeleted:
		var p v1.HighlightRefPayload
		if a.decode(env, &p) {
			if doc := a.page.Document(); doc != nil {
				a.codec.Remove(doc, p.HighlightID)
			}
			if a.panel != nil && a.panel.highlightID == p.HighlightID {
				a.closePanel()
			}
		}

	case v1.TypeCommentAdded:
		var c v1.CommentPayload
		if a.decode(env, &c) && a.panel != nil && a.panel.highlightID == c.HighlightID {
			a.panel.add(c, a.userID())
			a.ui.ShowPanel(a.panel.view())
		}

	case v1.TypeForceRedirect:
		var p v1.ForceRedirectPayload
		if !a.decode(env, &p) || p.NewURL == "" || p.NewURL == a.page.URL() {
			return nil
		}
		a.log.Info("agent.redirect", "url", p.NewURL)
		if err := a.page.Navigate(ctx, p.NewURL); err != nil {
			return fmt.Errorf("agent: redirect: %w", err)
		}
		return ErrNavigated

	default:
		a.log.Debug("agent.remote.ignored", "type", env.Type)
	}
	return nil
}

func (a *Agent) handleLocal(ctx context.Context, ev LocalEvent) error {
	switch e := ev.(type) {
	case PointerMoved:
		return a.send(ctx, v1.TypeMouseMove, v1.PointerPayload{X: e.X, Y: e.Y})

	case Clicked:
		if e.HighlightID != "" {
			a.openPanel(ctx, e.HighlightID)
		} else if !e.InPanel && a.panel != nil {
			a.closePanel()
		}
		if e.InPanel {
			return nil
		}
		return a.send(ctx, v1.TypeUserClick, v1.PointerPayload{X: e.X, Y: e.Y})

	case Scrolled:
		now := a.now()
		if a.gate.Suppressing(now) || !a.throttle.Allow(now) {
			return nil
		}
		offset, maxOffset := a.page.Scroll()
		return a.send(ctx, v1.TypeUserScroll, v1.ScrollPayload{ScrollTopRatio: ScrollRatio(offset, maxOffset)})

	case SelectionReleased:
		doc := a.page.Document()
		if doc == nil {
			return nil
		}
		parts, err := a.codec.SerializeSelection(doc)
		if err != nil {
			a.log.Warn("agent.highlight.serialize.fail", "err", err)
			return nil
		}
		if len(parts) == 0 {
			return nil
		}
		a.codec.Deserialize(doc, parts)
		return a.send(ctx, v1.TypeNewHighlight, parts)

	case CommentSubmitted:
		text := strings.TrimSpace(e.Text)
		if a.panel == nil || text == "" {
			return nil
		}
		return a.send(ctx, v1.TypeNewComment, v1.NewCommentPayload{HighlightID: a.panel.highlightID, Text: text})

	case DeleteRequested:
		if a.panel == nil || !a.panel.canDelete {
			return nil
		}
		return a.send(ctx, v1.TypeDeleteHighlight, v1.HighlightRefPayload{HighlightID: a.panel.highlightID})

	case PanelDismissed:
		if a.panel != nil {
			a.closePanel()
		}
	}
	return nil
}

func (a *Agent) openPanel(ctx context.Context, highlightID string) {
	var comments []Comment
	if a.comments != nil {
		got, err := a.comments.Comments(ctx, highlightID)
		if err != nil {
			a.log.Warn("agent.comments.fetch.fail", "highlight_id", highlightID, "err", err)
		}
		comments = got
	}
	a.panel = newPanel(highlightID, comments, a.userID())
	a.ui.ShowPanel(a.panel.view())
}

func (a *Agent) closePanel() {
	a.panel = nil
	a.ui.HidePanel()
}

func (a *Agent) userID() string {
	var u StoredUser
	if ok, err := GetJSON(a.kv, KeyUser, &u); err != nil || !ok {
		return ""
	}
	return u.ID
}

func (a *Agent) decode(env v1.Envelope, dst any) bool {
	if err := env.Decode(dst); err != nil {
		a.log.Debug("agent.remote.bad_payload", "type", env.Type, "err", err)
		return false
	}
	return true
}

func (a *Agent) send(ctx context.Context, typ string, payload any) error {
	env, err := v1.NewEnvelope(typ, "", payload, a.now().UTC())
	if err != nil {
		return err
	}
	if err := a.tr.Send(ctx, env); err != nil {
		return fmt.Errorf("agent: send %s: %w", typ, err)
	}
	return nil
}
