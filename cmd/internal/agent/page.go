package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"browserjam/cmd/internal/anchor"
)

// Page is the browsing surface the agent observes and drives.
type Page interface {
	URL() string
	Navigate(ctx context.Context, url string) error
	Document() anchor.Document
	// Scroll returns the vertical offset and the maximum scrollable offset.
	Scroll() (offset, max float64)
	ScrollTo(offset float64)
}

// PanelView is what the UI renders for an open comment panel.
type PanelView struct {
	HighlightID string
	Comments    []Comment
	CanDelete   bool
}

// UI renders remote presence and the comment panel.
type UI interface {
	MoveCursor(x, y float64)
	ShowClick(x, y float64)
	ShowPanel(v PanelView)
	HidePanel()
}

// HTMLPage is a headless Page: it fetches a URL and keeps the parsed DOM.
// Scrolling is virtual over a fixed height.
type HTMLPage struct {
	hc        *http.Client
	url       string
	doc       *anchor.HTMLDocument
	offset    float64
	scrollMax float64
}

// NewHTMLPage returns an empty page. Call Navigate to load it.
func NewHTMLPage(hc *http.Client, scrollMax float64) *HTMLPage {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTMLPage{hc: hc, scrollMax: scrollMax}
}

func (p *HTMLPage) URL() string { return p.url }

func (p *HTMLPage) Document() anchor.Document {
	if p.doc == nil {
		return nil
	}
	return p.doc
}

// HTML exposes the concrete document for rendering and selection.
func (p *HTMLPage) HTML() *anchor.HTMLDocument { return p.doc }

func (p *HTMLPage) Scroll() (float64, float64) { return p.offset, p.scrollMax }

func (p *HTMLPage) ScrollTo(offset float64) {
	switch {
	case offset < 0:
		offset = 0
	case offset > p.scrollMax:
		offset = p.scrollMax
	}
	p.offset = offset
}

// Navigate fetches target and replaces the document.
func (p *HTMLPage) Navigate(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent: fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: fetch %s: status %d", target, resp.StatusCode)
	}

	doc, err := anchor.ParseHTML(resp.Body)
	if err != nil {
		return err
	}
	p.doc = doc
	p.url = target
	p.offset = 0
	return nil
}

// LogUI renders presence as structured log lines.
type LogUI struct {
	Log *slog.Logger
}

func (u LogUI) MoveCursor(x, y float64) { u.Log.Debug("ui.cursor", "x", x, "y", y) }

func (u LogUI) ShowClick(x, y float64) { u.Log.Info("ui.click", "x", x, "y", y) }

func (u LogUI) ShowPanel(v PanelView) {
	u.Log.Info("ui.panel.show", "highlight_id", v.HighlightID, "comments", len(v.Comments), "can_delete", v.CanDelete)
}

func (u LogUI) HidePanel() { u.Log.Info("ui.panel.hide") }
