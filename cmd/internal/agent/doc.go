// Package agent is the client side of a browserjam session.
//
// An Agent resolves which session a page belongs to, joins it over the
// realtime websocket, mirrors remote effects (cursor, clicks, scroll,
// highlights, navigation) onto a Page and UI, and reports local effects
// back. Scroll echo is suppressed with a two-state gate so that a scroll
// applied from a remote update is not re-reported.
//
// All remote envelopes and local events are consumed by one dispatch loop;
// Page, UI and KV implementations are only called from that loop.
package agent
