package agent

import (
	"net/url"
	"strings"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// Resolution is the outcome of session resolution for one page load.
type Resolution struct {
	SessionID string

	// Initial is true when the id came from the page URL rather than the
	// sticky pointer.
	Initial bool
}

// Resolve picks the session for pageURL. A URL id wins and refreshes the
// stored pointer when it differs; otherwise the stored pointer is adopted.
// ok is false when neither source yields an id.
func Resolve(pageURL string, kv KV) (res Resolution, ok bool, err error) {
	var stored ActiveSession
	hasStored, err := GetJSON(kv, KeyActiveSession, &stored)
	if err != nil {
		return Resolution{}, false, err
	}
	hasStored = hasStored && stored.ID != ""

	if id := sessionParam(pageURL); id != "" {
		if !hasStored || stored.ID != id {
			if err := SetJSON(kv, KeyActiveSession, ActiveSession{ID: id, URL: StripQuery(pageURL)}); err != nil {
				return Resolution{}, false, err
			}
		}
		return Resolution{SessionID: id, Initial: true}, true, nil
	}

	if hasStored {
		return Resolution{SessionID: stored.ID}, true, nil
	}
	return Resolution{}, false, nil
}

// StripQuery drops everything from the first '?' or '#'.
func StripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func sessionParam(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(v1.SessionQueryParam))
}
