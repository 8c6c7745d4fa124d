package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"browserjam/cmd/identity"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// runGatewaySuite exercises the Store contract. users must share storage
// with st so foreign keys and email joins resolve.
func runGatewaySuite(t *testing.T, st Store, users identity.Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	alice := mustUser(t, users, "alice@x.io")
	bob := mustUser(t, users, "bob@x.io")

	t.Run("sessions", func(t *testing.T) {
		if _, err := st.CreateSession(ctx, "s-1", base); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if _, err := st.CreateSession(ctx, "s-1", base); !errors.Is(err, ErrConflict) {
			t.Fatalf("duplicate CreateSession: expected ErrConflict, got %v", err)
		}

		got, err := st.GetSession(ctx, "s-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.URL != nil {
			t.Fatalf("new session must have no url, got %q", *got.URL)
		}
		if _, err := st.GetSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("url first writer wins", func(t *testing.T) {
		mustSession(t, st, "s-url", base)

		ok, err := st.BindSessionURL(ctx, "s-url", "https://a.example/1")
		if err != nil || !ok {
			t.Fatalf("first bind: ok=%v err=%v", ok, err)
		}
		ok, err = st.BindSessionURL(ctx, "s-url", "https://a.example/2")
		if err != nil || ok {
			t.Fatalf("second bind: ok=%v err=%v", ok, err)
		}
		assertURL(t, st, "s-url", "https://a.example/1")

		if err := st.SetSessionURL(ctx, "s-url", "https://a.example/3"); err != nil {
			t.Fatalf("SetSessionURL: %v", err)
		}
		assertURL(t, st, "s-url", "https://a.example/3")
	})

	t.Run("participants are idempotent", func(t *testing.T) {
		mustSession(t, st, "s-p", base)
		if _, err := st.BindSessionURL(ctx, "s-p", "https://p.example/"); err != nil {
			t.Fatalf("BindSessionURL: %v", err)
		}

		for i := 0; i < 3; i++ {
			if err := st.AddParticipant(ctx, "s-p", bob.ID, base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("AddParticipant #%d: %v", i, err)
			}
		}

		got, err := st.ListRecentSessions(ctx, bob.ID, 0)
		if err != nil {
			t.Fatalf("ListRecentSessions: %v", err)
		}
		if len(got) != 1 || got[0].SessionID != "s-p" || !got[0].JoinedAt.Equal(base) {
			t.Fatalf("unexpected sessions: %+v", got)
		}

		if err := st.AddParticipant(ctx, "missing", bob.ID, base); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("recent sessions newest first with url only", func(t *testing.T) {
		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("s-r-%02d", i)
			mustSession(t, st, id, base)
			if _, err := st.BindSessionURL(ctx, id, "https://r.example/"+id); err != nil {
				t.Fatalf("BindSessionURL: %v", err)
			}
			if err := st.AddParticipant(ctx, id, alice.ID, base.Add(time.Duration(i)*time.Hour)); err != nil {
				t.Fatalf("AddParticipant: %v", err)
			}
		}
		mustSession(t, st, "s-r-nourl", base)
		if err := st.AddParticipant(ctx, "s-r-nourl", alice.ID, base.Add(100*time.Hour)); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}

		got, err := st.ListRecentSessions(ctx, alice.ID, 10)
		if err != nil {
			t.Fatalf("ListRecentSessions: %v", err)
		}
		if len(got) != 10 {
			t.Fatalf("len=%d want 10", len(got))
		}
		if got[0].SessionID != "s-r-11" || got[9].SessionID != "s-r-02" {
			t.Fatalf("unexpected order: first=%s last=%s", got[0].SessionID, got[9].SessionID)
		}
		for i := 1; i < len(got); i++ {
			if got[i].JoinedAt.After(got[i-1].JoinedAt) {
				t.Fatalf("not descending at %d", i)
			}
		}
	})

	t.Run("highlights comments cascade", func(t *testing.T) {
		mustSession(t, st, "s-h", base)

		h := Highlight{
			ID:        "jam-h1",
			SessionID: "s-h",
			UserID:    alice.ID,
			PageURL:   "https://h.example/",
			Parts: []v1.HighlightPart{
				{AnchorPath: "div#a > p", NodeIndex: 0, StartOffset: 1, EndOffset: 4, Text: "ell", HighlightID: "jam-h1"},
				{AnchorPath: "div#a > p:nth-of-type(2)", NodeIndex: 2, StartOffset: 0, EndOffset: 2, Text: "wo", HighlightID: "jam-h1"},
			},
			CreatedAt: base,
		}

		ok, err := st.InsertHighlight(ctx, h)
		if err != nil || !ok {
			t.Fatalf("first insert: ok=%v err=%v", ok, err)
		}
		ok, err = st.InsertHighlight(ctx, h)
		if err != nil || ok {
			t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
		}

		bad := h
		bad.ID = "jam-h2"
		if _, err := st.InsertHighlight(ctx, bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("mismatched part ids: expected ErrInvalidInput, got %v", err)
		}

		hs, err := st.ListHighlights(ctx, "s-h", "https://h.example/")
		if err != nil {
			t.Fatalf("ListHighlights: %v", err)
		}
		if len(hs) != 1 || !reflect.DeepEqual(hs[0].Parts, h.Parts) {
			t.Fatalf("unexpected highlights: %+v", hs)
		}
		if other, _ := st.ListHighlights(ctx, "s-h", "https://other.example/"); len(other) != 0 {
			t.Fatalf("highlights leaked across pages: %+v", other)
		}

		for i, c := range []Comment{
			{ID: "c-2", HighlightID: "jam-h1", UserID: bob.ID, Text: "second", CreatedAt: base.Add(2 * time.Second)},
			{ID: "c-1", HighlightID: "jam-h1", UserID: alice.ID, Text: "first", CreatedAt: base.Add(time.Second)},
		} {
			if _, err := st.InsertComment(ctx, c); err != nil {
				t.Fatalf("InsertComment #%d: %v", i, err)
			}
		}
		if _, err := st.InsertComment(ctx, Comment{ID: "c-x", HighlightID: "jam-none", UserID: bob.ID, Text: "x"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown highlight: expected ErrNotFound, got %v", err)
		}

		cs, err := st.ListComments(ctx, "jam-h1")
		if err != nil {
			t.Fatalf("ListComments: %v", err)
		}
		if len(cs) != 2 || cs[0].Text != "first" || cs[1].Text != "second" {
			t.Fatalf("unexpected order: %+v", cs)
		}
		if cs[0].AuthorEmail != "alice@x.io" || cs[1].AuthorEmail != "bob@x.io" {
			t.Fatalf("unexpected author emails: %q %q", cs[0].AuthorEmail, cs[1].AuthorEmail)
		}

		ok, err = st.DeleteHighlight(ctx, "s-other", "jam-h1")
		if err != nil || ok {
			t.Fatalf("DeleteHighlight from another session: ok=%v err=%v", ok, err)
		}
		if cs, _ := st.ListComments(ctx, "jam-h1"); len(cs) != 2 {
			t.Fatalf("foreign delete removed comments: %+v", cs)
		}

		ok, err = st.DeleteHighlight(ctx, "s-h", "jam-h1")
		if err != nil || !ok {
			t.Fatalf("DeleteHighlight: ok=%v err=%v", ok, err)
		}
		ok, err = st.DeleteHighlight(ctx, "s-h", "jam-h1")
		if err != nil || ok {
			t.Fatalf("second DeleteHighlight: ok=%v err=%v", ok, err)
		}

		cs, err = st.ListComments(ctx, "jam-h1")
		if err != nil || len(cs) != 0 {
			t.Fatalf("comments must cascade: %+v %v", cs, err)
		}
		hs, err = st.ListHighlights(ctx, "s-h", "https://h.example/")
		if err != nil || len(hs) != 0 {
			t.Fatalf("highlight must be gone: %+v %v", hs, err)
		}
	})
}

func mustUser(t *testing.T, users identity.Store, email string) identity.User {
	t.Helper()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{Email: email, PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func mustSession(t *testing.T, st Store, id string, now time.Time) {
	t.Helper()
	if _, err := st.CreateSession(context.Background(), id, now); err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
}

func assertURL(t *testing.T, st Store, id, want string) {
	t.Helper()
	got, err := st.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.URL == nil || *got.URL != want {
		t.Fatalf("url=%v want %q", got.URL, want)
	}
}
