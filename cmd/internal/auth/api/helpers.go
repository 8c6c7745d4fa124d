package authapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"browserjam/cmd/identity"
	"browserjam/cmd/security/token"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email}
}

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(tok string, now time.Time) (token.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(token.Claims)
	return c, ok
}

// RequireBearer rejects requests without a valid "Authorization: Bearer"
// token with 401 and stores the claims on the request context otherwise.
func RequireBearer(v Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := v.Verify(raw, time.Now().UTC())
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
