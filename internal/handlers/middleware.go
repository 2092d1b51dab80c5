package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/libris-hq/apiserver/internal/auth"
	"github.com/libris-hq/apiserver/types"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "jwt"

type contextKey string

const contextClaimsKey contextKey = "claims"

// TokenVerifier validates session tokens. *auth.TokenService satisfies it.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// RequireAuth rejects requests without a valid session token and stores the
// token claims in the request context.
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := sessionToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Not authorized, token not available")
				return
			}

			claims, err := tokens.Verify(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					writeError(w, http.StatusUnauthorized, "Session expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "Not authorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authorized")
			return
		}
		if claims.Role != types.RoleAdmin {
			writeError(w, http.StatusForbidden, "Not authorized, admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(auth.Claims)
	return claims, ok
}

// sessionToken prefers the session cookie and falls back to a bearer header.
func sessionToken(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value), nil
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
