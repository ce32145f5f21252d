package relay

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const (
	// PrincipalContextKey is the context key for the authenticated principal
	PrincipalContextKey contextKey = "principal"
)

// Principal represents an authenticated relay caller
type Principal struct {
	ID string
}

// ErrorType represents the type of authentication error
type ErrorType string

const (
	ErrMissingToken ErrorType = "missing_token"
	ErrInvalidToken ErrorType = "invalid_token"
)

// AuthError represents an authentication-related error
type AuthError struct {
	Type    ErrorType
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Authenticator validates bearer tokens presented to the relay.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// StaticTokens accepts a fixed list of tokens.
type StaticTokens []string

func (s StaticTokens) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, &AuthError{Type: ErrMissingToken, Message: "no token"}
	}
	found := -1
	for i, t := range s {
		if t != "" && subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			found = i
		}
	}
	if found < 0 {
		return nil, &AuthError{Type: ErrInvalidToken, Message: "unknown token"}
	}
	return &Principal{ID: fmt.Sprintf("token-%d", found)}, nil
}

// GetPrincipalFromContext retrieves the authenticated principal from the context
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// Middleware rejects requests without a valid bearer token before they reach
// next.
func Middleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := parseBearer(r.Header.Get("Authorization"))
			if err != nil {
				requestAuth(w, err)
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				requestAuth(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestAuth(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="caldora-relay"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), 0)
}

// parseBearer extracts the token of a "Bearer" Authorization header
func parseBearer(header string) (string, error) {
	if header == "" {
		return "", &AuthError{Type: ErrMissingToken, Message: "missing authorization header"}
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", &AuthError{Type: ErrInvalidToken, Message: "invalid authorization header format"}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &AuthError{Type: ErrMissingToken, Message: "empty bearer token"}
	}
	return token, nil
}
