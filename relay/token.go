package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenSource supplies the bearer token for relay calls. A forced call must
// return a fresh token.
type TokenSource interface {
	Token(ctx context.Context, force bool) (string, error)
}

// StaticToken never changes.
type StaticToken string

func (t StaticToken) Token(context.Context, bool) (string, error) {
	if t == "" {
		return "", errors.New("empty relay token")
	}
	return string(t), nil
}

// FetchFunc obtains a new token and its expiry. A zero expiry never expires.
type FetchFunc func(ctx context.Context) (token string, expiry time.Time, err error)

// RefreshingTokenSource caches a token and fetches a new one when it is
// within skew of expiring.
type RefreshingTokenSource struct {
	fetch FetchFunc
	skew  time.Duration
	now   func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewRefreshingTokenSource(fetch FetchFunc, skew time.Duration) *RefreshingTokenSource {
	return &RefreshingTokenSource{fetch: fetch, skew: skew, now: time.Now}
}

func (s *RefreshingTokenSource) Token(ctx context.Context, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.token != "" && (s.expiry.IsZero() || s.now().Add(s.skew).Before(s.expiry)) {
		return s.token, nil
	}

	token, expiry, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("token source returned an empty token")
	}
	s.token, s.expiry = token, expiry
	return token, nil
}
