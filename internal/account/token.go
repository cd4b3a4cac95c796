package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wizardbeardstudio/open-transfer-go/internal/platform/clock"
)

const tokenRefreshMargin = 30 * time.Second

// TokenSource mints short-lived HS256 service tokens for calls to the
// Account Service and reuses them until close to expiry.
type TokenSource struct {
	mu      sync.Mutex
	secret  []byte
	subject string
	ttl     time.Duration
	clk     clock.Clock

	cached    string
	expiresAt time.Time
}

func NewTokenSource(secret, subject string, ttl time.Duration, clk clock.Clock) *TokenSource {
	return &TokenSource{
		secret:  []byte(secret),
		subject: subject,
		ttl:     ttl,
		clk:     clk,
	}
}

func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	if s.cached != "" && now.Before(s.expiresAt.Add(-tokenRefreshMargin)) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        s.subject,
		"actor_type": "SERVICE",
		"iat":        now.Unix(),
		"exp":        expires.Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	s.cached = signed
	s.expiresAt = expires
	return signed, nil
}
