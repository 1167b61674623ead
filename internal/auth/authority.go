package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultRotationInterval = 30 * time.Second

// Token is one issued credential and its validity window.
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authority issues tokens and answers validity queries against its token set.
type Authority struct {
	mu       sync.RWMutex
	tokens   map[string]time.Time
	interval time.Duration
	now      func() time.Time
	newValue func() string
}

type AuthorityOption func(*Authority)

// WithClock replaces the wall clock used for issuance and validation.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthority(interval time.Duration, opts ...AuthorityOption) *Authority {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	a := &Authority{
		tokens:   make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
		newValue: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authority) RotationInterval() time.Duration {
	return a.interval
}

// Issue creates a token valid for one rotation interval and prunes every
// token that has already expired, within one critical section.
func (a *Authority) Issue() Token {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	tok := Token{
		Value:     a.newValue(),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.interval),
	}
	a.tokens[tok.Value] = tok.ExpiresAt
	for value, expiresAt := range a.tokens {
		if !now.Before(expiresAt) {
			delete(a.tokens, value)
		}
	}
	return tok
}

// IsValid is true iff token is held and its expiry is strictly in the future.
// It never prunes.
func (a *Authority) IsValid(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	a.mu.RLock()
	expiresAt, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	return a.now().Before(expiresAt)
}

func (a *Authority) Validate(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if !a.IsValid(token) {
		return fmt.Errorf("%w: unknown or expired token", ErrUnauthorized)
	}
	return nil
}

// Len returns the number of tokens currently held, expired or not.
func (a *Authority) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokens)
}

var _ Validator = (*Authority)(nil)
