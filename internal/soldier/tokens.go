package soldier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/missionctl/internal/auth"
)

var ErrTokenUnavailable = errors.New("soldier: status token unavailable")

// TokenSource supplies the token attached to outgoing status reports.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function into a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// HTTPTokenSource obtains tokens from the commander's token endpoint and
// reuses each one until RefreshBefore ahead of its expiry.
type HTTPTokenSource struct {
	endpoint      string
	client        *http.Client
	refreshBefore time.Duration
	now           func() time.Time

	mu     sync.Mutex
	cached auth.Token
}

func NewHTTPTokenSource(commanderURL string, refreshBefore time.Duration, client *http.Client) *HTTPTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTokenSource{
		endpoint:      strings.TrimRight(strings.TrimSpace(commanderURL), "/") + "/tokens",
		client:        client,
		refreshBefore: refreshBefore,
		now:           time.Now,
	}
}

func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.Value != "" && s.now().Add(s.refreshBefore).Before(s.cached.ExpiresAt) {
		return s.cached.Value, nil
	}
	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.cached = tok
	return tok.Value, nil
}

func (s *HTTPTokenSource) fetch(ctx context.Context) (auth.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return auth.Token{}, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return auth.Token{}, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Token{}, fmt.Errorf("%w: token endpoint status %d", ErrTokenUnavailable, resp.StatusCode)
	}
	var tok auth.Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return auth.Token{}, fmt.Errorf("%w: decode token: %v", ErrTokenUnavailable, err)
	}
	if strings.TrimSpace(tok.Value) == "" {
		return auth.Token{}, fmt.Errorf("%w: empty token", ErrTokenUnavailable)
	}
	return tok, nil
}
