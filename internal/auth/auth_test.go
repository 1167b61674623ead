package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/missionctl/internal/testutil/testlog"
)

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTokenWindow(t *testing.T) {
	testlog.Start(t)
	clock := newClock()
	a := NewAuthority(30*time.Second, WithClock(clock.Now))

	tok := a.Issue()
	if !tok.ExpiresAt.Equal(tok.IssuedAt.Add(30 * time.Second)) {
		t.Fatalf("unexpected expiry: issued=%v expires=%v", tok.IssuedAt, tok.ExpiresAt)
	}
	if !a.IsValid(tok.Value) {
		t.Fatalf("token must be valid at issue time")
	}

	clock.Advance(29 * time.Second)
	if !a.IsValid(tok.Value) {
		t.Fatalf("token must be valid at t=29")
	}

	clock.Advance(time.Second)
	if a.IsValid(tok.Value) {
		t.Fatalf("token must be invalid at t=T+R")
	}

	clock.Advance(time.Second)
	if a.IsValid(tok.Value) {
		t.Fatalf("token must be invalid at t=31")
	}
}

func TestIssueNeverRevivesExpiredToken(t *testing.T) {
	testlog.Start(t)
	clock := newClock()
	a := NewAuthority(10*time.Second, WithClock(clock.Now))

	old := a.Issue()
	clock.Advance(15 * time.Second)
	fresh := a.Issue()

	if a.IsValid(old.Value) {
		t.Fatalf("expired token revived by later issuance")
	}
	if !a.IsValid(fresh.Value) {
		t.Fatalf("fresh token must be valid")
	}
	if a.Len() != 1 {
		t.Fatalf("expected expired token pruned on issue, held=%d", a.Len())
	}
}

func TestValidationDoesNotPrune(t *testing.T) {
	testlog.Start(t)
	clock := newClock()
	a := NewAuthority(time.Second, WithClock(clock.Now))

	tok := a.Issue()
	clock.Advance(2 * time.Second)
	if a.IsValid(tok.Value) {
		t.Fatalf("expected expired token")
	}
	if a.Len() != 1 {
		t.Fatalf("validation must not mutate the token set, held=%d", a.Len())
	}
}

func TestMultipleTokensValidConcurrently(t *testing.T) {
	testlog.Start(t)
	clock := newClock()
	a := NewAuthority(30*time.Second, WithClock(clock.Now))

	first := a.Issue()
	clock.Advance(10 * time.Second)
	second := a.Issue()
	if first.Value == second.Value {
		t.Fatalf("tokens must be unique")
	}
	if !a.IsValid(first.Value) || !a.IsValid(second.Value) {
		t.Fatalf("both tokens must be valid inside their windows")
	}
}

func TestValidateErrors(t *testing.T) {
	testlog.Start(t)
	a := NewAuthority(0)
	if a.RotationInterval() != DefaultRotationInterval {
		t.Fatalf("unexpected default interval: %v", a.RotationInterval())
	}
	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "blank", token: "   "},
		{name: "unknown", token: "not-issued"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := a.Validate(tc.token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
	tok := a.Issue()
	if err := a.Validate(tok.Value); err != nil {
		t.Fatalf("expected issued token to validate, got %v", err)
	}
}

func TestConcurrentIssueAndValidate(t *testing.T) {
	testlog.Start(t)
	a := NewAuthority(time.Minute)

	var wg sync.WaitGroup
	values := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := a.Issue()
			if !a.IsValid(tok.Value) {
				t.Errorf("token %q invalid right after issue", tok.Value)
			}
			values <- tok.Value
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[string]struct{})
	for v := range values {
		seen[v] = struct{}{}
	}
	if len(seen) != 64 || a.Len() != 64 {
		t.Fatalf("expected 64 distinct held tokens, seen=%d held=%d", len(seen), a.Len())
	}
}
