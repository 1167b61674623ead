package soldier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/mission"
	"github.com/danmuck/missionctl/internal/testutil/brokertest"
	"github.com/danmuck/missionctl/internal/testutil/testlog"
)

type recordingTransport struct {
	mu      sync.Mutex
	reports []mission.StatusReport
	fail    bool
}

func (r *recordingTransport) Publish(_ context.Context, queue string, msg any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail || queue != mission.StatusQueue {
		return false
	}
	report, ok := msg.(mission.StatusReport)
	if !ok {
		return false
	}
	r.reports = append(r.reports, report)
	return true
}

func (r *recordingTransport) Subscribe(ctx context.Context, _ string, _ int, _ channel.Handler) error {
	<-ctx.Done()
	return nil
}

func (r *recordingTransport) snapshot() []mission.StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mission.StatusReport(nil), r.reports...)
}

func (r *recordingTransport) statusesFor(id string) []mission.Status {
	out := make([]mission.Status, 0, 2)
	for _, rep := range r.snapshot() {
		if rep.MissionID == id {
			out = append(out, rep.Status)
		}
	}
	return out
}

func staticTokens(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) { return token, nil })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func orderBody(t *testing.T, id string) []byte {
	t.Helper()
	body, err := json.Marshal(mission.Order{MissionID: id, Data: json.RawMessage(`{"target":"alpha"}`)})
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	return body
}

func TestExecuteReportsInProgressThenCompleted(t *testing.T) {
	testlog.Start(t)
	tr := &recordingTransport{}
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) { return true, nil })
	p := NewPool(PoolConfig{Concurrency: 1}, tr, task, staticTokens("tok-1"))

	final := p.Execute(context.Background(), mission.Order{MissionID: "m-1"})
	if final != mission.StatusCompleted {
		t.Fatalf("unexpected final status: %s", final)
	}
	reports := tr.snapshot()
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %+v", reports)
	}
	if reports[0].Status != mission.StatusInProgress || reports[1].Status != mission.StatusCompleted {
		t.Fatalf("unexpected report order: %+v", reports)
	}
	for _, rep := range reports {
		if rep.Token != "tok-1" || rep.MissionID != "m-1" {
			t.Fatalf("unexpected report fields: %+v", rep)
		}
	}
}

func TestExecuteFailureOutcomes(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Task{
		"unsuccessful": TaskFunc(func(context.Context, mission.Order) (bool, error) { return false, nil }),
		"error":        TaskFunc(func(context.Context, mission.Order) (bool, error) { return true, errors.New("boom") }),
		"panic":        TaskFunc(func(context.Context, mission.Order) (bool, error) { panic("task exploded") }),
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			tr := &recordingTransport{}
			p := NewPool(PoolConfig{Concurrency: 1}, tr, task, staticTokens("tok"))
			if got := p.Execute(context.Background(), mission.Order{MissionID: "m-" + name}); got != mission.StatusFailed {
				t.Fatalf("expected FAILED, got %s", got)
			}
			got := tr.statusesFor("m-" + name)
			if len(got) != 2 || got[1] != mission.StatusFailed {
				t.Fatalf("unexpected reports: %v", got)
			}
			if p.Running() != 0 {
				t.Fatalf("running count leaked: %d", p.Running())
			}
		})
	}
}

func TestHandleOrderDiscardsMalformed(t *testing.T) {
	testlog.Start(t)
	tr := &recordingTransport{}
	var ran atomic.Int32
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) {
		ran.Add(1)
		return true, nil
	})
	p := NewPool(PoolConfig{Concurrency: 1}, tr, task, staticTokens("tok"))

	for _, body := range []string{`not json`, `{"mission_data":{}}`, `{"mission_id":"  "}`} {
		if d := p.HandleOrder(context.Background(), []byte(body)); d != channel.Discard {
			t.Fatalf("expected discard for %q, got %s", body, d)
		}
	}
	p.Wait()
	if ran.Load() != 0 || len(tr.snapshot()) != 0 {
		t.Fatalf("malformed orders must not execute")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	testlog.Start(t)
	tr := &recordingTransport{}
	release := make(chan struct{})
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) {
		<-release
		return true, nil
	})
	p := NewPool(PoolConfig{Concurrency: 2}, tr, task, staticTokens("tok"))

	var accepted atomic.Int32
	go func() {
		for i := 0; i < 5; i++ {
			if p.HandleOrder(context.Background(), orderBody(t, string(rune('a'+i)))) == channel.Ack {
				accepted.Add(1)
			}
		}
	}()

	waitFor(t, time.Second, func() bool { return p.Running() == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := accepted.Load(); got != 2 {
		t.Fatalf("expected hand-off to block at capacity, accepted=%d", got)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool { return accepted.Load() == 5 })
	p.Wait()
	if p.Peak() != 2 {
		t.Fatalf("expected peak of 2, got %d", p.Peak())
	}
	if len(tr.snapshot()) != 10 {
		t.Fatalf("expected 10 reports, got %d", len(tr.snapshot()))
	}
}

func TestExecutionSurvivesHandlerContextCancel(t *testing.T) {
	testlog.Start(t)
	tr := &recordingTransport{}
	started := make(chan struct{})
	release := make(chan struct{})
	task := TaskFunc(func(ctx context.Context, _ mission.Order) (bool, error) {
		close(started)
		<-release
		return ctx.Err() == nil, ctx.Err()
	})
	p := NewPool(PoolConfig{Concurrency: 1}, tr, task, staticTokens("tok"))

	ctx, cancel := context.WithCancel(context.Background())
	if d := p.HandleOrder(ctx, orderBody(t, "m-1")); d != channel.Ack {
		t.Fatalf("expected ack, got %s", d)
	}
	<-started
	cancel()
	close(release)
	p.Wait()

	got := tr.statusesFor("m-1")
	if len(got) != 2 || got[1] != mission.StatusCompleted {
		t.Fatalf("mission should complete after consumer cancel: %v", got)
	}
}

func TestReportSkippedWithoutToken(t *testing.T) {
	testlog.Start(t)
	tr := &recordingTransport{}
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) { return true, nil })
	tokens := TokenSourceFunc(func(context.Context) (string, error) { return "", ErrTokenUnavailable })
	p := NewPool(PoolConfig{Concurrency: 1}, tr, task, tokens)

	if got := p.Execute(context.Background(), mission.Order{MissionID: "m-1"}); got != mission.StatusCompleted {
		t.Fatalf("task outcome should not depend on reporting: %s", got)
	}
	if n := len(tr.snapshot()); n != 0 {
		t.Fatalf("expected no reports without token, got %d", n)
	}
}

func TestPoolDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := PoolConfig{}.WithDefaults()
	if cfg.Concurrency != 5 || cfg.Prefetch != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OrdersQueue != mission.OrdersQueue || cfg.StatusQueue != mission.StatusQueue {
		t.Fatalf("unexpected queues: %+v", cfg)
	}
}

func TestPoolRunConsumesFromBroker(t *testing.T) {
	testlog.Start(t)
	mb := brokertest.New()
	b := channel.New(channel.Config{ConnectAttempts: 1, ConnectDelay: time.Millisecond}, channel.WithDialer(mb.Dial))
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) { return true, nil })
	p := NewPool(PoolConfig{Concurrency: 2, Prefetch: 2, RetryDelay: time.Millisecond}, b, task, staticTokens("tok"))

	mb.Inject(mission.OrdersQueue, orderBody(t, "m-1"))
	mb.Inject(mission.OrdersQueue, []byte(`garbage`))
	mb.Inject(mission.OrdersQueue, orderBody(t, "m-2"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return len(mb.Ready(mission.StatusQueue)) == 4 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if mb.Acked(mission.OrdersQueue) != 2 || len(mb.Discarded(mission.OrdersQueue)) != 1 {
		t.Fatalf("unexpected settlement: acked=%d discarded=%d",
			mb.Acked(mission.OrdersQueue), len(mb.Discarded(mission.OrdersQueue)))
	}
	for _, body := range mb.Ready(mission.StatusQueue) {
		rep, err := mission.DecodeStatusReport(body)
		if err != nil || rep.Token != "tok" {
			t.Fatalf("unexpected status body %s: %v", body, err)
		}
	}
}

func TestPoolRunResubscribesAfterDrop(t *testing.T) {
	testlog.Start(t)
	mb := brokertest.New()
	b := channel.New(channel.Config{ConnectAttempts: 1, ConnectDelay: time.Millisecond}, channel.WithDialer(mb.Dial))
	task := TaskFunc(func(context.Context, mission.Order) (bool, error) { return true, nil })
	p := NewPool(PoolConfig{Concurrency: 1, Prefetch: 1, RetryDelay: time.Millisecond}, b, task, staticTokens("tok"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return mb.OpenConnections() == 1 })
	mb.DropConnections()
	waitFor(t, time.Second, func() bool { return mb.Dials() >= 2 && mb.OpenConnections() == 1 })

	mb.Inject(mission.OrdersQueue, orderBody(t, "m-after"))
	waitFor(t, 2*time.Second, func() bool { return mb.Acked(mission.OrdersQueue) == 1 })
	cancel()
	<-done
}
