package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

type statusFunc func() (*accounting.ImportStatus, error)

func (f statusFunc) Status(context.Context, string) (*accounting.ImportStatus, error) { return f() }

func TestPoller_StopsOnTerminalStatus(t *testing.T) {
	n := 0
	fetch := statusFunc(func() (*accounting.ImportStatus, error) {
		n++
		if n == 3 {
			return &accounting.ImportStatus{State: "completed", Processed: 10, Total: 10}, nil
		}
		return &accounting.ImportStatus{State: "running", Processed: n, Total: 10}, nil
	})

	var mu sync.Mutex
	var seen []string
	p := StartPoller(context.Background(), fetch, "tok", time.Millisecond, func(st accounting.ImportStatus) {
		mu.Lock()
		seen = append(seen, st.State)
		mu.Unlock()
	})

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on terminal status")
	}
	last, err := p.Last()
	if err != nil || last.State != "completed" {
		t.Errorf("Last() = %+v, %v", last, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("updates = %v, want 3", seen)
	}
}

func TestPoller_Stop(t *testing.T) {
	fetch := statusFunc(func() (*accounting.ImportStatus, error) {
		return &accounting.ImportStatus{State: "running"}, nil
	})
	p := StartPoller(context.Background(), fetch, "tok", time.Hour, nil)
	p.Stop()
	p.Stop()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop did not end polling")
	}
}

func TestPoller_NotFoundEndsPolling(t *testing.T) {
	calls := 0
	fetch := statusFunc(func() (*accounting.ImportStatus, error) {
		calls++
		return nil, &accounting.APIError{StatusCode: 404}
	})
	p := StartPoller(context.Background(), fetch, "tok", time.Millisecond, nil)

	_, err := p.Wait(context.Background())
	if !errors.Is(err, accounting.ErrNotFound) {
		t.Errorf("Wait() error = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPoller_GivesUpAfterRepeatedFailures(t *testing.T) {
	calls := 0
	fetch := statusFunc(func() (*accounting.ImportStatus, error) {
		calls++
		return nil, errors.New("connection reset")
	})
	p := StartPoller(context.Background(), fetch, "tok", time.Millisecond, nil)

	if _, err := p.Wait(context.Background()); err == nil {
		t.Error("expected error after repeated failures")
	}
	if calls != maxPollFailures {
		t.Errorf("calls = %d, want %d", calls, maxPollFailures)
	}
}

func TestPoller_ContextCancel(t *testing.T) {
	fetch := statusFunc(func() (*accounting.ImportStatus, error) {
		return &accounting.ImportStatus{State: "running"}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	p := StartPoller(ctx, fetch, "tok", time.Hour, nil)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller ignored context cancellation")
	}
	if _, err := p.Last(); !errors.Is(err, context.Canceled) {
		t.Errorf("Last() error = %v, want context.Canceled", err)
	}
}
