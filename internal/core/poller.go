package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// StatusFetcher reads execution status for a session.
type StatusFetcher interface {
	Status(ctx context.Context, token string) (*accounting.ImportStatus, error)
}

// maxPollFailures is how many consecutive status errors end a poll.
const maxPollFailures = 3

// Poller watches an execution until it reaches a terminal status, the
// caller stops it, or its context ends. Status is fetched once immediately
// and then every interval.
type Poller struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	last *accounting.ImportStatus
	err  error
}

// StartPoller begins polling token. onUpdate, if non-nil, is called from the
// polling goroutine with every status received.
func StartPoller(ctx context.Context, fetch StatusFetcher, token string, interval time.Duration, onUpdate func(accounting.ImportStatus)) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	p := &Poller{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run(ctx, fetch, token, interval, onUpdate)
	return p
}

func (p *Poller) run(ctx context.Context, fetch StatusFetcher, token string, interval time.Duration, onUpdate func(accounting.ImportStatus)) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		st, err := fetch.Status(ctx, token)
		switch {
		case err == nil:
			failures = 0
			p.mu.Lock()
			p.last = st
			p.mu.Unlock()
			if onUpdate != nil {
				onUpdate(*st)
			}
			if st.Terminal() {
				return
			}
		case errors.Is(err, accounting.ErrNotFound) || ctx.Err() != nil:
			p.setErr(err)
			return
		default:
			failures++
			slog.Warn("status poll failed", "session_token", token, "attempt", failures, "error", err)
			if failures >= maxPollFailures {
				p.setErr(err)
				return
			}
		}

		select {
		case <-ctx.Done():
			p.setErr(ctx.Err())
			return
		case <-p.stop:
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Stop ends polling. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed when polling has ended for any reason.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Last returns the most recent status and the error that ended polling, if any.
func (p *Poller) Last() (*accounting.ImportStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.err
}

// Wait blocks until polling ends and returns the final status.
func (p *Poller) Wait(ctx context.Context) (*accounting.ImportStatus, error) {
	select {
	case <-p.done:
		return p.Last()
	case <-ctx.Done():
		p.Stop()
		return nil, ctx.Err()
	}
}
