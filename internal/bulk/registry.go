package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
)

// Registry keeps the live controllers of the web front end and records
// executed operations in the audit log.
type Registry struct {
	backend Backend
	cfg     config.BulkConfig
	rules   Rules
	audit   core.AuditStore

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry creates a Registry. audit may be nil to disable auditing and
// a nil rules uses DefaultRules.
func NewRegistry(backend Backend, cfg config.BulkConfig, rules Rules, audit core.AuditStore) *Registry {
	return &Registry{
		backend:     backend,
		cfg:         cfg,
		rules:       rules,
		audit:       audit,
		controllers: make(map[string]*Controller),
	}
}

// Open creates a controller for model, loads its first page and registers it.
func (r *Registry) Open(ctx context.Context, model string) (*Controller, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	c := NewController(model, r.backend, r.cfg, r.rules)
	if err := c.LoadPage(ctx, 1); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.controllers[c.ID()] = c
	r.mu.Unlock()
	return c, nil
}

// Get returns a live controller by id.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	c, ok := r.controllers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrControllerNotFound, id)
	}
	return c, nil
}

// List snapshots every live controller, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Close forgets a controller. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.controllers, id)
	r.mu.Unlock()
}

// Execute runs op on a controller and audits the outcome. Calls refused
// before reaching the backend (empty selection, busy) are not audited.
func (r *Registry) Execute(ctx context.Context, id string, op Operation, opts Options) (*Result, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	selected := len(c.Selected())

	res, err := c.Execute(ctx, op, opts)
	if errors.Is(err, ErrEmptySelection) || errors.Is(err, ErrBusy) {
		return nil, err
	}

	e := core.AuditEntry{
		Action:    core.ActionBulkExecute,
		Model:     c.Model(),
		Operation: string(op),
		Details:   map[string]any{"bulk_id": id, "selected": selected},
	}
	if res != nil {
		e.RowsAffected = res.Successful
		e.Details["failed"] = res.Failed
		e.Details["skipped"] = res.Skipped
	}
	if err != nil {
		e.Outcome = core.OutcomeFailure
		e.Error = accounting.Describe(err)
	}
	core.RecordAudit(ctx, r.audit, e)
	return res, err
}

// ReapIdle forgets controllers idle for longer than ttl. Controllers with a
// call in flight are kept.
func (r *Registry) ReapIdle(_ context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.controllers {
		if !c.Processing() && c.LastActivity().Before(cutoff) {
			delete(r.controllers, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("reaped bulk controllers", "count", n)
	}
	return n
}
