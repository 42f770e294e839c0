package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
)

// Service owns the live import pipelines of the web front end and the
// shared pieces they use: the metadata cache, the execution limiter and the
// audit and template stores.
type Service struct {
	backend   Backend
	cfg       config.ImportConfig
	metadata  *MetadataCache
	limiter   *ExecutionLimiter
	audit     AuditStore
	templates TemplateStore

	mu       sync.RWMutex
	sessions map[string]*Pipeline
}

// NewService creates a Service. audit may be nil to disable auditing.
func NewService(backend Backend, cfg config.ImportConfig, audit AuditStore, templates TemplateStore) *Service {
	return &Service{
		backend:   backend,
		cfg:       cfg,
		metadata:  NewMetadataCache(backend, 0),
		limiter:   NewExecutionLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		audit:     audit,
		templates: templates,
		sessions:  make(map[string]*Pipeline),
	}
}

// Config returns the import settings the service runs with.
func (s *Service) Config() config.ImportConfig { return s.cfg }

// Backend returns the accounting backend.
func (s *Service) Backend() Backend { return s.backend }

// ListModels returns the models the backend accepts imports for.
func (s *Service) ListModels(ctx context.Context) ([]accounting.ModelInfo, error) {
	return s.backend.ListModels(ctx)
}

// ModelMetadata returns cached field metadata for a model.
func (s *Service) ModelMetadata(ctx context.Context, model string) (*accounting.ModelMetadata, error) {
	return s.metadata.Get(ctx, model)
}

// StartImport preflights and uploads a file and registers the new pipeline.
// A pipeline whose upload failed is still registered so its error can be
// shown; it is returned alongside the error.
func (s *Service) StartImport(ctx context.Context, model string, in FileInput) (*Pipeline, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	meta, err := s.metadata.Get(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("loading %s metadata: %w", model, err)
	}

	p, err := CreatePipeline(ctx, s.backend, meta, s.cfg, in)
	if p != nil {
		s.mu.Lock()
		s.sessions[p.ID()] = p
		s.mu.Unlock()
	}
	return p, err
}

// Session returns a live pipeline by id.
func (s *Service) Session(id string) (*Pipeline, error) {
	s.mu.RLock()
	p, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return p, nil
}

// Sessions snapshots every live pipeline, newest first.
func (s *Service) Sessions() []SessionSnapshot {
	s.mu.RLock()
	out := make([]SessionSnapshot, 0, len(s.sessions))
	for _, p := range s.sessions {
		out = append(out, p.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ExecuteImport runs a session's import while holding an execution slot and
// records the outcome in the audit log.
//
// ctx only bounds the wait for a slot. Once the import starts it runs to
// completion on a detached context limited by ExecuteTimeout, so a caller
// that goes away does not fail an import the backend is still running.
func (s *Service) ExecuteImport(ctx context.Context, id string, opts ExecuteOptions) (*ImportResult, error) {
	p, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	var (
		res *ImportResult
		ran bool
	)
	execCtx, cancel := s.executionContext(ctx)
	defer cancel()
	err = s.limiter.Run(ctx, func() error {
		before := p.State()
		var execErr error
		res, execErr = p.Execute(execCtx, opts)
		ran = p.State() != before
		return execErr
	})
	if ran {
		s.auditExecution(execCtx, p, res, err)
	}
	return res, err
}

func (s *Service) executionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.cfg.ExecuteTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, s.cfg.ExecuteTimeout)
}

func (s *Service) auditExecution(ctx context.Context, p *Pipeline, res *ImportResult, err error) {
	e := AuditEntry{
		Action:    ActionImportExecute,
		Model:     p.Model(),
		SessionID: p.ID(),
		FileName:  p.Info().FileName,
		Result:    res,
	}
	if res != nil {
		e.RowsAffected = res.Created + res.Updated
		e.Operation = string(res.Policy)
	}
	if err != nil {
		e.Outcome = OutcomeFailure
		e.Error = accounting.Describe(err)
	}
	RecordAudit(ctx, s.audit, e)
}

// CancelImport cancels a pipeline and forgets it.
func (s *Service) CancelImport(ctx context.Context, id string) error {
	p, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := p.Cancel(ctx); err != nil {
		return err
	}
	s.forget(id)
	RecordAudit(ctx, s.audit, AuditEntry{
		Action:    ActionImportCancel,
		Model:     p.Model(),
		SessionID: id,
		FileName:  p.Info().FileName,
	})
	return nil
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// ReapIdle cancels and forgets pipelines idle for longer than ttl.
// Executing pipelines are never reaped.
func (s *Service) ReapIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.RLock()
	var idle []*Pipeline
	for _, p := range s.sessions {
		if p.State() != StateExecuting && p.LastActivity().Before(cutoff) {
			idle = append(idle, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range idle {
		if err := p.Cancel(ctx); err != nil {
			slog.Warn("reaping session failed", "session_id", p.ID(), "error", err)
			continue
		}
		s.forget(p.ID())
	}
	return len(idle)
}

// History lists audit entries.
func (s *Service) History(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, f)
}

// HistoryEntry returns one audit entry.
func (s *Service) HistoryEntry(ctx context.Context, id string) (*AuditEntry, error) {
	if s.audit == nil {
		return nil, ErrEntryNotFound
	}
	return s.audit.Get(ctx, id)
}

// LimiterStatus reports execution slot usage.
func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// Drain waits for running executions to finish.
func (s *Service) Drain(ctx context.Context) error { return s.limiter.Drain(ctx) }
