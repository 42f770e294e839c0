package core

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/google/uuid"
)

// remoteCleanupTimeout bounds the best-effort session delete after execution.
const remoteCleanupTimeout = 10 * time.Second

// Pipeline drives one file through upload, mapping, preview and execute.
//
// All backend calls are made without holding the pipeline lock, so a slow
// preview never blocks reads of the pipeline's state. Methods are safe for
// concurrent use.
type Pipeline struct {
	id        string
	backend   Backend
	cfg       config.ImportConfig
	meta      *accounting.ModelMetadata
	info      accounting.SessionInfo
	logger    *slog.Logger
	createdAt time.Time

	mu           sync.Mutex
	state        SessionState
	closed       bool // cancelled by the user or reaped
	remoteGone   bool // server-side session deleted
	mappings     []accounting.FieldMapping
	mappingRev   uint64
	suggestions  []accounting.Suggestion
	previewSeq   uint64
	lastPreview  *accounting.PreviewResult
	result       *ImportResult
	lastErr      string
	lastActivity time.Time
}

// CreatePipeline runs preflight checks on in, uploads it and opens a
// backend session for meta.Model.
//
// A preflight failure returns a nil pipeline and never touches the network.
// An upload failure returns a pipeline in StateFailed together with the error.
func CreatePipeline(ctx context.Context, backend Backend, meta *accounting.ModelMetadata, cfg config.ImportConfig, in FileInput) (*Pipeline, error) {
	upload, err := Preflight(in, cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &Pipeline{
		id:           uuid.NewString(),
		backend:      backend,
		cfg:          cfg,
		meta:         meta,
		createdAt:    now,
		state:        StateCreated,
		lastActivity: now,
	}
	p.logger = slog.Default().With(slog.String("session_id", p.id), slog.String("model", meta.Model))

	info, err := backend.CreateSession(ctx, meta.Model, upload)
	if err != nil {
		p.state = StateFailed
		p.lastErr = accounting.Describe(err)
		p.remoteGone = true
		p.info = accounting.SessionInfo{Model: meta.Model, FileName: upload.Name, FileSize: int64(len(upload.Data))}
		p.logger.Warn("session creation failed", "file", upload.Name, "error", err)
		return p, err
	}

	p.info = *info
	if p.info.Model == "" {
		p.info.Model = meta.Model
	}
	if p.info.FileName == "" {
		p.info.FileName = upload.Name
	}
	if p.info.FileSize == 0 {
		p.info.FileSize = int64(len(upload.Data))
	}
	p.mappings = make([]accounting.FieldMapping, len(info.Columns))
	for i, c := range info.Columns {
		p.mappings[i] = accounting.FieldMapping{Column: c.Name}
	}

	p.logger.Info("import session created",
		"file", p.info.FileName,
		"rows", p.info.RowCount,
		"columns", len(p.info.Columns))
	return p, nil
}

// ID is the local handle for this pipeline.
func (p *Pipeline) ID() string { return p.id }

// Token is the backend session token.
func (p *Pipeline) Token() string { return p.info.Token }

// Model is the target model name.
func (p *Pipeline) Model() string { return p.meta.Model }

// Metadata returns the target model's field metadata.
func (p *Pipeline) Metadata() *accounting.ModelMetadata { return p.meta }

// Info returns what the backend reported about the uploaded file.
func (p *Pipeline) Info() accounting.SessionInfo { return p.info }

// State returns the current lifecycle state.
func (p *Pipeline) State() SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Closed reports whether the pipeline was cancelled.
func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// LastActivity is the time of the most recent user-driven operation.
func (p *Pipeline) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// Result returns the execution result once the pipeline has completed.
func (p *Pipeline) Result() (ImportResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return ImportResult{}, false
	}
	return *p.result, true
}

// Err returns the last terminal failure message, if any.
func (p *Pipeline) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Snapshot copies the pipeline's state for display.
func (p *Pipeline) Snapshot() SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := SessionSnapshot{
		ID:           p.id,
		Token:        p.info.Token,
		Model:        p.meta.Model,
		FileName:     p.info.FileName,
		FileSize:     p.info.FileSize,
		RowCount:     p.info.RowCount,
		State:        p.state,
		Closed:       p.closed,
		Columns:      slices.Clone(p.info.Columns),
		Mappings:     slices.Clone(p.mappings),
		Suggestions:  slices.Clone(p.suggestions),
		Unmapped:     p.unmappedLocked(),
		Preview:      p.lastPreview,
		Error:        p.lastErr,
		CreatedAt:    p.createdAt,
		LastActivity: p.lastActivity,
	}
	if p.result != nil {
		r := *p.result
		s.Result = &r
	}
	return s
}

// Cancel discards the pipeline and deletes the backend session. Calling it
// again after a successful cancel is a no-op. A running execution cannot be
// cancelled.
func (p *Pipeline) Cancel(ctx context.Context) error {
	p.mu.Lock()
	if p.closed && p.remoteGone {
		p.mu.Unlock()
		return nil
	}
	if p.state == StateExecuting {
		p.mu.Unlock()
		return &TransitionError{Op: "cancel", From: p.state}
	}
	p.closed = true
	p.previewSeq++
	token, gone := p.info.Token, p.remoteGone
	p.mu.Unlock()

	if gone || token == "" {
		p.markRemoteGone()
		return nil
	}
	if err := p.backend.DeleteSession(ctx, token); err != nil {
		p.logger.Warn("session delete failed", "error", err)
		return err
	}
	p.markRemoteGone()
	p.logger.Info("import session cancelled")
	return nil
}

func (p *Pipeline) markRemoteGone() {
	p.mu.Lock()
	p.remoteGone = true
	p.mu.Unlock()
}

// checkLocked rejects op unless the pipeline is open and in one of allowed.
// Caller holds p.mu.
func (p *Pipeline) checkLocked(op string, allowed ...SessionState) error {
	if p.closed {
		return ErrSessionClosed
	}
	if !slices.Contains(allowed, p.state) {
		return &TransitionError{Op: op, From: p.state}
	}
	p.lastActivity = time.Now()
	return nil
}

// releaseRemote deletes the backend session after execution. Failures are
// logged only; the backend expires abandoned sessions on its own.
func (p *Pipeline) releaseRemote(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteCleanupTimeout)
	defer cancel()

	if err := p.backend.DeleteSession(ctx, p.info.Token); err != nil {
		p.logger.Warn("post-execute session cleanup failed", "error", err)
		return
	}
	p.markRemoteGone()
}

// clampBatch bounds n by the model's advertised batch limits, falling back
// to the configured bounds. A non-positive n selects fallback.
func (p *Pipeline) clampBatch(n, fallback int) int {
	lo, hi := p.cfg.MinBatchSize, p.cfg.MaxBatchSize
	if l := p.meta.BatchLimits; l.Min > 0 || l.Max > 0 {
		if l.Min > 0 {
			lo = l.Min
		}
		if l.Max > 0 {
			hi = l.Max
		}
	}
	if hi < lo {
		hi = lo
	}
	if n <= 0 {
		n = fallback
	}
	return min(max(n, lo), hi)
}
