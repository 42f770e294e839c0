package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/tidwall/gjson"
)

// Execute runs the import. It requires every required target field to be
// mapped; otherwise it returns *UnmappedFieldsError without contacting the
// backend or changing state.
//
// A backend that answers with a pending status instead of a result is
// polled until it finishes. Any failure leaves the pipeline in StateFailed.
// Execute is never retried automatically.
func (p *Pipeline) Execute(ctx context.Context, opts ExecuteOptions) (*ImportResult, error) {
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if err := p.checkLocked("execute", StateMapped, StatePreviewed); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if missing := p.unmappedLocked(); len(missing) > 0 {
		p.mu.Unlock()
		return nil, &UnmappedFieldsError{Fields: missing}
	}
	fallback := p.cfg.BatchSize
	if d := p.meta.BatchLimits.Default; d > 0 {
		fallback = d
	}
	req := accounting.ExecuteRequest{
		Mappings:   p.activeMappingsLocked(),
		Policy:     string(policy),
		BatchSize:  p.clampBatch(opts.BatchSize, fallback),
		SkipErrors: opts.SkipErrors,
		Options:    opts.Options,
	}
	token := p.info.Token
	p.state = StateExecuting
	p.previewSeq++
	p.mu.Unlock()

	p.logger.Info("import execution started",
		"policy", req.Policy,
		"batch_size", req.BatchSize,
		"skip_errors", req.SkipErrors,
		"rows", p.info.RowCount)

	started := time.Now()
	raw, err := p.backend.Execute(ctx, token, req)
	if err == nil && pendingStatus(raw) {
		raw, err = p.awaitCompletion(ctx, token)
	}

	var result ImportResult
	if err == nil {
		result, err = NormalizeResult(raw, NormalizeOptions{
			Policy:      policy,
			SkipErrors:  opts.SkipErrors,
			StartedAt:   started,
			CompletedAt: time.Now(),
		})
	}

	p.mu.Lock()
	if err != nil {
		p.state = StateFailed
		p.lastErr = accounting.Describe(err)
		p.mu.Unlock()
		p.logger.Error("import execution failed",
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err)
		return nil, err
	}
	p.state = StateCompleted
	p.result = &result
	p.mu.Unlock()

	p.logger.Info("import execution completed",
		"created", result.Created,
		"updated", result.Updated,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", result.Duration().Milliseconds())

	p.releaseRemote(ctx)
	return &result, nil
}

// WatchStatus polls the backend's execution status for this session.
func (p *Pipeline) WatchStatus(ctx context.Context, onUpdate func(accounting.ImportStatus)) *Poller {
	return StartPoller(ctx, p.backend, p.info.Token, p.cfg.PollInterval, onUpdate)
}

func (p *Pipeline) awaitCompletion(ctx context.Context, token string) (json.RawMessage, error) {
	st, err := p.WatchStatus(ctx, nil).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for import to finish: %w", err)
	}
	if st == nil {
		return nil, errors.New("import status unavailable")
	}
	if st.State != "completed" {
		msg := st.Message
		if msg == "" {
			msg = "import " + st.State
		}
		return nil, errors.New(msg)
	}
	if len(st.Result) > 0 {
		return st.Result, nil
	}
	return json.Marshal(map[string]int{"processed_rows": st.Processed, "total_rows": st.Total})
}

// pendingStatus reports whether an execute answer is an acknowledgement of
// queued work rather than a result.
func pendingStatus(raw []byte) bool {
	switch gjson.GetBytes(raw, "status").String() {
	case "queued", "pending", "running", "processing", "in_progress":
		return true
	}
	return false
}
