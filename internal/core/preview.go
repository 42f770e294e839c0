package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// maxSummaryErrors caps the row errors a full-file preview keeps.
const maxSummaryErrors = 100

// PreviewAllOptions configures a batched full-file preview.
type PreviewAllOptions struct {
	BatchSize   int // 0 selects the configured preview batch size
	StartOffset int // resume point from a previous summary's NextOffset
	Options     accounting.ImportOptions
}

// Preview validates a sample of the file against the current mapping. The
// backend persists nothing. Only the most recently issued preview may
// update the pipeline; an older one that returns late, or one whose mapping
// changed while in flight, yields ErrStalePreview.
func (p *Pipeline) Preview(ctx context.Context, opts accounting.ImportOptions) (*accounting.PreviewResult, error) {
	return p.previewWith(ctx, "preview", func(token string, ms []accounting.FieldMapping) (*accounting.PreviewResult, error) {
		return p.backend.Preview(ctx, token, accounting.PreviewRequest{
			Mappings:   ms,
			SampleSize: p.cfg.SampleSize,
			Options:    opts,
		})
	})
}

// Validate runs strict validation over the whole file in one call.
func (p *Pipeline) Validate(ctx context.Context, opts accounting.ImportOptions) (*accounting.PreviewResult, error) {
	if opts.ValidationLevel == "" {
		opts.ValidationLevel = "strict"
	}
	return p.previewWith(ctx, "validate", func(token string, ms []accounting.FieldMapping) (*accounting.PreviewResult, error) {
		return p.backend.Validate(ctx, token, ms, opts)
	})
}

func (p *Pipeline) previewWith(ctx context.Context, op string, call func(string, []accounting.FieldMapping) (*accounting.PreviewResult, error)) (*accounting.PreviewResult, error) {
	p.mu.Lock()
	if err := p.checkLocked(op, StateMapped, StatePreviewed); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.previewSeq++
	seq, rev := p.previewSeq, p.mappingRev
	token, ms := p.info.Token, p.activeMappingsLocked()
	p.mu.Unlock()

	res, err := call(token, ms)

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.previewSeq || rev != p.mappingRev || p.closed {
		return nil, ErrStalePreview
	}
	if err != nil {
		return nil, err
	}
	p.lastPreview = res
	p.state = StatePreviewed
	return res, nil
}

// PreviewAll validates the whole file batch by batch. onBatch, if non-nil,
// sees each batch as it arrives; returning an error from it stops the run.
//
// The run stops early when ctx ends or the mapping changes. The returned
// summary is always non-nil; on early stop its NextOffset is where a later
// call can resume.
func (p *Pipeline) PreviewAll(ctx context.Context, opts PreviewAllOptions, onBatch func(*accounting.PreviewResult) error) (*PreviewSummary, error) {
	p.mu.Lock()
	if err := p.checkLocked("preview", StateMapped, StatePreviewed); err != nil {
		p.mu.Unlock()
		return &PreviewSummary{NextOffset: opts.StartOffset}, err
	}
	rev := p.mappingRev
	token, ms := p.info.Token, p.activeMappingsLocked()
	p.mu.Unlock()

	batch := p.clampBatch(opts.BatchSize, p.cfg.PreviewBatchSize)
	offset := max(opts.StartOffset, 0)
	sum := &PreviewSummary{NextOffset: offset}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if p.mappingChanged(rev) {
			return sum, ErrStalePreview
		}

		res, err := p.backend.PreviewBatch(ctx, token, accounting.PreviewBatchRequest{
			Mappings:  ms,
			Offset:    offset,
			BatchSize: batch,
			Options:   opts.Options,
		})
		if err != nil {
			return sum, err
		}

		sum.Batches++
		sum.TotalRows = max(sum.TotalRows, res.TotalRows)
		sum.ValidRows += res.ValidRows
		sum.ErrorCount += len(res.Errors)
		sum.Warnings += len(res.Warnings)
		if room := maxSummaryErrors - len(sum.Errors); room > 0 {
			sum.Errors = append(sum.Errors, res.Errors[:min(room, len(res.Errors))]...)
		}

		next := res.NextOffset
		if next <= offset {
			next = offset + batch
		}
		sum.CheckedRows += next - offset
		if sum.TotalRows > 0 {
			sum.CheckedRows = min(sum.CheckedRows, sum.TotalRows)
		}
		offset = next
		sum.NextOffset = offset

		if onBatch != nil {
			if err := onBatch(res); err != nil {
				return sum, fmt.Errorf("preview batch at offset %d: %w", res.Offset, err)
			}
		}
		if !res.HasMore {
			break
		}
	}
	sum.Complete = true

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mappingRev != rev || p.closed {
		return sum, ErrStalePreview
	}
	if p.state != StateMapped && p.state != StatePreviewed {
		return sum, nil
	}
	p.lastPreview = &accounting.PreviewResult{
		TotalRows: sum.TotalRows,
		ValidRows: sum.ValidRows,
		Errors:    sum.Errors,
	}
	p.state = StatePreviewed
	return sum, nil
}

func (p *Pipeline) mappingChanged(rev uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mappingRev != rev || p.closed
}
