// Package core implements the guided import workflow on top of the remote
// accounting API.
//
// The backend owns parsing, validation and persistence. This package owns
// the client-side state machine around it and nothing it holds is
// persisted: a [Pipeline] lives only as long as its process or until it is
// reaped.
//
// # Pipeline
//
// One file moves through these states:
//
//	created -> mapped -> previewed -> executing -> completed | failed
//
// Re-mapping from mapped or previewed returns to mapped; mapped may go
// straight to executing. Anything else returns an error wrapping
// [ErrInvalidTransition]. A typical run:
//
//	p, err := core.CreatePipeline(ctx, client, meta, cfg.Import, in)
//	p.FetchSuggestions(ctx)
//	p.ApplySuggestions()
//	p.Preview(ctx, accounting.ImportOptions{})
//	res, err := p.Execute(ctx, core.ExecuteOptions{Policy: core.PolicyUpsert})
//
// [Preflight] rejects unsupported, oversized or empty files before any
// network call. Execute refuses to run while a required target field is
// unmapped and returns [*UnmappedFieldsError] instead.
//
// # Results
//
// [NormalizeResult] reads both execute response shapes in circulation and
// reconciles the counts so that
//
//	processed = created + updated + failed + skipped
//
// always holds. When the backend does not report error types, they are
// inferred from the row error messages by [ClassifyRowError].
//
// # Service
//
// [Service] keeps the web front end's live pipelines, bounds concurrent
// executions with an [ExecutionLimiter], caches model metadata, stores
// mapping templates and writes the audit log.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE003: preflight rejections
//   - IMP001-IMP006: import workflow errors
//   - BLK001-BLK002: bulk selection errors
//   - API001-API005: backend connectivity errors
package core
