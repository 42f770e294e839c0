package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// fakeBackend is an in-memory Backend. Nil hooks fall back to canned answers.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	meta         *accounting.ModelMetadata
	session      *accounting.SessionInfo
	createErr    error
	suggestions  []accounting.Suggestion
	suggestErr   error
	previewFn    func(accounting.PreviewRequest) (*accounting.PreviewResult, error)
	batchFn      func(accounting.PreviewBatchRequest) (*accounting.PreviewResult, error)
	executeFn    func(accounting.ExecuteRequest) (json.RawMessage, error)
	statusFn     func() (*accounting.ImportStatus, error)
	deleteErr    error
	lastExecute  accounting.ExecuteRequest
	lastPreviews []accounting.PreviewRequest
}

func (f *fakeBackend) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) ListModels(context.Context) ([]accounting.ModelInfo, error) {
	f.count("models")
	return []accounting.ModelInfo{{Name: f.meta.Model, Label: f.meta.Label}}, nil
}

func (f *fakeBackend) ModelMetadata(_ context.Context, model string) (*accounting.ModelMetadata, error) {
	f.count("metadata")
	if model != f.meta.Model {
		return nil, &accounting.APIError{StatusCode: 404, Message: "unknown model"}
	}
	return f.meta, nil
}

func (f *fakeBackend) CreateSession(context.Context, string, accounting.Upload) (*accounting.SessionInfo, error) {
	f.count("create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	s := *f.session
	return &s, nil
}

func (f *fakeBackend) Suggestions(context.Context, string) ([]accounting.Suggestion, error) {
	f.count("suggestions")
	return f.suggestions, f.suggestErr
}

func (f *fakeBackend) Preview(_ context.Context, _ string, req accounting.PreviewRequest) (*accounting.PreviewResult, error) {
	f.count("preview")
	f.mu.Lock()
	f.lastPreviews = append(f.lastPreviews, req)
	f.mu.Unlock()
	if f.previewFn != nil {
		return f.previewFn(req)
	}
	return &accounting.PreviewResult{TotalRows: f.session.RowCount, ValidRows: f.session.RowCount}, nil
}

func (f *fakeBackend) PreviewBatch(_ context.Context, _ string, req accounting.PreviewBatchRequest) (*accounting.PreviewResult, error) {
	f.count("preview-batch")
	if f.batchFn != nil {
		return f.batchFn(req)
	}
	return nil, fmt.Errorf("no batch preview configured")
}

func (f *fakeBackend) Validate(_ context.Context, _ string, ms []accounting.FieldMapping, opts accounting.ImportOptions) (*accounting.PreviewResult, error) {
	f.count("validate")
	if opts.ValidationLevel != "strict" {
		return nil, fmt.Errorf("validation level = %q", opts.ValidationLevel)
	}
	return &accounting.PreviewResult{TotalRows: f.session.RowCount, ValidRows: f.session.RowCount}, nil
}

func (f *fakeBackend) Execute(_ context.Context, _ string, req accounting.ExecuteRequest) (json.RawMessage, error) {
	f.count("execute")
	f.mu.Lock()
	f.lastExecute = req
	f.mu.Unlock()
	if f.executeFn != nil {
		return f.executeFn(req)
	}
	return json.RawMessage(fmt.Sprintf(`{"created": %d}`, f.session.RowCount)), nil
}

func (f *fakeBackend) Status(context.Context, string) (*accounting.ImportStatus, error) {
	f.count("status")
	if f.statusFn != nil {
		return f.statusFn()
	}
	return &accounting.ImportStatus{State: "completed"}, nil
}

func (f *fakeBackend) DeleteSession(context.Context, string) error {
	f.count("delete")
	return f.deleteErr
}

// invoiceMeta has two required fields out of three.
func invoiceMeta() *accounting.ModelMetadata {
	return &accounting.ModelMetadata{
		Model: "account.move",
		Label: "Invoices",
		Fields: []accounting.FieldMeta{
			{Name: "partner_id", Type: "many2one", Required: true},
			{Name: "invoice_date", Type: "date", Required: true},
			{Name: "ref", Type: "char"},
		},
	}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		meta: invoiceMeta(),
		session: &accounting.SessionInfo{
			Token:    "tok-1",
			RowCount: 100,
			Columns: []accounting.Column{
				{Name: "Customer"}, {Name: "Date"}, {Name: "Reference"},
			},
		},
	}
}

func testImportConfig() config.ImportConfig {
	return config.ImportConfig{
		MaxFileSize:         10 << 20,
		AllowedExtensions:   []string{"csv", "xlsx", "xls", "json"},
		SuggestionThreshold: 0.5,
		SampleSize:          10,
		BatchSize:           100,
		PreviewBatchSize:    500,
		MinBatchSize:        10,
		MaxBatchSize:        1000,
		PollInterval:        5 * time.Millisecond,
		MaxConcurrent:       2,
		MaxWaitTime:         time.Second,
	}
}

func csvInput() FileInput {
	return FileInput{Name: "invoices.csv", Data: []byte("Customer,Date,Reference\nAcme,2026-01-31,INV-1\n")}
}

func newTestPipeline(t *testing.T, fb *fakeBackend) *Pipeline {
	t.Helper()
	p, err := CreatePipeline(context.Background(), fb, fb.meta, testImportConfig(), csvInput())
	if err != nil {
		t.Fatalf("CreatePipeline() error = %v", err)
	}
	return p
}

func fullMapping() []accounting.FieldMapping {
	return []accounting.FieldMapping{
		{Column: "Customer", Field: "partner_id"},
		{Column: "Date", Field: "invoice_date"},
		{Column: "Reference", Field: "ref"},
	}
}
