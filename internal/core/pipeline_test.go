package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

func TestCreatePipeline_PreflightFailureNeverUploads(t *testing.T) {
	inputs := []FileInput{
		{Name: "invoices.exe", Data: []byte("MZ\x90\x00")},
		{Name: "invoices.csv", Data: nil},
		{Name: "invoices.csv", Data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
	}

	for _, in := range inputs {
		fb := newFakeBackend()
		p, err := CreatePipeline(context.Background(), fb, fb.meta, testImportConfig(), in)
		var pfErr *PreflightError
		if !errors.As(err, &pfErr) {
			t.Errorf("%s: error = %v, want *PreflightError", in.Name, err)
		}
		if p != nil {
			t.Errorf("%s: got pipeline for rejected file", in.Name)
		}
		if n := fb.callCount("create"); n != 0 {
			t.Errorf("%s: CreateSession called %d times", in.Name, n)
		}
	}
}

func TestCreatePipeline_UploadFailureIsTerminal(t *testing.T) {
	fb := newFakeBackend()
	fb.createErr = &accounting.APIError{StatusCode: 400, Message: "Unsupported encoding"}

	p, err := CreatePipeline(context.Background(), fb, fb.meta, testImportConfig(), csvInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if p == nil {
		t.Fatal("expected failed pipeline alongside error")
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %s, want failed", p.State())
	}
	if p.Err() != "Unsupported encoding" {
		t.Errorf("Err() = %q", p.Err())
	}
	if err := p.SetMapping(fullMapping()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetMapping on failed pipeline = %v, want ErrInvalidTransition", err)
	}
}

func TestCreatePipeline_InitialState(t *testing.T) {
	p := newTestPipeline(t, newFakeBackend())

	if p.State() != StateCreated {
		t.Errorf("State() = %s, want created", p.State())
	}
	ms := p.Mappings()
	if len(ms) != 3 || ms[0].Column != "Customer" || ms[0].Field != "" {
		t.Errorf("initial mappings = %+v", ms)
	}
	if got := p.Info().FileName; got != "invoices.csv" {
		t.Errorf("FileName = %q, want filled from upload", got)
	}
	if p.Token() != "tok-1" || p.ID() == "" {
		t.Errorf("Token() = %q ID() = %q", p.Token(), p.ID())
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	p := newTestPipeline(t, fb)

	if _, err := p.Preview(ctx, accounting.ImportOptions{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Preview from created = %v, want ErrInvalidTransition", err)
	}
	if _, err := p.Execute(ctx, ExecuteOptions{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Execute from created = %v, want ErrInvalidTransition", err)
	}

	if err := p.SetMapping(fullMapping()); err != nil {
		t.Fatalf("SetMapping() error = %v", err)
	}
	if p.State() != StateMapped {
		t.Fatalf("State() = %s, want mapped", p.State())
	}

	if _, err := p.Preview(ctx, accounting.ImportOptions{}); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.State() != StatePreviewed {
		t.Fatalf("State() = %s, want previewed", p.State())
	}

	// Re-mapping from previewed returns to mapped.
	if err := p.MapColumn("Reference", "", ""); err != nil {
		t.Fatalf("MapColumn() error = %v", err)
	}
	if p.State() != StateMapped {
		t.Fatalf("State() = %s, want mapped after re-map", p.State())
	}

	// mapped -> executing is allowed without a preview.
	if _, err := p.Execute(ctx, ExecuteOptions{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if p.State() != StateCompleted {
		t.Fatalf("State() = %s, want completed", p.State())
	}

	for name, op := range map[string]func() error{
		"SetMapping": func() error { return p.SetMapping(fullMapping()) },
		"Preview":    func() error { _, err := p.Preview(ctx, accounting.ImportOptions{}); return err },
		"Execute":    func() error { _, err := p.Execute(ctx, ExecuteOptions{}); return err },
		"Apply":      func() error { _, err := p.ApplySuggestions(); return err },
	} {
		if err := op(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s after completion = %v, want ErrInvalidTransition", name, err)
		}
	}
	if n := fb.callCount("execute"); n != 1 {
		t.Errorf("execute calls = %d, want 1", n)
	}
}

func TestExecute_RefusesUnmappedRequired(t *testing.T) {
	// Three detected columns, 100 rows, one of two required fields mapped.
	fb := newFakeBackend()
	p := newTestPipeline(t, fb)

	if err := p.SetMapping([]accounting.FieldMapping{{Column: "Customer", Field: "partner_id"}}); err != nil {
		t.Fatalf("SetMapping() error = %v", err)
	}
	if got := p.UnmappedRequired(); !slices.Equal(got, []string{"invoice_date"}) {
		t.Fatalf("UnmappedRequired() = %v", got)
	}

	_, err := p.Execute(context.Background(), ExecuteOptions{Policy: PolicyUpsert})
	var unmapped *UnmappedFieldsError
	if !errors.As(err, &unmapped) {
		t.Fatalf("Execute() error = %v, want *UnmappedFieldsError", err)
	}
	if !slices.Equal(unmapped.Fields, []string{"invoice_date"}) {
		t.Errorf("Fields = %v", unmapped.Fields)
	}
	if fb.callCount("execute") != 0 {
		t.Error("backend execute was called")
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, want unchanged mapped", p.State())
	}
}

func TestSetMapping_Validation(t *testing.T) {
	p := newTestPipeline(t, newFakeBackend())

	tests := []struct {
		name string
		ms   []accounting.FieldMapping
	}{
		{"unknown column", []accounting.FieldMapping{{Column: "Nope", Field: "ref"}}},
		{"unknown field", []accounting.FieldMapping{{Column: "Customer", Field: "nope"}}},
		{"column twice", []accounting.FieldMapping{{Column: "Date", Field: "invoice_date"}, {Column: "Date", Field: "ref"}}},
		{"field twice", []accounting.FieldMapping{{Column: "Date", Field: "ref"}, {Column: "Reference", Field: "ref"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.SetMapping(tt.ms); err == nil {
				t.Error("expected error")
			}
		})
	}
	if p.State() != StateCreated {
		t.Errorf("State() = %s, rejected mappings must not change state", p.State())
	}
}

func TestApplySuggestions_RespectsThreshold(t *testing.T) {
	fb := newFakeBackend()
	fb.suggestions = []accounting.Suggestion{
		{Column: "Customer", Field: "partner_id", Confidence: 0.92},
		{Column: "Date", Field: "invoice_date", Confidence: 0.5},    // not above threshold
		{Column: "Reference", Field: "ref", Confidence: 0.49},       // below
		{Column: "Reference", Field: "partner_id", Confidence: 0.7}, // field already taken
		{Column: "Ghost", Field: "ref", Confidence: 0.99},           // unknown column
	}
	p := newTestPipeline(t, fb)

	got := p.FetchSuggestions(context.Background())
	if len(got) != 5 {
		t.Fatalf("FetchSuggestions() = %d items, want 5", len(got))
	}
	n, err := p.ApplySuggestions()
	if err != nil {
		t.Fatalf("ApplySuggestions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}

	for _, m := range p.Mappings() {
		want := ""
		if m.Column == "Customer" {
			want = "partner_id"
		}
		if m.Field != want {
			t.Errorf("column %s mapped to %q, want %q", m.Column, m.Field, want)
		}
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, want mapped", p.State())
	}
}

func TestApplySuggestions_OverwritesAboveThreshold(t *testing.T) {
	fb := newFakeBackend()
	fb.suggestions = []accounting.Suggestion{{Column: "Reference", Field: "ref", Confidence: 0.95}}
	p := newTestPipeline(t, fb)

	if err := p.MapColumn("Reference", "", "fixed"); err != nil {
		t.Fatal(err)
	}
	if err := p.MapColumn("Customer", "partner_id", ""); err != nil {
		t.Fatal(err)
	}
	p.FetchSuggestions(context.Background())
	if n, _ := p.ApplySuggestions(); n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if m := p.Mappings()[2]; m.Field != "ref" || m.DefaultValue != "fixed" {
		t.Errorf("Reference = %+v, want ref with its default kept", m)
	}

	// A field held by another column is not taken from it.
	fb.suggestions = []accounting.Suggestion{{Column: "Date", Field: "partner_id", Confidence: 0.99}}
	p.FetchSuggestions(context.Background())
	if n, _ := p.ApplySuggestions(); n != 0 {
		t.Errorf("applied = %d, want 0 (partner_id belongs to Customer)", n)
	}

	fb.suggestions = []accounting.Suggestion{
		{Column: "Customer", Field: "invoice_date", Confidence: 0.8},
		{Column: "Customer", Field: "partner_id", Confidence: 0.4},
	}
	p.FetchSuggestions(context.Background())
	if n, _ := p.ApplySuggestions(); n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if got := p.Mappings()[0].Field; got != "invoice_date" {
		t.Errorf("Customer = %q, want the manual mapping overwritten", got)
	}
	if got := p.UnmappedRequired(); !slices.Equal(got, []string{"partner_id"}) {
		t.Errorf("UnmappedRequired() = %v", got)
	}
}

func TestFetchSuggestions_FailureIsEmpty(t *testing.T) {
	fb := newFakeBackend()
	fb.suggestErr = errors.New("boom")
	p := newTestPipeline(t, fb)

	if got := p.FetchSuggestions(context.Background()); len(got) != 0 {
		t.Errorf("FetchSuggestions() = %v, want empty", got)
	}
	if p.State() != StateCreated {
		t.Errorf("State() = %s, want created", p.State())
	}
}

func TestPreview_SendsOnlyMappedColumns(t *testing.T) {
	fb := newFakeBackend()
	p := newTestPipeline(t, fb)
	_ = p.SetMapping([]accounting.FieldMapping{{Column: "Customer", Field: "partner_id"}})

	if _, err := p.Preview(context.Background(), accounting.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	req := fb.lastPreviews[0]
	if len(req.Mappings) != 1 || req.Mappings[0].Field != "partner_id" || req.SampleSize != 10 {
		t.Errorf("preview request = %+v", req)
	}
}

func TestPreview_FailureLeavesStateUnchanged(t *testing.T) {
	fb := newFakeBackend()
	fb.previewFn = func(accounting.PreviewRequest) (*accounting.PreviewResult, error) {
		return nil, &accounting.APIError{StatusCode: 422, Message: "bad mapping"}
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	if _, err := p.Preview(context.Background(), accounting.ImportOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, want mapped", p.State())
	}
}

func TestPreview_StaleResponseDropped(t *testing.T) {
	fb := newFakeBackend()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var mu sync.Mutex
	first := true
	fb.previewFn = func(req accounting.PreviewRequest) (*accounting.PreviewResult, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			entered <- struct{}{}
			<-release
			return &accounting.PreviewResult{TotalRows: 1}, nil
		}
		return &accounting.PreviewResult{TotalRows: 2}, nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	errc := make(chan error, 1)
	go func() {
		_, err := p.Preview(context.Background(), accounting.ImportOptions{})
		errc <- err
	}()
	<-entered

	res, err := p.Preview(context.Background(), accounting.ImportOptions{})
	if err != nil || res.TotalRows != 2 {
		t.Fatalf("second Preview() = %+v, %v", res, err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStalePreview) {
		t.Errorf("first Preview() error = %v, want ErrStalePreview", err)
	}
	if got := p.Snapshot().Preview.TotalRows; got != 2 {
		t.Errorf("kept preview TotalRows = %d, want 2 from the newest call", got)
	}
}

func TestPreview_MappingChangeMakesResponseStale(t *testing.T) {
	fb := newFakeBackend()
	var p *Pipeline
	fb.previewFn = func(accounting.PreviewRequest) (*accounting.PreviewResult, error) {
		_ = p.MapColumn("Reference", "", "")
		return &accounting.PreviewResult{}, nil
	}
	p = newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	if _, err := p.Preview(context.Background(), accounting.ImportOptions{}); !errors.Is(err, ErrStalePreview) {
		t.Errorf("Preview() = %v, want ErrStalePreview", err)
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, want mapped", p.State())
	}
}

func TestValidate_UsesStrictLevel(t *testing.T) {
	fb := newFakeBackend()
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	if _, err := p.Validate(context.Background(), accounting.ImportOptions{}); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.State() != StatePreviewed {
		t.Errorf("State() = %s, want previewed", p.State())
	}
}

func pagedBatches(total int) func(accounting.PreviewBatchRequest) (*accounting.PreviewResult, error) {
	return func(req accounting.PreviewBatchRequest) (*accounting.PreviewResult, error) {
		end := min(req.Offset+req.BatchSize, total)
		res := &accounting.PreviewResult{
			TotalRows:  total,
			ValidRows:  end - req.Offset - 1,
			Errors:     []accounting.RowIssue{{Row: req.Offset + 1, Message: "Invalid date"}},
			Offset:     req.Offset,
			NextOffset: end,
			HasMore:    end < total,
		}
		return res, nil
	}
}

func TestPreviewAll_Batches(t *testing.T) {
	fb := newFakeBackend()
	fb.batchFn = pagedBatches(250)
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	var sizes []int
	sum, err := p.PreviewAll(context.Background(), PreviewAllOptions{BatchSize: 100}, func(r *accounting.PreviewResult) error {
		sizes = append(sizes, r.NextOffset-r.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("PreviewAll() error = %v", err)
	}
	if !slices.Equal(sizes, []int{100, 100, 50}) {
		t.Errorf("batch sizes = %v", sizes)
	}
	if !sum.Complete || sum.Batches != 3 || sum.CheckedRows != 250 || sum.ErrorCount != 3 || sum.ValidRows != 247 {
		t.Errorf("summary = %+v", sum)
	}
	if p.State() != StatePreviewed {
		t.Errorf("State() = %s, want previewed", p.State())
	}
}

func TestPreviewAll_ClampsBatchSizeToModelLimits(t *testing.T) {
	fb := newFakeBackend()
	fb.meta.BatchLimits = accounting.BatchLimits{Min: 20, Max: 50}
	var seen []int
	fb.batchFn = func(req accounting.PreviewBatchRequest) (*accounting.PreviewResult, error) {
		seen = append(seen, req.BatchSize)
		return &accounting.PreviewResult{TotalRows: 10, NextOffset: 10}, nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	if _, err := p.PreviewAll(context.Background(), PreviewAllOptions{BatchSize: 5000}, nil); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(seen, []int{50}) {
		t.Errorf("batch sizes = %v, want [50]", seen)
	}
}

func TestPreviewAll_CancelAndResume(t *testing.T) {
	fb := newFakeBackend()
	fb.batchFn = pagedBatches(300)
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	ctx, cancel := context.WithCancel(context.Background())
	sum, err := p.PreviewAll(ctx, PreviewAllOptions{BatchSize: 100}, func(r *accounting.PreviewResult) error {
		if r.Offset == 100 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("PreviewAll() error = %v, want context.Canceled", err)
	}
	if sum.Complete || sum.NextOffset != 200 {
		t.Fatalf("partial summary = %+v", sum)
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, cancelled run must not mark previewed", p.State())
	}

	sum, err = p.PreviewAll(context.Background(), PreviewAllOptions{BatchSize: 100, StartOffset: sum.NextOffset}, nil)
	if err != nil || !sum.Complete || sum.Batches != 1 {
		t.Errorf("resumed summary = %+v, %v", sum, err)
	}
}

func TestExecute_CreateOnlyWithDuplicates(t *testing.T) {
	fb := newFakeBackend()
	fb.session.RowCount = 10
	fb.executeFn = func(accounting.ExecuteRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"result":{"total_rows":10,"created_count":8,"failed_count":2,"errors":[
			{"row":3,"message":"Partner with reference ACME already exists"},
			{"row":7,"message":"Partner with reference BETA already exists"}]}}`), nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	res, err := p.Execute(context.Background(), ExecuteOptions{Policy: PolicyCreateOnly})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Created != 8 || res.Failed != 2 || res.ProcessedRows != 10 {
		t.Errorf("result = %+v", res)
	}
	if res.ErrorsByType[ErrorTypeDuplicate] != 2 {
		t.Errorf("ErrorsByType = %v, want duplicate:2", res.ErrorsByType)
	}
	if !res.Balanced() {
		t.Error("result not balanced")
	}
	if fb.lastExecute.Policy != "create_only" || fb.lastExecute.BatchSize != 100 {
		t.Errorf("execute request = %+v", fb.lastExecute)
	}
	if fb.callCount("delete") != 1 {
		t.Errorf("session delete calls = %d, want 1 after completion", fb.callCount("delete"))
	}
	if got, ok := p.Result(); !ok || got.Created != 8 {
		t.Errorf("Result() = %+v, %v", got, ok)
	}
}

func TestExecute_BackendFailureIsTerminal(t *testing.T) {
	fb := newFakeBackend()
	fb.executeFn = func(accounting.ExecuteRequest) (json.RawMessage, error) {
		return nil, &accounting.APIError{StatusCode: 500, Message: "database locked"}
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	if _, err := p.Execute(context.Background(), ExecuteOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if p.State() != StateFailed || p.Err() != "database locked" {
		t.Errorf("State() = %s Err() = %q", p.State(), p.Err())
	}
	if _, err := p.Execute(context.Background(), ExecuteOptions{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry after failure = %v, want ErrInvalidTransition", err)
	}
	if n := fb.callCount("execute"); n != 1 {
		t.Errorf("execute calls = %d, want 1 (no automatic retry)", n)
	}
}

func TestExecute_RejectsUnknownPolicy(t *testing.T) {
	p := newTestPipeline(t, newFakeBackend())
	_ = p.SetMapping(fullMapping())

	if _, err := p.Execute(context.Background(), ExecuteOptions{Policy: "merge"}); err == nil {
		t.Error("expected error for unknown policy")
	}
	if p.State() != StateMapped {
		t.Errorf("State() = %s, want mapped", p.State())
	}
}

func TestExecute_PollsPendingExecution(t *testing.T) {
	fb := newFakeBackend()
	fb.executeFn = func(accounting.ExecuteRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"queued"}`), nil
	}
	polls := 0
	fb.statusFn = func() (*accounting.ImportStatus, error) {
		polls++
		if polls < 3 {
			return &accounting.ImportStatus{State: "running", Processed: polls * 10, Total: 100}, nil
		}
		return &accounting.ImportStatus{
			State:  "completed",
			Result: json.RawMessage(`{"created":95,"updated":0,"failed":5,"processed_rows":100}`),
		}, nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	res, err := p.Execute(context.Background(), ExecuteOptions{Policy: PolicyUpsert})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Created != 95 || res.Failed != 5 || res.ProcessedRows != 100 {
		t.Errorf("result = %+v", res)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
}

func TestExecute_PendingExecutionFails(t *testing.T) {
	fb := newFakeBackend()
	fb.executeFn = func(accounting.ExecuteRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"pending"}`), nil
	}
	fb.statusFn = func() (*accounting.ImportStatus, error) {
		return &accounting.ImportStatus{State: "failed", Message: "worker crashed"}, nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	_, err := p.Execute(context.Background(), ExecuteOptions{})
	if err == nil || err.Error() != "worker crashed" {
		t.Errorf("Execute() error = %v", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %s, want failed", p.State())
	}
}

func TestCancel_RefusedWhileExecuting(t *testing.T) {
	fb := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	fb.executeFn = func(accounting.ExecuteRequest) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"created": 100}`), nil
	}
	p := newTestPipeline(t, fb)
	_ = p.SetMapping(fullMapping())

	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), ExecuteOptions{})
		done <- err
	}()
	<-started

	err := p.Cancel(context.Background())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel() during execute error = %v, want ErrInvalidTransition", err)
	}
	if n := fb.callCount("delete"); n != 0 {
		t.Errorf("DeleteSession calls during execute = %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if p.State() != StateCompleted {
		t.Errorf("State() = %s, want completed", p.State())
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	p := newTestPipeline(t, fb)

	if err := p.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := p.Cancel(ctx); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
	if n := fb.callCount("delete"); n != 1 {
		t.Errorf("delete calls = %d, want 1", n)
	}
	if err := p.SetMapping(fullMapping()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SetMapping after cancel = %v, want ErrSessionClosed", err)
	}
}

func TestCancel_RetriesAfterDeleteFailure(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	fb.deleteErr = fmt.Errorf("connection reset")
	p := newTestPipeline(t, fb)

	if err := p.Cancel(ctx); err == nil {
		t.Fatal("expected delete error")
	}
	fb.deleteErr = nil
	if err := p.Cancel(ctx); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
	if n := fb.callCount("delete"); n != 2 {
		t.Errorf("delete calls = %d, want 2", n)
	}
}

func TestClampBatch(t *testing.T) {
	p := newTestPipeline(t, newFakeBackend())

	tests := []struct {
		n, fallback, want int
	}{
		{0, 100, 100},
		{-1, 500, 500},
		{5, 100, 10},
		{250, 100, 250},
		{5000, 100, 1000},
	}
	for _, tt := range tests {
		if got := p.clampBatch(tt.n, tt.fallback); got != tt.want {
			t.Errorf("clampBatch(%d, %d) = %d, want %d", tt.n, tt.fallback, got, tt.want)
		}
	}
}
