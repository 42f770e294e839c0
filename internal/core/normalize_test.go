package core

import (
	"testing"
	"time"
)

func TestNormalizeResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		total     int
		processed int
		created   int
		updated   int
		failed    int
		skipped   int
		byType    map[string]int
		inferred  bool
	}{
		{
			name:      "legacy shape with string errors",
			raw:       `{"created": 8, "updated": 0, "errors": ["Row 3: Partner ACME already exists", "Row 9: Missing required field: date"]}`,
			total:     10,
			processed: 10,
			created:   8,
			failed:    2,
			byType:    map[string]int{ErrorTypeDuplicate: 1, ErrorTypeMissingField: 1},
			inferred:  true,
		},
		{
			name:      "generic shape nested under result",
			raw:       `{"result": {"total_rows": 10, "created_count": 8, "failed_count": 2, "errors": [{"row": 3, "message": "already exists"}, {"row": 4, "message": "already exists"}]}}`,
			total:     10,
			processed: 10,
			created:   8,
			failed:    2,
			byType:    map[string]int{ErrorTypeDuplicate: 2},
			inferred:  true,
		},
		{
			name:      "reported errors_by_type wins",
			raw:       `{"created_count": 5, "failed_count": 1, "errors": [{"message": "Invalid date"}], "errors_by_type": {"date_format": 1, "unused": 0}}`,
			total:     6,
			processed: 6,
			created:   5,
			failed:    1,
			byType:    map[string]int{"date_format": 1},
		},
		{
			name:      "processed gap becomes skipped",
			raw:       `{"processed_rows": 12, "created": 7, "updated": 2, "failed": 1}`,
			total:     12,
			processed: 12,
			created:   7,
			updated:   2,
			failed:    1,
			skipped:   2,
		},
		{
			name:      "under-reported processed is raised to the sum",
			raw:       `{"processed": 3, "created": 4, "updated": 1, "total": 5}`,
			total:     5,
			processed: 5,
			created:   4,
			updated:   1,
		},
		{
			name:      "detail list counts when no failed count is reported",
			raw:       `{"created": 1, "row_errors": [{"line": 2, "error": "Invalid partner"}, {"line": 3, "error": "boom"}]}`,
			total:     3,
			processed: 3,
			created:   1,
			failed:    2,
			byType:    map[string]int{ErrorTypeInvalidValue: 1, ErrorTypeOther: 1},
			inferred:  true,
		},
		{
			name:      "reported failed count is not raised by repeated rows",
			raw:       `{"total_rows": 10, "processed_rows": 10, "created_count": 8, "failed_count": 2, "errors": [{"row": 3, "message": "already exists"}, {"row": 3, "message": "Invalid partner"}, {"row": 7, "message": "already exists"}]}`,
			total:     10,
			processed: 10,
			created:   8,
			failed:    2,
			byType:    map[string]int{ErrorTypeDuplicate: 2, ErrorTypeInvalidValue: 1},
			inferred:  true,
		},
		{
			name:      "errored rows already counted as skipped",
			raw:       `{"total_rows": 10, "processed_rows": 10, "created_count": 8, "skipped_count": 2, "errors": [{"row": 4, "message": "Invalid date"}, {"row": 6, "message": "Invalid amount"}]}`,
			total:     10,
			processed: 10,
			created:   8,
			skipped:   2,
			byType:    map[string]int{ErrorTypeInvalidValue: 2},
			inferred:  true,
		},
		{
			name:      "distinct rows without a failed count",
			raw:       `{"created": 5, "errors": [{"row": 2, "message": "Invalid a"}, {"row": 2, "message": "Invalid b"}, {"message": "boom"}]}`,
			total:     7,
			processed: 7,
			created:   5,
			failed:    2,
			byType:    map[string]int{ErrorTypeInvalidValue: 2, ErrorTypeOther: 1},
			inferred:  true,
		},
		{
			name:      "failed_rows list is detail, not a count",
			raw:       `{"created": 3, "failed_rows": [{"row": 5, "message": "Invalid tax"}, {"row": 5, "message": "Invalid account"}]}`,
			total:     4,
			processed: 4,
			created:   3,
			failed:    1,
			byType:    map[string]int{ErrorTypeInvalidValue: 2},
			inferred:  true,
		},
		{
			name:      "id arrays count as lengths",
			raw:       `{"created": [11, 12, 13], "updated": ["a"], "skipped_count": "2"}`,
			total:     6,
			processed: 6,
			created:   3,
			updated:   1,
			skipped:   2,
		},
		{
			name:      "total smaller than processed is raised",
			raw:       `{"total_rows": 1, "created": 2}`,
			total:     2,
			processed: 2,
			created:   2,
		},
		{
			name: "empty object",
			raw:  `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalizeResult([]byte(tt.raw), NormalizeOptions{Policy: PolicyUpsert})
			if err != nil {
				t.Fatalf("NormalizeResult() error = %v", err)
			}
			got := [6]int{res.TotalRows, res.ProcessedRows, res.Created, res.Updated, res.Failed, res.Skipped}
			want := [6]int{tt.total, tt.processed, tt.created, tt.updated, tt.failed, tt.skipped}
			if got != want {
				t.Errorf("counts (total, processed, created, updated, failed, skipped) = %v, want %v", got, want)
			}
			if !res.Balanced() {
				t.Errorf("result not balanced: %+v", res)
			}
			if len(res.ErrorsByType) != len(tt.byType) {
				t.Errorf("ErrorsByType = %v, want %v", res.ErrorsByType, tt.byType)
			}
			for k, v := range tt.byType {
				if res.ErrorsByType[k] != v {
					t.Errorf("ErrorsByType[%s] = %d, want %d", k, res.ErrorsByType[k], v)
				}
			}
			if res.ErrorTypesInferred != tt.inferred {
				t.Errorf("ErrorTypesInferred = %v, want %v", res.ErrorTypesInferred, tt.inferred)
			}
			if res.Policy != PolicyUpsert {
				t.Errorf("Policy = %q", res.Policy)
			}
		})
	}
}

func TestNormalizeResult_RowErrorDetails(t *testing.T) {
	res, err := NormalizeResult([]byte(`{"created": 0, "errors": [
		"Row 14: Invalid value for field amount",
		{"row_number": 15, "field_name": "partner_id", "msg": "Missing required value"},
		{"row": 16}
	]}`), NormalizeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("Errors = %+v", res.Errors)
	}
	first := res.Errors[0]
	if first.Row != 14 || first.Message != "Invalid value for field amount" || first.Type != ErrorTypeInvalidValue {
		t.Errorf("Errors[0] = %+v", first)
	}
	second := res.Errors[1]
	if second.Row != 15 || second.Field != "partner_id" || second.Type != ErrorTypeMissingField {
		t.Errorf("Errors[1] = %+v", second)
	}
	if res.Errors[2].Message != "unknown error" || res.Errors[2].Type != ErrorTypeOther {
		t.Errorf("Errors[2] = %+v", res.Errors[2])
	}
}

func TestNormalizeResult_InvalidInput(t *testing.T) {
	for _, raw := range []string{``, `not json`, `[1,2]`, `"done"`} {
		if _, err := NormalizeResult([]byte(raw), NormalizeOptions{}); err == nil {
			t.Errorf("NormalizeResult(%q) expected error", raw)
		}
	}
}

func TestNormalizeResult_CarriesTiming(t *testing.T) {
	start := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	res, err := NormalizeResult([]byte(`{"created":1}`), NormalizeOptions{
		StartedAt:   start,
		CompletedAt: start.Add(3 * time.Second),
		SkipErrors:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration() != 3*time.Second || !res.SkipErrors {
		t.Errorf("Duration() = %v SkipErrors = %v", res.Duration(), res.SkipErrors)
	}
}

func TestClassifyRowError(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Partner with ref X already exists", ErrorTypeDuplicate},
		{"duplicate key value", ErrorTypeDuplicate},
		{"Missing required field: invoice_date", ErrorTypeMissingField},
		{"Invalid date format", ErrorTypeInvalidValue},
		{"INVALID selection value", ErrorTypeInvalidValue},
		{"Journal is locked", ErrorTypeOther},
		{"", ErrorTypeOther},
	}
	for _, tt := range tests {
		if got := ClassifyRowError(tt.msg); got != tt.want {
			t.Errorf("ClassifyRowError(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
