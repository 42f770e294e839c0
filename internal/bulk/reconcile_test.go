package bulk

import (
	"testing"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

func TestReconcile(t *testing.T) {
	selected := ids("1", "2", "3", "4", "5")

	tests := []struct {
		name        string
		out         *accounting.BulkOutcome
		skip        bool
		successful  int
		failed      int
		skipped     int
		failedItems int
	}{
		{
			name: "every id reported",
			out: &accounting.BulkOutcome{
				Successful: ids("1", "2", "4", "5"),
				Failed:     []accounting.BulkIssue{{ID: "3", Error: "amount is zero"}},
			},
			successful:  4,
			failed:      1,
			failedItems: 1,
		},
		{
			name:       "missing ids are skipped when skipping",
			out:        &accounting.BulkOutcome{Successful: ids("1", "2")},
			skip:       true,
			successful: 2,
			skipped:    3,
		},
		{
			name:        "missing ids fail when not skipping",
			out:         &accounting.BulkOutcome{Successful: ids("1", "2")},
			successful:  2,
			failed:      3,
			failedItems: 3,
		},
		{
			name:        "reported skips fail when not skipping",
			out:         &accounting.BulkOutcome{Successful: ids("1", "2", "3"), Skipped: ids("4", "5"), SkippedCount: 2},
			successful:  3,
			failed:      2,
			failedItems: 2,
		},
		{
			name:       "count-only answer",
			out:        &accounting.BulkOutcome{SuccessfulCount: 3, FailedCount: 1, SkippedCount: 1},
			skip:       true,
			successful: 3,
			failed:     1,
			skipped:    1,
		},
		{
			name:       "over-reported counts are trimmed",
			out:        &accounting.BulkOutcome{SuccessfulCount: 5, FailedCount: 1, SkippedCount: 2},
			skip:       true,
			successful: 5,
		},
		{
			name: "foreign and duplicate ids ignored",
			out: &accounting.BulkOutcome{
				Successful: ids("1", "1", "99"),
				Failed:     []accounting.BulkIssue{{ID: "1", Error: "dup"}, {ID: "2"}},
			},
			skip:        true,
			successful:  1,
			failed:      1,
			skipped:     3,
			failedItems: 1,
		},
		{
			name:    "nil outcome",
			skip:    true,
			skipped: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reconcile(OpPost, selected, tt.out, tt.skip)
			got := [3]int{res.Successful, res.Failed, res.Skipped}
			want := [3]int{tt.successful, tt.failed, tt.skipped}
			if got != want {
				t.Errorf("(successful, failed, skipped) = %v, want %v", got, want)
			}
			if !res.Balanced() {
				t.Errorf("result not balanced: %+v", res)
			}
			if len(res.FailedItems) != tt.failedItems {
				t.Errorf("FailedItems = %+v, want %d", res.FailedItems, tt.failedItems)
			}
			if len(res.FailedItems) > res.Failed || len(res.SuccessfulIDs) > res.Successful {
				t.Errorf("detail lists exceed counts: %+v", res)
			}
		})
	}
}

func TestReconcile_FailedItemMessages(t *testing.T) {
	res := reconcile(OpCancel, ids("1", "2"), &accounting.BulkOutcome{
		Failed: []accounting.BulkIssue{{ID: "1", Reason: "has payments"}},
	}, false)

	if len(res.FailedItems) != 2 {
		t.Fatalf("FailedItems = %+v", res.FailedItems)
	}
	if res.FailedItems[0].Message != "has payments" {
		t.Errorf("FailedItems[0] = %+v", res.FailedItems[0])
	}
	if res.FailedItems[1].ID != "2" || res.FailedItems[1].Message != noOutcome {
		t.Errorf("FailedItems[1] = %+v", res.FailedItems[1])
	}
}

func TestToValidation(t *testing.T) {
	at := time.Now()

	v := toValidation(OpPost, 5, &accounting.BulkValidation{
		Invalid: []accounting.BulkIssue{{ID: "3", Reason: "Amount must be greater than zero"}},
	}, at)
	if v.ValidCount != 4 || v.InvalidCount != 1 || v.Selected != 5 {
		t.Errorf("derived validation = %+v", v)
	}

	v = toValidation(OpPost, 5, &accounting.BulkValidation{ValidCount: 2, InvalidCount: 3}, at)
	if v.ValidCount != 2 || v.InvalidCount != 3 || len(v.Invalid) != 0 {
		t.Errorf("count-only validation = %+v", v)
	}

	v = toValidation(OpPost, 2, nil, at)
	if v.ValidCount != 0 || v.InvalidCount != 0 || !v.CheckedAt.Equal(at) {
		t.Errorf("nil validation = %+v", v)
	}
}
