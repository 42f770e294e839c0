package core

// normalize.go turns the backend's execute answer into an ImportResult.
//
// Two response shapes are in circulation: the legacy one
// ({"created": 8, "errors": ["Row 3: ..."]}) and the generic import one
// ({"result": {"created_count": 8, "failed_count": 2, "errors": [{...}]}}).
// Both are read with gjson so missing or differently typed keys never fail
// the whole decode. After reading, counts are reconciled so that
// processed = created + updated + failed + skipped always holds.

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// NormalizeOptions carries execution context the response does not repeat.
type NormalizeOptions struct {
	Policy      Policy
	SkipErrors  bool
	StartedAt   time.Time
	CompletedAt time.Time
}

var rowPrefix = regexp.MustCompile(`(?i)^\s*(?:row|line)\s+(\d+)\s*[:\-]\s*`)

// NormalizeResult decodes and reconciles an execute response.
func NormalizeResult(raw []byte, opts NormalizeOptions) (ImportResult, error) {
	if !gjson.ValidBytes(raw) {
		return ImportResult{}, errors.New("execute response is not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return ImportResult{}, errors.New("execute response is not a JSON object")
	}
	doc := root
	if r := root.Get("result"); r.IsObject() {
		doc = r
	}

	res := ImportResult{
		Policy:      opts.Policy,
		SkipErrors:  opts.SkipErrors,
		StartedAt:   opts.StartedAt,
		CompletedAt: opts.CompletedAt,
	}

	total, hasTotal := countAt(doc, "total_rows", "total", "row_count")
	processed, hasProcessed := countAt(doc, "processed_rows", "processed")
	res.Created, _ = countAt(doc, "created_count", "created", "created_rows", "imported")
	res.Updated, _ = countAt(doc, "updated_count", "updated", "updated_rows")
	var hasFailed bool
	res.Failed, hasFailed = countAt(doc, "failed_count", "error_count", "failed")
	if !hasFailed && doc.Get("failed_rows").Type != gjson.JSON {
		// An array under failed_rows is a detail list, not a count.
		res.Failed, hasFailed = countAt(doc, "failed_rows")
	}
	res.Skipped, _ = countAt(doc, "skipped_count", "skipped", "skipped_rows")

	for _, key := range []string{"errors", "row_errors", "failed_rows"} {
		if v := doc.Get(key); v.IsArray() {
			res.Errors = append(res.Errors, decodeRowErrors(v)...)
		}
	}

	if reported := doc.Get("errors_by_type"); reported.IsObject() {
		res.ErrorsByType = make(map[string]int)
		reported.ForEach(func(k, v gjson.Result) bool {
			if n := int(v.Int()); n > 0 {
				res.ErrorsByType[k.String()] = n
			}
			return true
		})
	} else if len(res.Errors) > 0 {
		res.ErrorsByType = make(map[string]int)
		for _, e := range res.Errors {
			res.ErrorsByType[e.Type]++
		}
		res.ErrorTypesInferred = true
	}

	if !hasFailed {
		// Under skip-errors the backend may already count errored rows as
		// skipped.
		res.Failed = max(failedRows(res.Errors)-res.Skipped, 0)
	}
	reconcile(&res, processed, hasProcessed, total, hasTotal)
	return res, nil
}

// failedRows counts the distinct rows in a detail list. Entries without a
// row number count one each.
func failedRows(errs []RowError) int {
	rows := make(map[int]struct{}, len(errs))
	n := 0
	for _, e := range errs {
		if e.Row <= 0 {
			n++
			continue
		}
		rows[e.Row] = struct{}{}
	}
	return n + len(rows)
}

// reconcile enforces the row accounting identity. Rows the backend processed
// but did not assign to any bucket are counted as skipped.
func reconcile(res *ImportResult, processed int, hasProcessed bool, total int, hasTotal bool) {
	sum := res.Created + res.Updated + res.Failed + res.Skipped

	if !hasProcessed && hasTotal && total > sum {
		// Legacy responses omit processed; every row of the file was handled.
		processed, hasProcessed = total, true
	}
	if hasProcessed && processed > sum {
		res.Skipped += processed - sum
		sum = processed
	}
	res.ProcessedRows = sum

	res.TotalRows = total
	if !hasTotal || res.TotalRows < res.ProcessedRows {
		res.TotalRows = res.ProcessedRows
	}
}

// countAt returns the first key that is present. Arrays count as their length.
func countAt(doc gjson.Result, keys ...string) (int, bool) {
	for _, k := range keys {
		v := doc.Get(k)
		switch {
		case !v.Exists(), v.Type == gjson.Null:
			continue
		case v.IsArray():
			return len(v.Array()), true
		case v.Type == gjson.Number:
			return max(int(v.Int()), 0), true
		case v.Type == gjson.String:
			if n, err := strconv.Atoi(strings.TrimSpace(v.Str)); err == nil {
				return max(n, 0), true
			}
		}
	}
	return 0, false
}

func decodeRowErrors(arr gjson.Result) []RowError {
	var out []RowError
	arr.ForEach(func(_, item gjson.Result) bool {
		var e RowError
		switch {
		case item.Type == gjson.String:
			e.Message = item.Str
			if m := rowPrefix.FindStringSubmatch(e.Message); m != nil {
				e.Row, _ = strconv.Atoi(m[1])
				e.Message = e.Message[len(m[0]):]
			}
		case item.IsObject():
			e.Row = int(firstOf(item, "row", "row_number", "line").Int())
			e.Field = firstOf(item, "field", "field_name", "column").String()
			e.Message = firstOf(item, "message", "error", "msg", "detail").String()
			e.Type = item.Get("type").String()
		default:
			return true
		}
		if e.Message == "" {
			e.Message = "unknown error"
		}
		if e.Type == "" {
			e.Type = ClassifyRowError(e.Message)
		}
		out = append(out, e)
		return true
	})
	return out
}

func firstOf(item gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := item.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
