package bulk

import (
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// noOutcome is the failure message for selected ids the backend did not
// report on.
const noOutcome = "no outcome reported"

// reconcile turns a backend outcome into a Result whose counts add up to
// the selection size. Ids the backend left out count as skipped when
// skipping was allowed and as failed otherwise. Skips reported while
// skipping was off count as failures. Over-reported counts are trimmed in
// the order skipped, failed, successful.
func reconcile(op Operation, selected []accounting.EntityID, out *accounting.BulkOutcome, skip bool) Result {
	res := Result{
		Operation:      op,
		Selected:       len(selected),
		SkipIneligible: skip,
	}
	if out == nil {
		out = &accounting.BulkOutcome{}
	}

	inSelection := make(map[accounting.EntityID]bool, len(selected))
	for _, id := range selected {
		inSelection[id] = true
	}
	accounted := make(map[accounting.EntityID]bool, len(selected))

	for _, id := range out.Successful {
		if inSelection[id] && !accounted[id] {
			accounted[id] = true
			res.SuccessfulIDs = append(res.SuccessfulIDs, id)
		}
	}
	for _, it := range out.Failed {
		if inSelection[it.ID] && !accounted[it.ID] {
			accounted[it.ID] = true
			res.FailedItems = append(res.FailedItems, Issue{ID: it.ID, Message: issueMessage(it)})
		}
	}
	var skippedIDs []accounting.EntityID
	for _, id := range out.Skipped {
		if inSelection[id] && !accounted[id] {
			accounted[id] = true
			skippedIDs = append(skippedIDs, id)
		}
	}

	res.Successful = max(out.SuccessfulCount, len(res.SuccessfulIDs))
	res.Failed = max(out.FailedCount, len(res.FailedItems))
	skipped := max(out.SkippedCount, len(skippedIDs))
	if skip {
		res.Skipped = skipped
	} else {
		res.Failed += skipped
		for _, id := range skippedIDs {
			res.FailedItems = append(res.FailedItems, Issue{ID: id, Message: "skipped by the server"})
		}
	}

	gap := res.Selected - (res.Successful + res.Failed + res.Skipped)
	switch {
	case gap > 0 && skip:
		res.Skipped += gap
	case gap > 0:
		res.Failed += gap
		for _, id := range selected {
			if !accounted[id] && gap > 0 {
				res.FailedItems = append(res.FailedItems, Issue{ID: id, Message: noOutcome})
				gap--
			}
		}
	case gap < 0:
		over := -gap
		for _, n := range []*int{&res.Skipped, &res.Failed, &res.Successful} {
			trim := min(over, *n)
			*n -= trim
			over -= trim
		}
		if len(res.FailedItems) > res.Failed {
			res.FailedItems = res.FailedItems[:res.Failed]
		}
		if len(res.SuccessfulIDs) > res.Successful {
			res.SuccessfulIDs = res.SuccessfulIDs[:res.Successful]
		}
	}
	return res
}

func issueMessage(it accounting.BulkIssue) string {
	if m := it.Message(); m != "" {
		return m
	}
	return "failed"
}

// toValidation converts a backend eligibility breakdown, deriving counts
// from the id lists when the backend only sent one or the other.
func toValidation(op Operation, selected int, v *accounting.BulkValidation, at time.Time) Validation {
	out := Validation{Operation: op, Selected: selected, CheckedAt: at}
	if v == nil {
		return out
	}
	out.ValidIDs = v.ValidIDs
	for _, it := range v.Invalid {
		out.Invalid = append(out.Invalid, Issue{ID: it.ID, Message: issueMessage(it)})
	}
	out.ValidCount = max(v.ValidCount, len(v.ValidIDs))
	out.InvalidCount = max(v.InvalidCount, len(v.Invalid))
	if out.ValidCount == 0 && len(v.ValidIDs) == 0 && out.InvalidCount <= selected {
		out.ValidCount = selected - out.InvalidCount
	}
	return out
}
