// Package templates holds the HTML fragments returned to HTMX requests.
package templates

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/a-h/templ"
)

// ErrorAlert renders a dismissible error box with the support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`,
			templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<p class="alert-code">Error code: %s</p></div>`, templ.EscapeString(code))
		return err
	})
}

// ImportSummary renders the counts of a finished import and its error
// histogram.
func ImportSummary(r core.ImportResult) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="import-summary" data-policy="%s">`+
			`<dl><dt>Rows</dt><dd>%d</dd><dt>Created</dt><dd>%d</dd><dt>Updated</dt><dd>%d</dd>`+
			`<dt>Failed</dt><dd>%d</dd><dt>Skipped</dt><dd>%d</dd></dl>`,
			templ.EscapeString(string(r.Policy)), r.ProcessedRows, r.Created, r.Updated, r.Failed, r.Skipped)
		if err != nil {
			return err
		}
		if len(r.ErrorsByType) > 0 {
			kinds := make([]string, 0, len(r.ErrorsByType))
			for k := range r.ErrorsByType {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			if _, err := io.WriteString(w, `<ul class="error-types">`); err != nil {
				return err
			}
			for _, k := range kinds {
				if _, err := fmt.Fprintf(w, `<li>%s: %d</li>`, templ.EscapeString(k), r.ErrorsByType[k]); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul>`); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// BulkSummary renders the outcome of a bulk operation with each failed item.
func BulkSummary(r bulk.Result) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="bulk-summary" data-operation="%s">`+
			`<p>%d of %d succeeded, %d failed, %d skipped.</p>`,
			templ.EscapeString(string(r.Operation)), r.Successful, r.Selected, r.Failed, r.Skipped)
		if err != nil {
			return err
		}
		if len(r.FailedItems) > 0 {
			if _, err := io.WriteString(w, `<ul class="failed-items">`); err != nil {
				return err
			}
			for _, it := range r.FailedItems {
				if _, err := fmt.Fprintf(w, `<li><code>%s</code> %s</li>`,
					templ.EscapeString(string(it.ID)), templ.EscapeString(it.Message)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul>`); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}
