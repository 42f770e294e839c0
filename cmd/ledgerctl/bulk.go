package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/store"
	"github.com/spf13/cobra"
)

var bulkFlags struct {
	model          string
	op             string
	ids            []string
	all            bool
	page           int
	reason         string
	postingDate    string
	skipIneligible bool
	dryRun         bool
}

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "List entities or run a bulk post, cancel, reset or delete",
	Long: "Without --ids or --all, bulk lists one page of entities together with the local\n" +
		"eligibility hint for --op. With a selection it validates the operation on the\n" +
		"backend, prints the breakdown and, unless --dry-run is set, executes it.",
	Args: cobra.NoArgs,
	RunE: runBulk,
}

func init() {
	f := bulkCmd.Flags()
	f.StringVar(&bulkFlags.model, "model", "account.move", "Entity model")
	f.StringVar(&bulkFlags.op, "op", "post", "Operation: post, cancel, reset_to_draft or delete")
	f.StringSliceVar(&bulkFlags.ids, "ids", nil, "Comma-separated entity ids from the listed page")
	f.BoolVar(&bulkFlags.all, "all", false, "Select every entity on the page")
	f.IntVar(&bulkFlags.page, "page", 1, "List page to load")
	f.StringVar(&bulkFlags.reason, "reason", "", "Cancellation reason")
	f.StringVar(&bulkFlags.postingDate, "posting-date", "", "Posting date, YYYY-MM-DD")
	f.BoolVar(&bulkFlags.skipIneligible, "skip-ineligible", true, "Skip ineligible items instead of failing them")
	f.BoolVar(&bulkFlags.dryRun, "dry-run", false, "Validate only")
	rootCmd.AddCommand(bulkCmd)
}

func runBulk(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	op, err := bulk.ParseOperation(bulkFlags.op)
	if err != nil {
		return err
	}
	opts := bulk.Options{Reason: bulkFlags.reason}
	if bulkFlags.postingDate != "" {
		d, err := time.Parse(time.DateOnly, bulkFlags.postingDate)
		if err != nil {
			return fmt.Errorf("invalid --posting-date %q: want YYYY-MM-DD", bulkFlags.postingDate)
		}
		opts.PostingDate = d
	}
	if cmd.Flags().Changed("skip-ineligible") {
		opts.SkipIneligible = &bulkFlags.skipIneligible
	}

	stores, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer stores.Close()

	reg := bulk.NewRegistry(newClient(), cfg.Bulk, nil, stores.Audit)
	c, err := reg.Open(ctx, bulkFlags.model)
	if err != nil {
		return userError(err)
	}
	defer reg.Close(c.ID())
	if bulkFlags.page > 1 {
		if err := c.LoadPage(ctx, bulkFlags.page); err != nil {
			return userError(err)
		}
	}

	snap := c.Snapshot()
	if len(bulkFlags.ids) == 0 && !bulkFlags.all {
		printEntities(os.Stdout, snap, c.Hints(op))
		return nil
	}

	if bulkFlags.all {
		if err := c.ToggleAll(); err != nil {
			return userError(err)
		}
	}
	for _, id := range bulkFlags.ids {
		if err := c.Toggle(accounting.EntityID(id)); err != nil {
			return userError(fmt.Errorf("%s: %w", id, err))
		}
	}

	v, err := c.Validate(ctx, op)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("%s: %d selected, %d eligible, %d ineligible\n", op, v.Selected, v.ValidCount, v.InvalidCount)
	for _, is := range v.Invalid {
		fmt.Printf("  %s: %s\n", is.ID, is.Message)
	}
	if bulkFlags.dryRun {
		return nil
	}

	res, err := reg.Execute(ctx, c.ID(), op, opts)
	if err != nil {
		return userError(err)
	}
	printBulkResult(os.Stdout, res)
	if res.Failed > 0 {
		return errors.New("some items failed")
	}
	return nil
}

func printEntities(w io.Writer, snap bulk.Snapshot, hints map[accounting.EntityID]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Page %d of %s (%d total)\n", snap.Page, snap.Model, snap.Total)
	fmt.Fprintln(tw, "ID\tNAME\tPARTNER\tSTATUS\tAMOUNT\tNOTE")
	for _, e := range snap.Entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n", e.ID, e.Name, e.Partner, e.Status, e.Amount, hints[e.ID])
	}
}

func printBulkResult(w io.Writer, r *bulk.Result) {
	fmt.Fprintf(w, "%s: %d successful, %d failed, %d skipped of %d selected\n",
		r.Operation, r.Successful, r.Failed, r.Skipped, r.Selected)
	for _, is := range r.FailedItems {
		fmt.Fprintf(w, "  %s: %s\n", is.ID, is.Message)
	}
}
