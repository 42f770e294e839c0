package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/store"
	"github.com/spf13/cobra"
)

var importFlags struct {
	model      string
	planFile   string
	writePlan  string
	suggest    bool
	dryRun     bool
	policy     string
	batchSize  int
	skipErrors bool
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a file, map its columns and import it",
	Long: "import uploads a CSV, Excel or JSON file and maps its columns from a YAML plan\n" +
		"(--plan) and/or the backend's suggestions. With --dry-run the whole file is\n" +
		"previewed batch by batch and nothing is written. --write-plan saves the\n" +
		"resulting mapping instead of importing, as a starting point for --plan.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importFlags.model, "model", "", "Target model, e.g. account.move (or set model: in the plan)")
	f.StringVar(&importFlags.planFile, "plan", "", "YAML file with column mappings and import settings")
	f.StringVar(&importFlags.writePlan, "write-plan", "", "Write the mapping to this YAML file and stop")
	f.BoolVar(&importFlags.suggest, "suggest", true, "Map remaining columns from backend suggestions")
	f.BoolVar(&importFlags.dryRun, "dry-run", false, "Preview the whole file without importing")
	f.StringVar(&importFlags.policy, "policy", "", "create_only, update_only or upsert (default create_only)")
	f.IntVar(&importFlags.batchSize, "batch-size", 0, "Execute batch size (default from IMPORT_BATCH_SIZE)")
	f.BoolVar(&importFlags.skipErrors, "skip-errors", false, "Keep importing past failing rows")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plan := &importPlan{}
	if importFlags.planFile != "" {
		p, err := loadPlan(importFlags.planFile)
		if err != nil {
			return err
		}
		plan = p
	}
	applyImportFlags(cmd, plan)
	if plan.Model == "" {
		return errors.New("a model is required: pass --model or set model: in the plan")
	}

	in, err := readInput(args[0], cfg.Import.MaxFileSize)
	if err != nil {
		return userError(err)
	}

	stores, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer stores.Close()

	svc := core.NewService(newClient(), cfg.Import, stores.Audit, stores.Templates)
	p, err := svc.StartImport(ctx, plan.Model, in)
	if err != nil {
		return userError(err)
	}
	defer func() {
		if !p.State().Terminal() {
			if err := svc.CancelImport(context.WithoutCancel(ctx), p.ID()); err != nil {
				slog.Warn("cancel session failed", "error", err)
			}
		}
	}()

	info := p.Info()
	fmt.Printf("Uploaded %s: %d rows, %d columns\n", info.FileName, info.RowCount, len(info.Columns))

	if len(plan.Mappings) > 0 {
		if err := p.SetMapping(plan.fieldMappings()); err != nil {
			return userError(err)
		}
	}
	if importFlags.suggest {
		p.FetchSuggestions(ctx)
		n, err := p.ApplySuggestions()
		if err != nil {
			return userError(err)
		}
		if n > 0 {
			fmt.Printf("Mapped %d column(s) from suggestions\n", n)
		}
	}

	if importFlags.writePlan != "" {
		data, err := planFromMappings(plan.Model, p.Mappings())
		if err != nil {
			return err
		}
		if err := os.WriteFile(importFlags.writePlan, data, 0o644); err != nil {
			return fmt.Errorf("write plan: %w", err)
		}
		fmt.Printf("Wrote mapping to %s\n", importFlags.writePlan)
		return nil
	}

	if missing := p.UnmappedRequired(); len(missing) > 0 {
		return userError(&core.UnmappedFieldsError{Fields: missing})
	}

	if importFlags.dryRun {
		return dryRun(ctx, p, plan.importOptions())
	}

	policy, err := core.ParsePolicy(plan.Policy)
	if err != nil {
		return err
	}
	res, err := svc.ExecuteImport(ctx, p.ID(), core.ExecuteOptions{
		Policy:     policy,
		BatchSize:  plan.BatchSize,
		SkipErrors: plan.SkipErrors,
		Options:    plan.importOptions(),
	})
	if err != nil {
		return userError(err)
	}
	printImportResult(os.Stdout, res)
	if res.Failed > 0 && !plan.SkipErrors {
		return fmt.Errorf("%d row(s) failed", res.Failed)
	}
	return nil
}

// applyImportFlags lets explicitly set flags override the plan file.
func applyImportFlags(cmd *cobra.Command, plan *importPlan) {
	f := cmd.Flags()
	if f.Changed("model") {
		plan.Model = importFlags.model
	}
	if f.Changed("policy") {
		plan.Policy = importFlags.policy
	}
	if f.Changed("batch-size") {
		plan.BatchSize = importFlags.batchSize
	}
	if f.Changed("skip-errors") {
		plan.SkipErrors = importFlags.skipErrors
	}
}

func readInput(path string, maxSize int64) (core.FileInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.FileInput{}, err
	}
	defer f.Close()
	return core.ReadFileInput(filepath.Base(path), f, maxSize)
}

func dryRun(ctx context.Context, p *core.Pipeline, opts accounting.ImportOptions) error {
	sum, err := p.PreviewAll(ctx, core.PreviewAllOptions{Options: opts}, func(res *accounting.PreviewResult) error {
		slog.Debug("preview batch", "offset", res.Offset, "valid", res.ValidRows, "errors", len(res.Errors))
		return nil
	})
	if sum != nil {
		fmt.Printf("Checked %d of %d rows in %d batch(es): %d valid, %d error(s), %d warning(s)\n",
			sum.CheckedRows, sum.TotalRows, sum.Batches, sum.ValidRows, sum.ErrorCount, sum.Warnings)
		for _, e := range sum.Errors {
			fmt.Printf("  row %d: %s\n", e.Row, e.Message)
		}
	}
	if err != nil {
		return userError(err)
	}
	if sum.ErrorCount > 0 {
		return fmt.Errorf("%d row(s) would fail", sum.ErrorCount)
	}
	return nil
}

func printImportResult(w io.Writer, r *core.ImportResult) {
	fmt.Fprintf(w, "Imported %d of %d rows in %s: %d created, %d updated, %d failed, %d skipped\n",
		r.ProcessedRows, r.TotalRows, r.Duration().Round(time.Millisecond), r.Created, r.Updated, r.Failed, r.Skipped)
	kinds := make([]string, 0, len(r.ErrorsByType))
	for k := range r.ErrorsByType {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, r.ErrorsByType[k])
	}
	for _, e := range r.Errors {
		loc := ""
		if e.Row > 0 {
			loc = fmt.Sprintf("row %d: ", e.Row)
		}
		fmt.Fprintf(w, "  %s%s\n", loc, strings.TrimSpace(e.Message))
	}
}
