package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models [model]",
	Short: "List importable models, or the fields of one model",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if len(args) == 0 {
		models, err := client.ListModels(ctx)
		if err != nil {
			return userError(err)
		}
		fmt.Fprintln(tw, "MODEL\tLABEL\tDESCRIPTION")
		for _, m := range models {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Label, m.Description)
		}
		return nil
	}

	meta, err := client.ModelMetadata(ctx, args[0])
	if err != nil {
		return userError(err)
	}
	fmt.Fprintln(tw, "FIELD\tTYPE\tREQUIRED\tDETAIL")
	for _, f := range meta.Fields {
		detail := f.Relation
		if len(f.Selection) > 0 {
			detail = strings.Join(f.Selection, "|")
		}
		req := ""
		if f.Required {
			req = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.Type, req, detail)
	}
	return nil
}
