package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/enata/fileindexer/internal/output"
	"github.com/enata/fileindexer/pkg/indexer"
)

func newQueryCmd(ro *rootOptions) *cobra.Command {
	var (
		t          targets
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query EXPR",
		Short: "Index the given paths once and print files matching EXPR",
		Long: `Index the given directories and files, evaluate a single query, print
the matching files, and exit.

Words are matched case-insensitively. Adjacent words, AND, "&", and ";" all
mean AND; OR and "|" mean OR; OR binds loosest.`,
		Example: `  # Files under ./notes containing both words
  fileindexer query -d ./notes "deadline budget"

  # Either word, as JSON
  fileindexer query -d ./notes --json "draft | final"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.validate(); err != nil {
				return err
			}
			return runQuery(cmd, ro, t, strings.Join(args, " "), jsonOutput)
		},
	}

	t.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runQuery(cmd *cobra.Command, ro *rootOptions, t targets, expr string, jsonOutput bool) error {
	m, cleanup, err := ro.openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	q, err := m.ParseQuery(expr)
	if err != nil {
		return err
	}
	if err := t.addTo(m); err != nil {
		return err
	}

	results, err := m.QueryIndex(q)
	if err != nil {
		return err
	}

	return printResults(output.New(cmd.OutOrStdout()), results, jsonOutput)
}

// printResults writes query results as lines or as a JSON array.
func printResults(out *output.Writer, results []indexer.FileInfo, jsonOutput bool) error {
	if jsonOutput {
		return out.JSON(results)
	}
	if len(results) == 0 {
		out.Status("", "no matching files")
		return nil
	}
	for _, r := range results {
		out.File(r.Path, r.Size, r.ModTime)
	}
	return nil
}
