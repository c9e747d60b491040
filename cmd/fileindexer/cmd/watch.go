package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/output"
	"github.com/enata/fileindexer/internal/telemetry"
	"github.com/enata/fileindexer/pkg/indexer"
)

func newWatchCmd(ro *rootOptions) *cobra.Command {
	var (
		t          targets
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch paths and answer queries read from stdin",
		Long: `Watch the given directories and files, keep the index current as they
change, and answer one query per line read from standard input until EOF or
interrupt.

Besides queries, these lines are understood:
  :stats   print index counters
  :tree    print the observation tree
  :quit    stop watching`,
		Example: `  fileindexer watch -d ~/notes -f ~/todo.txt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.validate(); err != nil {
				return err
			}
			return runWatch(cmd, ro, t, jsonOutput)
		},
	}

	t.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runWatch(cmd *cobra.Command, ro *rootOptions, t targets, jsonOutput bool) error {
	m, cleanup, err := ro.openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := t.addTo(m); err != nil {
		return err
	}

	status := output.New(cmd.ErrOrStderr())
	stats := m.Stats()
	status.Successf("watching: %d files indexed, %d distinct words", stats.Files, stats.Words)
	status.Status("💡", "enter a query per line (:stats, :tree, :quit)")

	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":stats":
			printStats(out, m, jsonOutput)
			continue
		case ":tree":
			printTree(out, m.Snapshot(), jsonOutput)
			continue
		}

		q, err := m.ParseQuery(line)
		if err != nil {
			status.Raw(fierrors.FormatForCLI(err))
			continue
		}
		results, err := m.QueryIndex(q)
		if err != nil {
			status.Raw(fierrors.FormatForCLI(err))
			continue
		}
		if err := printResults(out, results, jsonOutput); err != nil {
			return err
		}
	}
}

// readLines yields lines from r until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func printStats(out *output.Writer, m *indexer.Manager, jsonOutput bool) {
	s, q := m.Stats(), m.QueryMetrics()
	if jsonOutput {
		_ = out.JSON(map[string]any{"index": s, "queries": q})
		return
	}
	out.Header("Index")
	out.KeyValue("Files", s.Files)
	out.KeyValue("Words", s.Words)
	out.KeyValue("Tombstones", s.Tombstones)
	out.KeyValue("Generation", s.Generation)
	out.Header("Queries")
	out.KeyValue("Total", q.TotalQueries)
	out.KeyValue("Cache hits", fmt.Sprintf("%.0f%%", q.CacheHitRate()*100))
	out.KeyValue("No results", q.ZeroResultCount)
	for _, b := range telemetry.Buckets {
		if n := q.LatencyDistribution[b]; n > 0 {
			out.KeyValue(string(b), n)
		}
	}
}
