package cmd

import (
	"github.com/spf13/cobra"

	"github.com/enata/fileindexer/internal/output"
	"github.com/enata/fileindexer/internal/tree"
)

func newTreeCmd(ro *rootOptions) *cobra.Command {
	var (
		t          targets
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the observation tree for the given paths",
		Long: `Build the observation tree for the given directories and files and print
its topology. Folders monitored as a whole are marked [all]; individually
registered files are marked +.`,
		Example: `  fileindexer tree -d ./docs -f ./notes/todo.txt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.validate(); err != nil {
				return err
			}

			m, cleanup, err := ro.openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := t.addTo(m); err != nil {
				return err
			}
			printTree(output.New(cmd.OutOrStdout()), m.Snapshot(), jsonOutput)
			return nil
		},
	}

	t.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the tree as JSON")

	return cmd
}

func printTree(out *output.Writer, nodes []tree.NodeInfo, jsonOutput bool) {
	if jsonOutput {
		_ = out.JSON(nodes)
		return
	}
	out.Raw(output.RenderTree(nodes, out.Styles()))
}
