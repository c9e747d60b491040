package cmd

import (
	"github.com/spf13/cobra"

	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/pkg/indexer"
)

// targets are the directories and files named on the command line.
type targets struct {
	dirs  []string
	files []string
}

func (t *targets) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&t.dirs, "dir", "d", nil, "Directory to watch recursively (repeatable)")
	cmd.Flags().StringArrayVarP(&t.files, "file", "f", nil, "Single file to watch (repeatable)")
}

func (t *targets) validate() error {
	if len(t.dirs) == 0 && len(t.files) == 0 {
		return fierrors.ArgumentError("nothing to watch").
			WithSuggestion("pass at least one --dir or --file")
	}
	return nil
}

// addTo registers every target with m. Paths that cannot be watched are
// logged and skipped by the manager.
func (t *targets) addTo(m *indexer.Manager) error {
	if len(t.dirs) > 0 {
		if err := m.AddDirectories(t.dirs...); err != nil {
			return err
		}
	}
	if len(t.files) > 0 {
		if err := m.AddFiles(t.files...); err != nil {
			return err
		}
	}
	return nil
}
