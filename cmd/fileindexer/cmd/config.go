package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/enata/fileindexer/internal/config"
	"github.com/enata/fileindexer/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage fileindexer configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/fileindexer/config.yaml)
  3. Project config (.fileindexer.yaml in the working directory)
  4. Environment variables (FILEINDEXER_*)`,
		Example: `  # Create user config with defaults
  fileindexer config init

  # Show effective configuration
  fileindexer config show

  # Print user config file path
  fileindexer config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with defaults",
		Long: `Write the default configuration to the user config file, or with
--project to .fileindexer.yaml in the working directory.`,
		Example: `  fileindexer config init
  fileindexer config init --project --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, project)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&project, "project", false, "Write .fileindexer.yaml in the working directory")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  fileindexer config show
  fileindexer config show --json
  fileindexer config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force, project bool) error {
	out := output.New(cmd.OutOrStdout())

	path := config.GetUserConfigPath()
	if project {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, ".fileindexer.yaml")
	}

	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to overwrite it with defaults")
		return nil
	}

	backup, err := config.BackupFile(path)
	if err != nil {
		return fmt.Errorf("failed to back up existing config: %w", err)
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
	)

	switch source {
	case "merged":
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		cfg, err = config.Load(cwd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sourceDesc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		userCfg, err := config.LoadUserConfig()
		if err != nil {
			return err
		}
		if userCfg == nil {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'fileindexer config init' to create one")
			return nil
		}
		cfg = userCfg
		sourceDesc = fmt.Sprintf("user (%s)", path)

	case "project":
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path := config.ProjectConfigPath(cwd)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", filepath.Join(cwd, ".fileindexer.yaml"))
			out.Status("💡", "Run 'fileindexer config init --project' to create one")
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read project config: %w", err)
		}
		cfg = &config.Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse project config: %w", err)
		}
		sourceDesc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out.Raw(string(data))
	return nil
}
