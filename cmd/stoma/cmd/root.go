// Package cmd provides the CLI commands for stoma.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pym-cms/stoma/internal/catalog"
	"github.com/pym-cms/stoma/internal/config"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
	"github.com/pym-cms/stoma/internal/logging"
	"github.com/pym-cms/stoma/internal/pipeline"
	"github.com/pym-cms/stoma/pkg/version"
)

// app carries the state shared by all subcommands after PersistentPreRunE.
type app struct {
	configPath string
	verbosity  int
	locale     string

	cfg     *config.Config
	log     *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command for the stoma CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "stoma",
		Short: "Incremental filesystem indexing into a full-text search service",
		Long: `Stoma indexes a local filesystem subtree into a full-text search
service. Files are discovered, their text and metadata extracted via a
content-analysis server, and the result published into a search index.
A relational catalog tracks per-file state so re-runs only do
incremental work.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("stoma version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Path to the YAML configuration file (required)")
	cmd.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	cmd.PersistentFlags().StringVar(&a.locale, "locale", "",
		"Locale override for messages and number formatting")

	cmd.AddCommand(newInitDBCmd(a))
	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newDropCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads the configuration and initialises logging. Called by every
// subcommand that does real work; `version` stays usable without a config.
func (a *app) setup() error {
	if a.configPath == "" {
		return stomaerr.New(stomaerr.ErrCodeConfigMissing,
			"no configuration file given, use --config", nil)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.locale != "" {
		cfg.Locale = a.locale
	}
	if a.verbosity > 0 {
		cfg.Logging.Level = logging.LevelForVerbosity(a.verbosity)
	}

	log, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.cleanup = cleanup
	return nil
}

// teardown flushes logging. Safe to call without a prior setup.
func (a *app) teardown() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// withRunner runs fn with a wired pipeline over an open catalog store.
func (a *app) withRunner(fn func(*pipeline.Runner) error) error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.teardown()

	store, err := catalog.Open(a.cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(pipeline.New(a.log, a.cfg, store))
}

// Execute runs the CLI and prints a classified error report on failure.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, stomaerr.FormatForCLI(err))
		return err
	}
	return nil
}
