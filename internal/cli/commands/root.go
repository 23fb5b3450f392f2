package commands

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/internal/cli/config"
	"github.com/conduit-lang/fabrique/internal/cli/ui"
	"github.com/conduit-lang/fabrique/pkg/analysis"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Globals holds the persistent flags shared by every command
type Globals struct {
	ConfigPath string
	Schemas    []string
	Verbose    bool
	NoColor    bool

	logger *zap.Logger
}

// Logger returns a development logger with --verbose, a no-op otherwise
func (g *Globals) Logger() *zap.Logger {
	if g.logger != nil {
		return g.logger
	}

	g.logger = zap.NewNop()
	if g.Verbose {
		if logger, err := zap.NewDevelopment(); err == nil {
			g.logger = logger
		}
	}
	return g.logger
}

// Config loads the configuration file
func (g *Globals) Config() (*config.Config, error) {
	return config.Load(g.ConfigPath)
}

// Registry loads, analyzes and validates the schema files. files wins over --schema,
// which wins over the configured patterns.
func (g *Globals) Registry(cfg *config.Config, files []string) (*schema.Registry, error) {
	patterns := files
	if len(patterns) == 0 {
		patterns = g.Schemas
	}
	if len(patterns) == 0 {
		patterns = cfg.Schemas
	}

	shapes, err := schema.LoadFiles(patterns...)
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no records found in %v", patterns)
	}

	g.Logger().Debug("loaded schemas", zap.Strings("patterns", patterns), zap.Int("records", len(shapes)))
	return analysis.AnalyzeAll(shapes, analysis.WithLogger(g.Logger()))
}

// displayError carries a message already formatted for the terminal
type displayError struct {
	text string
	err  error
}

func (e *displayError) Error() string { return e.err.Error() }
func (e *displayError) Unwrap() error { return e.err }

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &Globals{}

	rootCmd := &cobra.Command{
		Use:   "fabrique",
		Short: "Schema-driven record factories for Go",
		Long: color.CyanString(`fabrique - record factories from your schema

fabrique reads record schemas, derives a builder for every record and
either generates typed factories or builds records on the fly.

Relations are created first: building an Anvil that belongs to a Hammer
creates the Hammer, copies its key into the Anvil and then stores the Anvil.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.NoColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.ConfigPath, "config", "c", "", "config file (default fabrique.yml)")
	flags.StringSliceVarP(&g.Schemas, "schema", "s", nil, "schema files or glob patterns, overriding the config")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "log debug output")
	flags.BoolVar(&g.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewCompletionCommand())
	rootCmd.AddCommand(NewCheckCommand(g))
	rootCmd.AddCommand(NewGenerateCommand(g))
	rootCmd.AddCommand(NewInspectCommand(g))
	rootCmd.AddCommand(NewSeedCommand(g))
	rootCmd.AddCommand(NewServeCommand(g))
	rootCmd.AddCommand(NewTokenCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValues(cmd.OutOrStdout(), color.NoColor)
			kv.Add("fabrique version", Version)
			kv.Add("Git commit", GitCommit)
			kv.Add("Build date", BuildDate)
			kv.Add("Go version", goVer)
			kv.Render()
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		ReportError(rootCmd, err)
		return err
	}
	return nil
}

// ReportError prints err to the command's error stream
func ReportError(cmd *cobra.Command, err error) {
	w := cmd.ErrOrStderr()

	var display *displayError
	if errors.As(err, &display) {
		fmt.Fprint(w, display.text)
		return
	}

	var analysisErr *schema.AnalysisError
	var validationErr *schema.ValidationError
	if errors.As(err, &analysisErr) || errors.As(err, &validationErr) {
		ui.Write(w, ui.ForError(err, color.NoColor))
		return
	}

	color.New(color.FgRed, color.Bold).Fprintf(w, "Error: %v\n", err)
}
