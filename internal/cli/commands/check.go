package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/fabrique/internal/cli/ui"
)

// NewCheckCommand creates the check command
func NewCheckCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check [schema files...]",
		Short: "Analyze schemas and validate their relations",
		Long: `Analyze every record of the given schema files, or of the configured
schemas, and check that each relation points at a known record and key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}

			registry, err := g.Registry(cfg, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range registry.List() {
				model, _ := registry.Get(name)
				summary := fmt.Sprintf("%s → table %s, %s, %s",
					name, model.Table(),
					plural(len(model.Fields()), "field"),
					plural(len(model.Relations()), "relation"))
				ui.WriteSuccess(out, summary, color.NoColor)
			}

			return nil
		},
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
