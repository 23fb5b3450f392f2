package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/fabrique/internal/cli/ui"
	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// NewInspectCommand creates the inspect command
func NewInspectCommand(g *Globals) *cobra.Command {
	var deps bool

	cmd := &cobra.Command{
		Use:   "inspect [records...]",
		Short: "Show the builder contract of records",
		Long: `Show the setters, relation hooks and construction steps derived for
each record. Without arguments every record is shown.`,
		Example: `  fabrique inspect
  fabrique inspect Anvil --schema schema/forge.yml
  fabrique inspect --deps`,
		ValidArgsFunction: completeRecords(g, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}

			registry, err := g.Registry(cfg, nil)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = registry.List()
			}

			out := cmd.OutOrStdout()
			for i, name := range names {
				model, ok := registry.Get(name)
				if !ok {
					return &displayError{
						text: ui.UnknownRecord(name, registry.List(), color.NoColor),
						err:  fmt.Errorf("%w: %s", fabrique.ErrUnknownRecord, name),
					}
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				printContract(out, model, synth.Synthesize(model))
			}

			if deps {
				fmt.Fprintln(out)
				fmt.Fprint(out, registry.AnalyzeDependencies().String())
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&deps, "deps", false, "also print the record creation order")

	return cmd
}

func printContract(w io.Writer, model *schema.AnalysisOutput, contract *synth.Contract) {
	noColor := color.NoColor

	ui.Header(w, contract.Record, noColor)
	kv := ui.NewKeyValues(w, noColor)
	kv.Add("Builder", contract.Builder)
	kv.Add("Table", contract.Table)
	if source := model.Source(); source != "" {
		kv.Add("Source", source)
	}
	if keys := model.PrimaryKeys(); len(keys) > 0 {
		kv.Add("Primary key", strings.Join(keys, ", "))
	}
	kv.Render()

	fmt.Fprintln(w)
	setters := ui.NewTable(w, noColor, "FIELD", "METHOD", "TYPE")
	for _, s := range contract.Setters {
		setters.AddRow(s.Field, s.Method, s.Type.String())
	}
	setters.Render()

	if len(contract.Hooks) > 0 {
		fmt.Fprintln(w)
		hooks := ui.NewTable(w, noColor, "RELATION", "METHOD", "CREATES", "SETS")
		for _, h := range contract.Hooks {
			hooks.AddRow(h.BaseName, h.Method, h.RelatedBuilder, h.OwnerField+" = "+h.RelatedRecord+"."+h.ReferencedKey)
		}
		hooks.Render()
	}

	fmt.Fprintln(w)
	steps := make([]string, len(contract.Steps))
	for i, step := range contract.Steps {
		if step.Kind == synth.StepResolveRelation {
			steps[i] = step.Kind.String() + " " + contract.Hooks[step.Hook].BaseName
			continue
		}
		steps[i] = step.Kind.String()
	}
	fmt.Fprintf(w, "Steps: %s\n", strings.Join(steps, " → "))
}
