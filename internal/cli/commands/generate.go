package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/fabrique/internal/cli/ui"
	"github.com/conduit-lang/fabrique/internal/codegen"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

type generateFlags struct {
	output      string
	pkg         string
	persistable string
	connection  string
	placeholder string
	noRecords   bool
	dryRun      bool
}

// NewGenerateCommand creates the generate command
func NewGenerateCommand(g *Globals) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate [schema files...]",
		Short: "Generate typed factories for every record",
		Long: `Generate one factory file per record: the record struct, its builder
with one setter per field and one For<Relation> hook per relation, and a
Create method that creates related records before the record itself.

With --persistable sql the records also implement fabrique.Persistable
with INSERT ... RETURNING statements.`,
		Example: `  fabrique generate
  fabrique generate schema/forge.yml -o internal/factories -p factories
  fabrique generate --persistable sql --connection "*database/sql.DB"
  fabrique generate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, g, flags, args)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output directory (default output.dir)")
	cmd.Flags().StringVarP(&flags.pkg, "package", "p", "", "package name of the generated files")
	cmd.Flags().StringVar(&flags.persistable, "persistable", "", "persistence to generate: none or sql")
	cmd.Flags().StringVar(&flags.connection, "connection", "", "connection type of the generated Create methods")
	cmd.Flags().StringVar(&flags.placeholder, "placeholder", "", "bind parameters of generated SQL: dollar or question")
	cmd.Flags().BoolVar(&flags.noRecords, "no-records", false, "do not emit record structs, only factories")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the files instead of writing them")

	return cmd
}

func runGenerate(cmd *cobra.Command, g *Globals, flags *generateFlags, args []string) error {
	cfg, err := g.Config()
	if err != nil {
		return err
	}

	opts := cfg.CodegenOptions()
	dir := cfg.Output.Dir

	changed := cmd.Flags().Changed
	if changed("output") {
		dir = flags.output
	}
	if changed("package") {
		opts.Package = flags.pkg
	}
	if changed("persistable") {
		if opts.Persistable, err = codegen.ParsePersistable(flags.persistable); err != nil {
			return err
		}
	}
	if changed("connection") {
		opts.Connection = flags.connection
	}
	if changed("placeholder") {
		if opts.Placeholder, err = sqlstore.ParsePlaceholder(flags.placeholder); err != nil {
			return err
		}
	}
	if flags.noRecords {
		opts.EmitRecords = false
	}

	registry, err := g.Registry(cfg, args)
	if err != nil {
		return err
	}

	gen, err := codegen.New(registry, opts, codegen.WithLogger(g.Logger()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if flags.dryRun {
		files, err := gen.Generate()
		if err != nil {
			return err
		}
		for _, file := range files {
			ui.Header(out, file.Name, color.NoColor)
			fmt.Fprintln(out, string(file.Source))
		}
		return nil
	}

	paths, err := gen.Write(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintf(out, "  %s %s\n", color.GreenString("create"), path)
	}
	ui.WriteSuccess(out, fmt.Sprintf("Generated %s for %s in %s",
		plural(len(paths), "file"), plural(registry.Count(), "record"), dir), color.NoColor)

	return nil
}
