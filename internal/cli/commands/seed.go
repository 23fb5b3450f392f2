package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/fabrique/internal/cli/ui"
	"github.com/conduit-lang/fabrique/internal/seedserver"
	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

// promptFunc asks for one value; an empty answer leaves the field unset
type promptFunc func(message string, validate func(string) error) (string, error)

// prompt and stdinIsTerminal are replaced in tests
var (
	prompt          promptFunc = surveyPrompt
	stdinIsTerminal            = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

func surveyPrompt(message string, validate func(string) error) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Input{Message: message}, &answer, survey.WithValidator(func(ans interface{}) error {
		s, _ := ans.(string)
		if s == "" {
			return nil
		}
		return validate(s)
	}))
	return answer, err
}

type seedFlags struct {
	storeFlags
	set         []string
	related     []string
	count       int
	interactive bool
	asJSON      bool
}

// NewSeedCommand creates the seed command
func NewSeedCommand(g *Globals) *cobra.Command {
	flags := &seedFlags{}

	cmd := &cobra.Command{
		Use:   "seed <record>",
		Short: "Create records through their builders",
		Long: `Create records of one type. Related records requested with --for are
created first and their keys copied into the record.

--set takes field=value. --for takes relation.field=value, or just the
relation name to create the related record with default values. Relations
nest: --for tongs.hammer.weight=3 customizes the hammer of the tongs.`,
		Example: `  fabrique seed Hammer --set weight=12
  fabrique seed Anvil --set label=a --for hammer.weight=40
  fabrique seed Anvil --for hammer --count 10 --store pgx --dsn postgres://localhost/forge
  fabrique seed Anvil --interactive`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeRecords(g, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, g, flags, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&flags.set, "set", nil, "field=value to set on the record")
	cmd.Flags().StringArrayVar(&flags.related, "for", nil, "relation[.field=value] to create first")
	cmd.Flags().IntVarP(&flags.count, "count", "n", 1, "number of records to create")
	cmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "prompt for fields not given with --set")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print the created records as JSON")
	addStoreFlags(cmd, &flags.storeFlags)

	return cmd
}

func addStoreFlags(cmd *cobra.Command, flags *storeFlags) {
	cmd.Flags().StringVar(&flags.store, "store", "memory", "where to store records: "+strings.Join(Stores, ", "))
	cmd.Flags().StringVar(&flags.driver, "driver", "", "database/sql driver of the sql store (default database.driver)")
	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "connection string (default database.url)")
}

func runSeed(cmd *cobra.Command, g *Globals, flags *seedFlags, record string) error {
	if flags.count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", flags.count)
	}

	cfg, err := g.Config()
	if err != nil {
		return err
	}
	registry, err := g.Registry(cfg, nil)
	if err != nil {
		return err
	}

	model, ok := registry.Get(record)
	if !ok {
		return &displayError{
			text: ui.UnknownRecord(record, registry.List(), color.NoColor),
			err:  fmt.Errorf("%w: %s", fabrique.ErrUnknownRecord, record),
		}
	}

	req, err := parseRequest(flags.set, flags.related)
	if err != nil {
		return err
	}
	if flags.interactive {
		if !stdinIsTerminal() {
			return fmt.Errorf("--interactive needs a terminal; pass values with --set instead")
		}
		if err := askFields(model, req); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, flags.storeFlags, registry, g.Logger())
	if err != nil {
		return err
	}
	defer store.Close()

	records := make([]fabrique.Record, 0, flags.count)
	for range flags.count {
		rec, err := store.Create(ctx, model.Name(), req)
		if err != nil {
			return explainBuilderError(registry, err)
		}
		records = append(records, rec)
	}

	out := cmd.OutOrStdout()
	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for i, rec := range records {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printRecord(out, model, rec)
	}
	fmt.Fprintln(out)
	ui.WriteSuccess(out, fmt.Sprintf("Created %s in the %s store", plural(len(records), model.Name()), flags.store), color.NoColor)

	return nil
}

// parseRequest turns --set and --for values into a create request
func parseRequest(set, related []string) (*seedserver.CreateRequest, error) {
	req := &seedserver.CreateRequest{}

	for _, assignment := range set {
		field, value, ok := strings.Cut(assignment, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("--set %q: expected field=value", assignment)
		}
		setValue(req, field, value)
	}

	for _, assignment := range related {
		path, value, hasValue := strings.Cut(assignment, "=")
		segments := strings.Split(path, ".")
		if !hasValue {
			// a bare relation path; the trailing segment names no field
			segments = append(segments, "")
		} else if len(segments) < 2 {
			return nil, fmt.Errorf("--for %q: expected relation.field=value", assignment)
		}

		target := req
		for _, base := range segments[:len(segments)-1] {
			if base == "" {
				return nil, fmt.Errorf("--for %q: empty relation name", assignment)
			}
			if target.For == nil {
				target.For = make(map[string]*seedserver.CreateRequest)
			}
			next, ok := target.For[base]
			if !ok {
				next = &seedserver.CreateRequest{}
				target.For[base] = next
			}
			target = next
		}

		if hasValue {
			setValue(target, segments[len(segments)-1], value)
		}
	}

	return req, nil
}

func setValue(req *seedserver.CreateRequest, field, value string) {
	if req.Set == nil {
		req.Set = make(map[string]any)
	}
	req.Set[field] = value
}

// askFields prompts for every field that is not a primary key, not set
// already and not filled by a requested relation
func askFields(model *schema.AnalysisOutput, req *seedserver.CreateRequest) error {
	for _, field := range model.Fields() {
		name := field.Name()
		if field.Attributes.PrimaryKey {
			continue
		}
		if _, ok := req.Set[name]; ok {
			continue
		}
		if field.Relation != nil {
			if _, ok := req.For[field.Relation.BaseName]; ok {
				continue
			}
		}

		typ := field.Decl.Type
		answer, err := prompt(fmt.Sprintf("%s (%s):", name, typ), func(s string) error {
			_, err := fabrique.ParseValue(typ, s)
			return err
		})
		if err != nil {
			return err
		}
		if answer != "" {
			setValue(req, name, answer)
		}
	}
	return nil
}

// explainBuilderError renders unknown fields and relations with suggestions
func explainBuilderError(registry *schema.Registry, err error) error {
	var candidates func(*schema.AnalysisOutput) []string

	switch {
	case errors.Is(err, fabrique.ErrUnknownField):
		candidates = fieldNames
	case errors.Is(err, fabrique.ErrUnknownRelation):
		candidates = relationNames
	default:
		return err
	}

	// builder errors end in "<record>.<name>"
	msg := err.Error()
	ref := msg[strings.LastIndex(msg, " ")+1:]
	record, name, ok := strings.Cut(ref, ".")
	if !ok {
		return err
	}
	model, ok := registry.Get(record)
	if !ok {
		return err
	}

	if errors.Is(err, fabrique.ErrUnknownRelation) {
		return &displayError{text: ui.Format(ui.Message{
			Context:     "UNKNOWN RELATION: " + record + "." + name,
			Problem:     fmt.Sprintf("Record '%s' has no relation '%s'.", record, name),
			Suggestions: ui.Suggest(name, candidates(model)),
			Help:        []string{"Show the record's hooks: fabrique inspect " + record},
			NoColor:     color.NoColor,
		}), err: err}
	}
	return &displayError{text: ui.UnknownField(record, name, candidates(model), color.NoColor), err: err}
}

func fieldNames(model *schema.AnalysisOutput) []string {
	names := make([]string, 0, len(model.Fields()))
	for _, field := range model.Fields() {
		names = append(names, field.Name())
	}
	return names
}

func relationNames(model *schema.AnalysisOutput) []string {
	var names []string
	for _, rel := range model.Relations() {
		names = append(names, rel.BaseName)
	}
	return names
}

func printRecord(w io.Writer, model *schema.AnalysisOutput, rec fabrique.Record) {
	ui.Header(w, model.Name(), color.NoColor)
	kv := ui.NewKeyValues(w, color.NoColor)
	for _, field := range model.Fields() {
		kv.Add(field.Name(), formatValue(rec[field.Name()]))
	}
	kv.Render()
}

func formatValue(v any) string {
	rv := reflect.ValueOf(v)
	switch {
	case !rv.IsValid():
		return "nil"
	case rv.Kind() == reflect.Pointer && rv.IsNil():
		return "nil"
	case rv.Kind() == reflect.Pointer:
		return fmt.Sprint(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}
