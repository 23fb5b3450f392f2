// Package codegen emits typed factories for analyzed records. For each
// record it writes a builder type with one optional slot per field and one
// callback slot per relation, following the same construction protocol as
// the dynamic builders in pkg/fabrique.
package codegen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dave/jennifer/jen"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// Header is the first line of every generated file
const Header = "Code generated by fabrique. DO NOT EDIT."

const (
	fabriquePkg = "github.com/conduit-lang/fabrique/pkg/fabrique"
	sqlstorePkg = "github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

// Persistable selects how generated records store themselves
type Persistable string

const (
	// PersistableNone leaves Create and All on the record to the user
	PersistableNone Persistable = "none"
	// PersistableSQL generates Create and All over database/sql
	PersistableSQL Persistable = "sql"
)

// ParsePersistable converts a config value to a Persistable
func ParsePersistable(s string) (Persistable, error) {
	switch Persistable(s) {
	case "", PersistableNone:
		return PersistableNone, nil
	case PersistableSQL:
		return PersistableSQL, nil
	default:
		return "", fmt.Errorf("unknown persistable %q (expected none or sql)", s)
	}
}

// Options controls what the generator emits
type Options struct {
	// Package is the package clause of generated files
	Package string

	// EmitRecords writes the record structs next to their factories
	EmitRecords bool

	Persistable Persistable

	// Connection is the qualified connection type passed to Create,
	// e.g. "*database/sql.DB"
	Connection string

	// Placeholder is the bind parameter style of generated SQL
	Placeholder sqlstore.Placeholder
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Package:     "factories",
		EmitRecords: true,
		Persistable: PersistableNone,
		Connection:  "*database/sql.DB",
		Placeholder: sqlstore.Dollar,
	}
}

// Validate checks the options for consistency
func (o Options) Validate() error {
	if !schema.IsIdentifier(o.Package) {
		return fmt.Errorf("invalid package name %q", o.Package)
	}
	if _, err := ParsePersistable(string(o.Persistable)); err != nil {
		return err
	}
	if _, err := schema.ParseTypeRef(o.Connection); err != nil {
		return fmt.Errorf("invalid connection type: %w", err)
	}
	return nil
}

// File is one generated source file
type File struct {
	Name   string
	Record string
	Source []byte
}

// Option configures a Generator
type Option func(*Generator)

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Generator renders factories for the records of a registry
type Generator struct {
	registry *schema.Registry
	opts     Options
	conn     schema.TypeRef
	logger   *zap.Logger
}

// New creates a generator. The registry is validated so every relation
// points at a record the generator can emit a factory for.
func New(registry *schema.Registry, opts Options, options ...Option) (*Generator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}

	conn, _ := schema.ParseTypeRef(opts.Connection)
	g := &Generator{
		registry: registry,
		opts:     opts,
		conn:     conn,
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Generate renders every record, in record name order
func (g *Generator) Generate() ([]File, error) {
	var files []File
	for _, name := range g.registry.List() {
		out, err := g.Record(name)
		if err != nil {
			return nil, err
		}
		files = append(files, out...)
	}
	return files, nil
}

// Record renders the files of one record
func (g *Generator) Record(name string) ([]File, error) {
	model, ok := g.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown record: %s", name)
	}

	contract := synth.Synthesize(model)
	contract.ResolveKeys(g.registry)
	base := schema.ToSnakeCase(model.Name())

	factory := g.newFile()
	if g.opts.EmitRecords {
		g.record(factory, contract)
	}
	g.factory(factory, contract)

	src, err := render(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s factory: %w", model.Name(), err)
	}
	files := []File{{Name: base + "_factory.go", Record: model.Name(), Source: src}}

	if g.opts.Persistable == PersistableSQL {
		if len(model.Fields()) == 0 {
			return nil, fmt.Errorf("%s has no columns to store", model.Name())
		}

		persistable := g.newFile()
		g.persistable(persistable, model, contract)

		src, err := render(persistable)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s persistable: %w", model.Name(), err)
		}
		files = append(files, File{Name: base + "_persistable.go", Record: model.Name(), Source: src})
	}

	g.logger.Debug("generated record",
		zap.String("record", model.Name()),
		zap.Int("files", len(files)))

	return files, nil
}

// Write renders every record into dir and returns the written paths
func (g *Generator) Write(dir string) ([]string, error) {
	files, err := g.Generate()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, file := range files {
		path := filepath.Join(dir, file.Name)
		if err := os.WriteFile(path, file.Source, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (g *Generator) newFile() *jen.File {
	f := jen.NewFile(g.opts.Package)
	f.HeaderComment(Header)
	f.ImportName(fabriquePkg, "fabrique")
	f.ImportName(sqlstorePkg, "sqlstore")
	return f
}

func render(f *jen.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// typeCode renders a type reference, qualifying imported types
func typeCode(t schema.TypeRef) *jen.Statement {
	s := &jen.Statement{}
	if t.Pointer {
		s.Op("*")
	}

	switch {
	case t.Name == "[]byte":
		s.Index().Byte()
	case t.Package != "":
		s.Qual(t.Package, t.Name)
	default:
		s.Id(t.Name)
	}
	return s
}
