package codegen

import (
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/fabrique/pkg/analysis"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

var (
	u32 = schema.TypeRef{Name: "uint32"}
	pk  = []schema.AnnotationGroup{{schema.Flag("primary_key")}}
)

func relation(record string) []schema.AnnotationGroup {
	return []schema.AnnotationGroup{{schema.Ident("relation", record)}}
}

func forgeRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	registry, err := analysis.AnalyzeAll([]schema.RecordShape{
		{
			Name: "Hammer",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: u32, Annotations: pk},
				{Name: "weight", Type: u32},
			},
		},
		{
			Name: "Tongs",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: u32, Annotations: pk},
			},
		},
		{
			Name: "Anvil",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: u32, Annotations: pk},
				{Name: "tongs_id", Type: u32, Annotations: relation("Tongs")},
				{Name: "hammer_id", Type: u32, Annotations: relation("Hammer")},
				{Name: "type", Type: schema.TypeRef{Name: "string"}},
				{Name: "serial", Type: schema.TypeRef{Name: "UUID", Package: "github.com/google/uuid", Pointer: true}},
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func generate(t *testing.T, opts Options) map[string]string {
	t.Helper()

	g, err := New(forgeRegistry(t), opts)
	require.NoError(t, err)

	files, err := g.Generate()
	require.NoError(t, err)

	out := make(map[string]string, len(files))
	fset := token.NewFileSet()
	for _, file := range files {
		_, err := parser.ParseFile(fset, file.Name, file.Source, parser.AllErrors)
		require.NoError(t, err, "%s does not parse:\n%s", file.Name, file.Source)
		out[file.Name] = string(file.Source)
	}
	return out
}

// methods lists the receiver type and name of every method in src
func methods(t *testing.T, src string) []string {
	t.Helper()

	file, err := parser.ParseFile(token.NewFileSet(), "", src, 0)
	require.NoError(t, err)

	var names []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil {
			continue
		}
		recv := fn.Recv.List[0].Type.(*ast.Ident).Name
		names = append(names, recv+"."+fn.Name.Name)
	}
	return names
}

type importerFunc func(path string) (*types.Package, error)

func (f importerFunc) Import(path string) (*types.Package, error) { return f(path) }

// declarationErrors type-checks files as one package and returns the errors
// about its own declarations. Imports resolve to empty packages, so errors
// about imported names are dropped.
func declarationErrors(t *testing.T, files []File) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed := make([]*ast.File, 0, len(files))
	for _, file := range files {
		f, err := parser.ParseFile(fset, file.Name, file.Source, 0)
		require.NoError(t, err, "%s does not parse:\n%s", file.Name, file.Source)
		parsed = append(parsed, f)
	}

	var errs []string
	conf := types.Config{
		Importer: importerFunc(func(path string) (*types.Package, error) {
			pkg := types.NewPackage(path, filepath.Base(path))
			pkg.MarkComplete()
			return pkg, nil
		}),
		Error: func(err error) {
			msg := err.Error()
			if strings.Contains(msg, "redeclared") || strings.Contains(msg, "same name") {
				errs = append(errs, msg)
			}
		},
	}
	_, _ = conf.Check("factories", fset, parsed, nil)
	return errs
}

func TestDeclarationErrors(t *testing.T) {
	errs := declarationErrors(t, []File{{
		Name:   "widget.go",
		Source: []byte("package factories\n\ntype Widget struct{ Create, Create int }\n\nfunc (Widget) Create() {}\n"),
	}})
	assert.NotEmpty(t, errs)
}

func TestGenerate_CollidingFieldNames(t *testing.T) {
	str := schema.TypeRef{Name: "string"}
	registry, err := analysis.AnalyzeAll([]schema.RecordShape{
		{
			Name: "Hammer",
			Fields: []schema.FieldDecl{
				{Name: "create", Type: u32, Annotations: pk},
			},
		},
		{
			Name: "Widget",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: u32, Annotations: pk},
				{Name: "factory", Type: str},
				{Name: "create", Type: str},
				{Name: "all", Type: str},
				{Name: "hammer_id", Type: u32},
				{Name: "hammerID", Type: u32},
				{Name: "tool", Type: u32, Annotations: []schema.AnnotationGroup{{
					schema.Ident("relation", "Hammer"),
					schema.Str("referenced_key", "create"),
				}}},
			},
		},
	})
	require.NoError(t, err)

	for _, persistable := range []Persistable{PersistableNone, PersistableSQL} {
		t.Run(string(persistable), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Persistable = persistable

			g, err := New(registry, opts)
			require.NoError(t, err)
			files, err := g.Generate()
			require.NoError(t, err)

			assert.Empty(t, declarationErrors(t, files))

			var widget string
			for _, file := range files {
				if file.Name == "widget_factory.go" {
					widget = string(file.Source)
				}
			}
			assert.Regexp(t, "FactoryField\\s+string\\s+`db:\"factory\"`", widget)
			assert.Regexp(t, "CreateField\\s+string\\s+`db:\"create\"`", widget)
			assert.Regexp(t, "AllField\\s+string\\s+`db:\"all\"`", widget)
			assert.Regexp(t, "HammerIDField\\s+uint32\\s+`db:\"hammerID\"`", widget)
			assert.Contains(t, widget, "f = f.Tool(toolRecord.CreateField)")
		})
	}
}

func TestGenerate_Files(t *testing.T) {
	files := generate(t, DefaultOptions())

	assert.Len(t, files, 3)
	for _, name := range []string{"anvil_factory.go", "hammer_factory.go", "tongs_factory.go"} {
		src, ok := files[name]
		require.True(t, ok, name)
		assert.True(t, strings.HasPrefix(src, "// "+Header), name)
		assert.Contains(t, src, "package factories")
	}
}

func TestGenerate_Factory(t *testing.T) {
	src := generate(t, DefaultOptions())["anvil_factory.go"]

	assert.Equal(t, []string{
		"Anvil.Factory",
		"AnvilFactory.ID",
		"AnvilFactory.TongsID",
		"AnvilFactory.HammerID",
		"AnvilFactory.Type",
		"AnvilFactory.Serial",
		"AnvilFactory.ForTongs",
		"AnvilFactory.ForHammer",
		"AnvilFactory.Make",
		"AnvilFactory.Create",
	}, methods(t, src))

	assert.Contains(t, src, "func NewAnvilFactory() AnvilFactory {")
	assert.Contains(t, src, "func (f AnvilFactory) HammerID(v uint32) AnvilFactory {")
	assert.Contains(t, src, "func (f AnvilFactory) Serial(v *uuid.UUID) AnvilFactory {")
	assert.Contains(t, src, "func (f AnvilFactory) ForHammer(callback func(HammerFactory) HammerFactory) AnvilFactory {")
	assert.Contains(t, src, "func (f AnvilFactory) Create(ctx context.Context, conn *sql.DB) (Anvil, error) {")
	assert.Contains(t, src, `"github.com/google/uuid"`)

	assert.Regexp(t, `typeValue\s+\*string`, src)
	assert.Regexp(t, `serial\s+\*\*uuid\.UUID`, src)
	assert.Regexp(t, `hammerFactory\s+func\(HammerFactory\) HammerFactory`, src)
	assert.Regexp(t, "HammerID\\s+uint32\\s+`db:\"hammer_id\"`", src)

	assert.Contains(t, src, "hammerRecord, err := f.hammerFactory(NewHammerFactory()).Create(ctx, conn)")
	assert.Contains(t, src, "f = f.HammerID(hammerRecord.ID)")
	assert.Contains(t, src, "return f.Make().Create(ctx, conn)")

	// relations resolve in field order
	tongs := strings.Index(src, "tongsRecord, err :=")
	hammer := strings.Index(src, "hammerRecord, err :=")
	require.Positive(t, tongs)
	assert.Less(t, tongs, hammer)
}

func TestGenerate_NoRecords(t *testing.T) {
	opts := DefaultOptions()
	opts.EmitRecords = false

	src := generate(t, opts)["anvil_factory.go"]
	assert.NotContains(t, src, "type Anvil struct")
	assert.Contains(t, src, "type AnvilFactory struct")
}

func TestGenerate_Persistable(t *testing.T) {
	opts := DefaultOptions()
	opts.Persistable = PersistableSQL
	opts.Connection = "github.com/conduit-lang/fabrique/pkg/store/sqlstore.Conn"
	opts.Placeholder = sqlstore.Question

	files := generate(t, opts)
	assert.Len(t, files, 6)

	src := files["anvil_persistable.go"]
	assert.Equal(t, []string{"Anvil.Create", "Anvil.All"}, methods(t, src))
	assert.Contains(t, src, "var _ fabrique.Persistable[Anvil, sqlstore.Conn] = Anvil{}")
	assert.Contains(t, src, "if !fabrique.IsZero(r.ID) {")
	assert.Contains(t, src, `query := sqlstore.InsertStatement("anvils", columns, anvilColumns, sqlstore.Question)`)
	assert.Contains(t, src, `conn.QueryContext(ctx, "SELECT \"id\", \"tongs_id\", \"hammer_id\", \"type\", \"serial\" FROM \"anvils\"")`)
	assert.Contains(t, src, "&out.ID, &out.TongsID, &out.HammerID, &out.Type, &out.Serial")

	assert.Contains(t, files["anvil_factory.go"], "conn sqlstore.Conn")
}

func TestGenerator_Write(t *testing.T) {
	g, err := New(forgeRegistry(t), DefaultOptions())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := g.Write(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	data, err := os.ReadFile(filepath.Join(dir, "hammer_factory.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "type HammerFactory struct")
}

func TestGenerator_UnknownRecord(t *testing.T) {
	g, err := New(forgeRegistry(t), DefaultOptions())
	require.NoError(t, err)

	_, err = g.Record("Bellows")
	assert.EqualError(t, err, "unknown record: Bellows")
}

func TestNew_InvalidRegistry(t *testing.T) {
	registry := schema.NewRegistry()
	model, err := analysis.Analyze(schema.RecordShape{
		Name:   "Anvil",
		Fields: []schema.FieldDecl{{Name: "hammer_id", Type: u32, Annotations: relation("Hammer")}},
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(model))

	_, err = New(registry, DefaultOptions())
	assert.Error(t, err)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		err    string
	}{
		{"defaults", func(*Options) {}, ""},
		{"bad package", func(o *Options) { o.Package = "my-factories" }, `invalid package name "my-factories"`},
		{"bad persistable", func(o *Options) { o.Persistable = "gorm" }, `unknown persistable "gorm" (expected none or sql)`},
		{"bad connection", func(o *Options) { o.Connection = "" }, "invalid connection type: empty type reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestGenerate_CheckedInExample(t *testing.T) {
	dir := filepath.Join("..", "..", "examples", "anvil")

	shapes, err := schema.LoadFile(filepath.Join(dir, "schema.yml"))
	require.NoError(t, err)
	registry, err := analysis.AnalyzeAll(shapes)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Package = "anvil"
	opts.Connection = "*Ledger"

	g, err := New(registry, opts)
	require.NoError(t, err)
	files, err := g.Generate()
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, file := range files {
		want, err := os.ReadFile(filepath.Join(dir, file.Name))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(file.Source), "%s is out of date, run go generate ./examples/anvil", file.Name)
	}
}
