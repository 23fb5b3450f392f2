package schema

import (
	"errors"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// annotationLexer tokenizes annotation text such as
// `relation = Hammer, referenced_key = "id"`.
var annotationLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Float", Pattern: `[-+]?\d+\.\d+`},
	{Name: "Int", Pattern: `[-+]?\d+`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[=,.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var annotationParser = participle.MustBuild[annotationList](
	participle.Lexer(annotationLexer),
	participle.Unquote("String"),
	participle.Elide("Whitespace"),
)

type annotationList struct {
	Entries []*annotationEntry `parser:"( @@ ( ',' @@ )* ','? )?"`
}

type annotationEntry struct {
	Pos   lexer.Position
	Key   string        `parser:"@Ident"`
	Value *literalValue `parser:"( '=' @@ )?"`
}

type literalValue struct {
	Bool   *string `parser:"  @( 'true' | 'false' )"`
	Float  *string `parser:"| @Float"`
	Int    *string `parser:"| @Int"`
	String *string `parser:"| @String"`
	Ident  *string `parser:"| @Ident ( @'.' @Ident )*"`
}

func (v *literalValue) literal() Literal {
	switch {
	case v == nil:
		return Literal{Kind: LiteralFlag}
	case v.Bool != nil:
		return Literal{Kind: LiteralBool, Text: *v.Bool}
	case v.Float != nil:
		return Literal{Kind: LiteralFloat, Text: *v.Float}
	case v.Int != nil:
		return Literal{Kind: LiteralInt, Text: *v.Int}
	case v.String != nil:
		return Literal{Kind: LiteralString, Text: *v.String}
	case v.Ident != nil:
		return Literal{Kind: LiteralIdent, Text: *v.Ident}
	default:
		return Literal{Kind: LiteralFlag}
	}
}

// ParseAnnotations tokenizes one annotation group. Syntax errors are
// reported as UnparsableAttribute analysis errors.
func ParseAnnotations(text string) (AnnotationGroup, error) {
	list, err := annotationParser.ParseString("", text)
	if err != nil {
		aerr := &AnalysisError{
			Kind:   UnparsableAttribute,
			Detail: strings.TrimSpace(text),
			Err:    err,
		}
		var perr participle.Error
		if errors.As(err, &perr) {
			aerr.Pos = Position{Line: perr.Position().Line, Column: perr.Position().Column}
			aerr.Err = errors.New(perr.Message())
		}
		return nil, aerr
	}

	group := make(AnnotationGroup, 0, len(list.Entries))
	for _, entry := range list.Entries {
		group = append(group, Annotation{
			Key:   entry.Key,
			Value: entry.Value.literal(),
			Pos:   Position{Line: entry.Pos.Line, Column: entry.Pos.Column},
		})
	}
	return group, nil
}

// MustParseAnnotations is like ParseAnnotations but panics on error
func MustParseAnnotations(text string) AnnotationGroup {
	group, err := ParseAnnotations(text)
	if err != nil {
		panic(err)
	}
	return group
}
