// Package schema provides the typed representation of record schemas consumed by
// fabrique: raw record shapes with annotated fields, the attributes parsed from
// those annotations, and the immutable analysis output that builders are
// synthesized from.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShapeKind represents the structural kind of a record declaration
type ShapeKind int

const (
	// ShapeStruct is a flat record with named fields
	ShapeStruct ShapeKind = iota
	// ShapeEnum is a tagged union / variant type
	ShapeEnum
	// ShapeUnion is a shared-memory overlay type
	ShapeUnion
	// ShapeUnit has no structure at all
	ShapeUnit
	// ShapeTuple has unnamed fields
	ShapeTuple
)

// String returns the string representation of the shape kind
func (k ShapeKind) String() string {
	switch k {
	case ShapeStruct:
		return "struct"
	case ShapeEnum:
		return "enum"
	case ShapeUnion:
		return "union"
	case ShapeUnit:
		return "unit"
	case ShapeTuple:
		return "tuple"
	default:
		return "unknown"
	}
}

// ParseShapeKind converts a string to a ShapeKind
func ParseShapeKind(s string) (ShapeKind, error) {
	switch s {
	case "", "struct", "record":
		return ShapeStruct, nil
	case "enum", "variant":
		return ShapeEnum, nil
	case "union":
		return ShapeUnion, nil
	case "unit":
		return ShapeUnit, nil
	case "tuple":
		return ShapeTuple, nil
	default:
		return 0, fmt.Errorf("unknown shape kind: %s", s)
	}
}

// TypeRef references a Go type, optionally qualified by its import path
type TypeRef struct {
	Name    string // type name, e.g. "uint32" or "UUID"
	Package string // import path, e.g. "github.com/google/uuid"; empty for builtins
	Pointer bool
}

// ParseTypeRef parses the qualified form "*github.com/google/uuid.UUID".
// The last dot separates the import path from the type name.
func ParseTypeRef(s string) (TypeRef, error) {
	var ref TypeRef
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "*") {
		ref.Pointer = true
		s = s[1:]
	}

	if s == "" {
		return TypeRef{}, fmt.Errorf("empty type reference")
	}

	// []byte is the one composite type we accept verbatim
	if s == "[]byte" {
		ref.Name = s
		return ref, nil
	}

	if idx := strings.LastIndex(s, "."); idx >= 0 {
		ref.Package = s[:idx]
		ref.Name = s[idx+1:]
		if ref.Package == "" || !IsIdentifier(ref.Name) {
			return TypeRef{}, fmt.Errorf("invalid type reference: %s", s)
		}
		return ref, nil
	}

	if !IsIdentifier(s) {
		return TypeRef{}, fmt.Errorf("invalid type reference: %s", s)
	}
	ref.Name = s
	return ref, nil
}

// String returns the qualified form accepted by ParseTypeRef
func (t TypeRef) String() string {
	var b strings.Builder
	if t.Pointer {
		b.WriteString("*")
	}
	if t.Package != "" {
		b.WriteString(t.Package)
		b.WriteString(".")
	}
	b.WriteString(t.Name)
	return b.String()
}

// Zero returns the default value of the referenced type, or nil when the
// type is a pointer or not one fabrique knows how to construct.
func (t TypeRef) Zero() any {
	if t.Pointer {
		return nil
	}

	switch t.Package {
	case "":
		switch t.Name {
		case "string":
			return ""
		case "bool":
			return false
		case "int":
			return int(0)
		case "int8":
			return int8(0)
		case "int16":
			return int16(0)
		case "int32", "rune":
			return int32(0)
		case "int64":
			return int64(0)
		case "uint":
			return uint(0)
		case "uint8", "byte":
			return uint8(0)
		case "uint16":
			return uint16(0)
		case "uint32":
			return uint32(0)
		case "uint64":
			return uint64(0)
		case "float32":
			return float32(0)
		case "float64":
			return float64(0)
		case "[]byte":
			return []byte(nil)
		}
	case "time":
		if t.Name == "Time" {
			return time.Time{}
		}
		if t.Name == "Duration" {
			return time.Duration(0)
		}
	case "github.com/google/uuid":
		if t.Name == "UUID" {
			return uuid.Nil
		}
	}

	return nil
}

// IsInteger returns true if the type is a builtin integer kind
func (t TypeRef) IsInteger() bool {
	if t.Pointer || t.Package != "" {
		return false
	}
	switch t.Name {
	case "int", "int8", "int16", "int32", "int64", "rune",
		"uint", "uint8", "uint16", "uint32", "uint64", "byte":
		return true
	}
	return false
}

// IsUUID returns true if the type is github.com/google/uuid.UUID
func (t TypeRef) IsUUID() bool {
	return !t.Pointer && t.Package == "github.com/google/uuid" && t.Name == "UUID"
}

// LiteralKind represents the lexical kind of an annotation value
type LiteralKind int

const (
	// LiteralFlag is a bare key with no value (e.g. `primary_key`)
	LiteralFlag LiteralKind = iota
	// LiteralIdent is an unquoted identifier, possibly dotted
	LiteralIdent
	// LiteralString is a quoted string
	LiteralString
	// LiteralInt is an integer number
	LiteralInt
	// LiteralFloat is a floating point number
	LiteralFloat
	// LiteralBool is true or false
	LiteralBool
)

// String returns the string representation of the literal kind
func (k LiteralKind) String() string {
	switch k {
	case LiteralFlag:
		return "flag"
	case LiteralIdent:
		return "identifier"
	case LiteralString:
		return "string"
	case LiteralInt:
		return "integer"
	case LiteralFloat:
		return "float"
	case LiteralBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Literal is the value side of an annotation
type Literal struct {
	Kind LiteralKind
	Text string // unquoted text; empty for flags
}

// String renders the literal the way it would be written in a schema file
func (l Literal) String() string {
	switch l.Kind {
	case LiteralFlag:
		return ""
	case LiteralString:
		return fmt.Sprintf("%q", l.Text)
	default:
		return l.Text
	}
}

// Position locates an annotation in its source
type Position struct {
	Line   int
	Column int
}

// Annotation is a single raw `key` or `key = value` token pair attached to a
// field or record
type Annotation struct {
	Key   string
	Value Literal
	Pos   Position
}

// String renders the annotation in schema syntax
func (a Annotation) String() string {
	if a.Value.Kind == LiteralFlag {
		return a.Key
	}
	return a.Key + " = " + a.Value.String()
}

// AnnotationGroup is one annotation list, e.g. one `attrs` entry
type AnnotationGroup []Annotation

// Flag builds a bare-flag annotation
func Flag(key string) Annotation {
	return Annotation{Key: key, Value: Literal{Kind: LiteralFlag}}
}

// Ident builds an identifier-valued annotation
func Ident(key, value string) Annotation {
	return Annotation{Key: key, Value: Literal{Kind: LiteralIdent, Text: value}}
}

// Str builds a string-valued annotation
func Str(key, value string) Annotation {
	return Annotation{Key: key, Value: Literal{Kind: LiteralString, Text: value}}
}

// Int builds an integer-valued annotation
func Int(key string, value int) Annotation {
	return Annotation{Key: key, Value: Literal{Kind: LiteralInt, Text: fmt.Sprint(value)}}
}

// Bool builds a boolean-valued annotation
func Bool(key string, value bool) Annotation {
	return Annotation{Key: key, Value: Literal{Kind: LiteralBool, Text: fmt.Sprint(value)}}
}

// FieldDecl declares one field of a record shape.
// An empty Name denotes an unnamed (tuple) field.
type FieldDecl struct {
	Name        string
	Type        TypeRef
	Annotations []AnnotationGroup
}

// RecordShape is the raw, unanalyzed description of a record type
type RecordShape struct {
	Name        string
	Kind        ShapeKind
	Fields      []FieldDecl
	Annotations []AnnotationGroup

	// Source is the file the shape was loaded from, if any
	Source string
}

// FieldAttributes are the fabrique attributes parsed from a field's annotations
type FieldAttributes struct {
	PrimaryKey    bool
	Relation      string // related record type; empty when the field is not a relation
	ReferencedKey string // field of the related record copied into this one
}

// HasRelation returns true if the field participates in a relation
func (a FieldAttributes) HasRelation() bool {
	return a.Relation != ""
}

// Relation describes a field populated by creating a related record first
type Relation struct {
	OwnerField    string // e.g. "hammer_id"
	BuilderField  string // e.g. "hammer_factory"
	RelatedType   string // e.g. "Hammer"
	ReferencedKey string // e.g. "id"
	BaseName      string // e.g. "hammer"
}

// AnalyzedField is one field together with its parsed attributes
type AnalyzedField struct {
	Decl       FieldDecl
	Attributes FieldAttributes
	Relation   *Relation
}

// Name returns the field name
func (f AnalyzedField) Name() string {
	return f.Decl.Name
}

// AnalysisOutput is the immutable result of analyzing one record shape.
// Values are only constructed by NewAnalysisOutput; accessors return copies.
type AnalysisOutput struct {
	name      string
	table     string
	fields    []AnalyzedField
	relations []Relation
	source    string
}

// NewAnalysisOutput assembles an AnalysisOutput. The relation list is
// derived from the fields, in field order.
func NewAnalysisOutput(name, table, source string, fields []AnalyzedField) *AnalysisOutput {
	out := &AnalysisOutput{
		name:   name,
		table:  table,
		source: source,
		fields: make([]AnalyzedField, len(fields)),
	}
	copy(out.fields, fields)

	for i, field := range out.fields {
		if field.Relation != nil {
			rel := *field.Relation
			out.fields[i].Relation = &rel
			out.relations = append(out.relations, rel)
		}
	}

	return out
}

// Name returns the record type name
func (o *AnalysisOutput) Name() string {
	return o.name
}

// Table returns the storage identity of the record
func (o *AnalysisOutput) Table() string {
	return o.table
}

// Source returns the file the record was loaded from, if any
func (o *AnalysisOutput) Source() string {
	return o.source
}

// Fields returns the analyzed fields in declaration order
func (o *AnalysisOutput) Fields() []AnalyzedField {
	fields := make([]AnalyzedField, len(o.fields))
	for i, field := range o.fields {
		fields[i] = field
		if field.Relation != nil {
			rel := *field.Relation
			fields[i].Relation = &rel
		}
	}
	return fields
}

// Relations returns the derived relations in field order
func (o *AnalysisOutput) Relations() []Relation {
	relations := make([]Relation, len(o.relations))
	copy(relations, o.relations)
	return relations
}

// Field looks up an analyzed field by name
func (o *AnalysisOutput) Field(name string) (AnalyzedField, bool) {
	for _, field := range o.fields {
		if field.Decl.Name == name {
			return field, true
		}
	}
	return AnalyzedField{}, false
}

// HasField returns true if the record has a field with the given name
func (o *AnalysisOutput) HasField(name string) bool {
	_, ok := o.Field(name)
	return ok
}

// PrimaryKeys returns the names of the primary key fields in field order
func (o *AnalysisOutput) PrimaryKeys() []string {
	var keys []string
	for _, field := range o.fields {
		if field.Attributes.PrimaryKey {
			keys = append(keys, field.Decl.Name)
		}
	}
	return keys
}

// Columns returns every field name in declaration order
func (o *AnalysisOutput) Columns() []string {
	columns := make([]string, len(o.fields))
	for i, field := range o.fields {
		columns[i] = field.Decl.Name
	}
	return columns
}
