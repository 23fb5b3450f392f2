// Package analysis turns raw record shapes into immutable analysis output.
//
// Analysis is a forward-only sequence of states:
//
//	unvalidated -> shape validated -> fields analyzed -> analyzed
//
// Each transition either advances or fails the whole run with the first
// problem found. Intermediate states are never returned to callers.
package analysis

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Option configures an analysis run
type Option func(*config)

type config struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

type state int

const (
	stateUnvalidated state = iota
	stateShapeValidated
	stateFieldsAnalyzed
	stateAnalyzed
)

func (s state) String() string {
	switch s {
	case stateUnvalidated:
		return "unvalidated"
	case stateShapeValidated:
		return "shape_validated"
	case stateFieldsAnalyzed:
		return "fields_analyzed"
	case stateAnalyzed:
		return "analyzed"
	default:
		return "unknown"
	}
}

// run carries the data produced so far. Only the fields valid for the
// current state are populated.
type run struct {
	state  state
	shape  schema.RecordShape
	fields []schema.AnalyzedField
	output *schema.AnalysisOutput
}

// Analyze validates a record shape and extracts its field and relation
// metadata. It fails with a *schema.AnalysisError describing the first
// problem, in field order.
func Analyze(shape schema.RecordShape, opts ...Option) (*schema.AnalysisOutput, error) {
	cfg := newConfig(opts)
	r := &run{state: stateUnvalidated, shape: shape}

	for r.state != stateAnalyzed {
		from := r.state
		if err := r.step(); err != nil {
			cfg.logger.Debug("analysis failed",
				zap.String("record", shape.Name),
				zap.Stringer("state", from),
				zap.Error(err))
			return nil, attachRecord(err, shape.Name)
		}
	}

	cfg.logger.Debug("analyzed record",
		zap.String("record", r.output.Name()),
		zap.String("table", r.output.Table()),
		zap.Int("fields", len(r.fields)),
		zap.Int("relations", len(r.output.Relations())))

	return r.output, nil
}

func (r *run) step() error {
	switch r.state {
	case stateUnvalidated:
		if err := validateShape(r.shape); err != nil {
			return err
		}
		r.state = stateShapeValidated
	case stateShapeValidated:
		fields, err := parseFields(r.shape.Fields)
		if err != nil {
			return err
		}
		r.fields = fields
		r.state = stateFieldsAnalyzed
	case stateFieldsAnalyzed:
		output, err := finalize(r.shape, r.fields)
		if err != nil {
			return err
		}
		r.output = output
		r.state = stateAnalyzed
	default:
		return fmt.Errorf("analysis of %s is already complete", r.shape.Name)
	}
	return nil
}

// validateShape accepts only structs whose fields are all named, valid and
// distinct. No attribute is looked at here.
func validateShape(shape schema.RecordShape) error {
	if shape.Kind != schema.ShapeStruct {
		return &schema.AnalysisError{Kind: schema.UnsupportedShape, Shape: shape.Kind}
	}

	if !schema.IsIdentifier(shape.Name) {
		return &schema.AnalysisError{Kind: schema.UnparsableType, Detail: shape.Name}
	}

	seen := make(map[string]bool, len(shape.Fields))
	for _, field := range shape.Fields {
		if field.Name == "" {
			return &schema.AnalysisError{Kind: schema.UnsupportedShape, Shape: schema.ShapeTuple}
		}
		if !schema.IsIdentifier(field.Name) {
			return &schema.AnalysisError{Kind: schema.UnparsableType, Field: field.Name, Detail: field.Name}
		}
		if field.Type.Name == "" {
			return &schema.AnalysisError{Kind: schema.UnparsableType, Field: field.Name, Detail: field.Type.String()}
		}
		if seen[field.Name] {
			return &schema.AnalysisError{Kind: schema.DuplicateField, Field: field.Name, Detail: field.Name}
		}
		seen[field.Name] = true
	}

	return nil
}

func parseFields(decls []schema.FieldDecl) ([]schema.AnalyzedField, error) {
	fields := make([]schema.AnalyzedField, 0, len(decls))
	bases := make(map[string]bool)

	for _, decl := range decls {
		attrs, err := ParseFieldAttributes(decl.Annotations)
		if err != nil {
			return nil, attachField(err, decl.Name)
		}

		rel, err := deriveRelation(decl, attrs)
		if err != nil {
			return nil, attachField(err, decl.Name)
		}
		if rel != nil {
			if bases[rel.BaseName] {
				return nil, &schema.AnalysisError{Kind: schema.DuplicateField, Field: decl.Name, Detail: rel.BuilderField}
			}
			bases[rel.BaseName] = true
		}

		fields = append(fields, schema.AnalyzedField{
			Decl:       decl,
			Attributes: attrs,
			Relation:   rel,
		})
	}

	return fields, nil
}

// deriveRelation builds the relation of a field that names a related
// record. Without an explicit referenced key the suffix after the last
// underscore of the field name is used: hammer_id -> id.
func deriveRelation(decl schema.FieldDecl, attrs schema.FieldAttributes) (*schema.Relation, error) {
	if !attrs.HasRelation() {
		return nil, nil
	}

	if decl.Name == "" {
		return nil, &schema.AnalysisError{Kind: schema.UnsupportedShape, Shape: schema.ShapeTuple}
	}

	if !schema.IsTypeName(attrs.Relation) {
		return nil, &schema.AnalysisError{Kind: schema.UnparsableType, Detail: attrs.Relation}
	}

	key := attrs.ReferencedKey
	if key == "" {
		idx := strings.LastIndex(decl.Name, "_")
		if idx <= 0 || idx == len(decl.Name)-1 {
			return nil, &schema.AnalysisError{Kind: schema.MissingReferencedKey, Detail: decl.Name}
		}
		key = decl.Name[idx+1:]
	}

	base := strings.TrimSuffix(decl.Name, "_"+key)
	if base == "" {
		base = decl.Name
	}

	return &schema.Relation{
		OwnerField:    decl.Name,
		BuilderField:  base + "_factory",
		RelatedType:   attrs.Relation,
		ReferencedKey: key,
		BaseName:      base,
	}, nil
}

func finalize(shape schema.RecordShape, fields []schema.AnalyzedField) (*schema.AnalysisOutput, error) {
	attrs, err := ParseRecordAttributes(shape.Annotations)
	if err != nil {
		return nil, err
	}

	table := attrs.Table
	if table == "" {
		table = schema.TableName(shape.Name)
	}

	return schema.NewAnalysisOutput(shape.Name, table, shape.Source, fields), nil
}

// AnalyzeAll analyzes every shape, registers the results and validates
// relations across them. The first analysis error aborts.
func AnalyzeAll(shapes []schema.RecordShape, opts ...Option) (*schema.Registry, error) {
	registry := schema.NewRegistry()

	for _, shape := range shapes {
		output, err := Analyze(shape, opts...)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(output); err != nil {
			return nil, err
		}
	}

	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}

	return registry, nil
}

func attachRecord(err error, record string) error {
	var aerr *schema.AnalysisError
	if errors.As(err, &aerr) && aerr.Record == "" {
		aerr.Record = record
	}
	return err
}

func attachField(err error, field string) error {
	var aerr *schema.AnalysisError
	if errors.As(err, &aerr) && aerr.Field == "" {
		aerr.Field = field
	}
	return err
}
