package analysis

import (
	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Recognized field attribute keys
const (
	KeyPrimaryKey    = "primary_key"
	KeyRelation      = "relation"
	KeyReferencedKey = "referenced_key"
	KeyExtract       = "extract"
)

// KeyTable is the only recognized record attribute key
const KeyTable = "table"

// ParseFieldAttributes folds the annotation groups of one field into its
// attributes. Groups are applied in order and a repeated key overwrites the
// earlier value. The first malformed annotation aborts parsing.
func ParseFieldAttributes(groups []schema.AnnotationGroup) (schema.FieldAttributes, error) {
	var attrs schema.FieldAttributes

	for _, group := range groups {
		for _, ann := range group {
			switch ann.Key {
			case KeyPrimaryKey:
				pk, err := parsePrimaryKey(ann)
				if err != nil {
					return schema.FieldAttributes{}, err
				}
				attrs.PrimaryKey = pk

			case KeyRelation:
				rel, err := parseRelation(ann)
				if err != nil {
					return schema.FieldAttributes{}, err
				}
				attrs.Relation = rel

			case KeyReferencedKey, KeyExtract:
				key, err := parseFieldName(ann)
				if err != nil {
					return schema.FieldAttributes{}, err
				}
				attrs.ReferencedKey = key

			default:
				return schema.FieldAttributes{}, &schema.AnalysisError{
					Kind:   schema.UnknownAttribute,
					Detail: ann.Key,
					Pos:    ann.Pos,
				}
			}
		}
	}

	return attrs, nil
}

// RecordAttributes are the record-level attributes
type RecordAttributes struct {
	Table string // explicit storage identity; empty for the default
}

// ParseRecordAttributes folds record-level annotation groups
func ParseRecordAttributes(groups []schema.AnnotationGroup) (RecordAttributes, error) {
	var attrs RecordAttributes

	for _, group := range groups {
		for _, ann := range group {
			if ann.Key != KeyTable {
				return RecordAttributes{}, &schema.AnalysisError{
					Kind:   schema.UnknownAttribute,
					Detail: ann.Key,
					Pos:    ann.Pos,
				}
			}

			table, err := textValue(ann)
			if err != nil {
				return RecordAttributes{}, err
			}
			if table == "" {
				return RecordAttributes{}, &schema.AnalysisError{
					Kind:   schema.UnparsableType,
					Detail: table,
					Pos:    ann.Pos,
				}
			}
			attrs.Table = table
		}
	}

	return attrs, nil
}

func parsePrimaryKey(ann schema.Annotation) (bool, error) {
	switch ann.Value.Kind {
	case schema.LiteralFlag:
		return true, nil
	case schema.LiteralBool, schema.LiteralString:
		switch ann.Value.Text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, unparsableLiteral(ann)
}

func parseRelation(ann schema.Annotation) (string, error) {
	text, err := textValue(ann)
	if err != nil {
		return "", err
	}
	if !schema.IsTypeName(text) {
		return "", &schema.AnalysisError{
			Kind:   schema.UnparsableType,
			Detail: text,
			Pos:    ann.Pos,
		}
	}
	return text, nil
}

func parseFieldName(ann schema.Annotation) (string, error) {
	text, err := textValue(ann)
	if err != nil {
		return "", err
	}
	if !schema.IsIdentifier(text) {
		return "", &schema.AnalysisError{
			Kind:   schema.UnparsableType,
			Detail: text,
			Pos:    ann.Pos,
		}
	}
	return text, nil
}

// textValue accepts identifier and string literals
func textValue(ann schema.Annotation) (string, error) {
	switch ann.Value.Kind {
	case schema.LiteralIdent, schema.LiteralString:
		return ann.Value.Text, nil
	default:
		return "", unparsableLiteral(ann)
	}
}

func unparsableLiteral(ann schema.Annotation) error {
	detail := ann.Value.Kind.String()
	if ann.Value.Kind != schema.LiteralFlag {
		detail += " " + ann.Value.String()
	}
	detail += " for " + ann.Key
	return &schema.AnalysisError{
		Kind:   schema.UnparsableLiteral,
		Detail: detail,
		Pos:    ann.Pos,
	}
}
