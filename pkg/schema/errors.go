package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Analysis error kinds, matched with errors.Is
var (
	// ErrUnsupportedShape is returned when a record is not a flat named-field struct
	ErrUnsupportedShape = errors.New("unsupported record shape")

	// ErrUnknownAttribute is returned for annotation keys fabrique does not recognize
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrUnparsableLiteral is returned when an attribute value is not a literal of the expected kind
	ErrUnparsableLiteral = errors.New("unparsable literal")

	// ErrUnparsableType is returned when a literal does not parse into a valid type or field name
	ErrUnparsableType = errors.New("unparsable type")

	// ErrUnparsableAttribute is returned when annotation text is not valid attribute syntax
	ErrUnparsableAttribute = errors.New("unparsable attribute")

	// ErrMissingReferencedKey is returned for relations without a resolvable referenced key
	ErrMissingReferencedKey = errors.New("missing referenced key")

	// ErrDuplicateField is returned when a record declares the same field twice
	ErrDuplicateField = errors.New("duplicate field")
)

// ErrorKind classifies an AnalysisError
type ErrorKind int

const (
	UnsupportedShape ErrorKind = iota
	UnknownAttribute
	UnparsableLiteral
	UnparsableType
	UnparsableAttribute
	MissingReferencedKey
	DuplicateField
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case UnsupportedShape:
		return "unsupported_shape"
	case UnknownAttribute:
		return "unknown_attribute"
	case UnparsableLiteral:
		return "unparsable_literal"
	case UnparsableType:
		return "unparsable_type"
	case UnparsableAttribute:
		return "unparsable_attribute"
	case MissingReferencedKey:
		return "missing_referenced_key"
	case DuplicateField:
		return "duplicate_field"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case UnsupportedShape:
		return ErrUnsupportedShape
	case UnknownAttribute:
		return ErrUnknownAttribute
	case UnparsableLiteral:
		return ErrUnparsableLiteral
	case UnparsableType:
		return ErrUnparsableType
	case UnparsableAttribute:
		return ErrUnparsableAttribute
	case MissingReferencedKey:
		return ErrMissingReferencedKey
	case DuplicateField:
		return ErrDuplicateField
	default:
		return nil
	}
}

// AnalysisError describes the first problem found while analyzing a record
type AnalysisError struct {
	Kind   ErrorKind
	Record string
	Field  string
	Shape  ShapeKind // set for UnsupportedShape
	Detail string    // offending key or literal text
	Pos    Position
	Err    error // underlying cause, if any
}

// Error implements the error interface
func (e *AnalysisError) Error() string {
	var b strings.Builder

	if e.Pos.Line > 0 {
		b.WriteString(fmt.Sprintf("line %d, column %d: ", e.Pos.Line, e.Pos.Column))
	}

	if e.Record != "" {
		b.WriteString(e.Record)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	switch e.Kind {
	case UnsupportedShape:
		b.WriteString(fmt.Sprintf("factory can only be derived from named structs, %s given", e.Shape))
	case UnknownAttribute:
		b.WriteString(fmt.Sprintf("unknown attribute: %s", e.Detail))
	case UnparsableLiteral:
		b.WriteString(fmt.Sprintf("unsupported literal %s", e.Detail))
	case UnparsableType:
		b.WriteString(fmt.Sprintf("could not parse literal to an ident: %q", e.Detail))
	case UnparsableAttribute:
		b.WriteString(fmt.Sprintf("could not parse attribute: %s", e.Detail))
	case MissingReferencedKey:
		b.WriteString(fmt.Sprintf("the relation %s is missing a referenced key", e.Detail))
	case DuplicateField:
		b.WriteString(fmt.Sprintf("field %s is declared more than once", e.Detail))
	default:
		b.WriteString(e.Detail)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Hint returns a suggestion for fixing the error, if one exists
func (e *AnalysisError) Hint() string {
	switch e.Kind {
	case MissingReferencedKey:
		return "by default the suffix of the field is used (the referenced key of `hammer_id` is `id`); " +
			"add a `referenced_key` attribute or give this field a suffix"
	case UnknownAttribute:
		return "supported attributes are primary_key, relation, referenced_key and extract"
	case UnsupportedShape:
		return "declare the record as a struct with named fields"
	default:
		return ""
	}
}

// Is matches the sentinel for the error kind
func (e *AnalysisError) Is(target error) bool {
	return e.Kind.sentinel() == target
}

// Unwrap returns the underlying cause
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ValidationError represents a cross-record validation error with context
type ValidationError struct {
	Record  string
	Field   string
	Message string
	Hint    string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	if e.Record != "" {
		b.WriteString(e.Record)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}
