// Package synth derives the builder contract of an analyzed record: the
// setters, the relation hooks and the ordered construction protocol that
// both the dynamic builders and the generated factories follow.
package synth

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Reserved builder method names
const (
	MethodCreate = "Create"
	MethodMake   = "Make"
)

// RecordMethods are declared on generated records, so no record struct
// field may take these names
var RecordMethods = []string{"Factory", "Create", "All"}

// StepKind identifies one step of the construction protocol
type StepKind int

const (
	// StepResolveRelation creates the related record of one hook, if a
	// callback is pending, and copies its key into the owner slot
	StepResolveRelation StepKind = iota
	// StepAssemble builds the record from slots, defaulting empty ones
	StepAssemble
	// StepPersist hands the record to the persistence interface
	StepPersist
)

// String returns the string representation of the step kind
func (k StepKind) String() string {
	switch k {
	case StepResolveRelation:
		return "resolve_relation"
	case StepAssemble:
		return "assemble"
	case StepPersist:
		return "persist"
	default:
		return "unknown"
	}
}

// Step is one step of the construction protocol
type Step struct {
	Kind StepKind
	Hook int // index into Contract.Hooks for StepResolveRelation, -1 otherwise
}

// String describes the step
func (s Step) String() string {
	if s.Kind == StepResolveRelation {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Hook)
	}
	return s.Kind.String()
}

// Setter sets one field slot of the builder
type Setter struct {
	Field   string // schema field name, e.g. "hammer_id"
	GoField string // record struct field, e.g. "HammerID"
	Method  string // builder method, e.g. "HammerID" or "WithCreate"
	Slot    string // unexported builder slot, e.g. "hammerID"
	Type    schema.TypeRef
	Primary bool
}

// Hook stores the pending customization of one relation
type Hook struct {
	BaseName       string // e.g. "hammer"
	Method         string // e.g. "ForHammer"
	Slot           string // e.g. "hammerFactory"
	BuilderField   string // e.g. "hammer_factory"
	OwnerField     string // e.g. "hammer_id"
	OwnerSetter    int    // index into Contract.Setters
	RelatedType    string // as declared, e.g. "Hammer" or "models.Hammer"
	RelatedRecord  string // final segment of RelatedType, e.g. "Hammer"
	RelatedBuilder string // e.g. "HammerFactory"
	ReferencedKey  string // e.g. "id"
	KeyGoField     string // e.g. "ID", see ResolveKeys
}

// Contract is the builder contract of one record
type Contract struct {
	Record  string // e.g. "Anvil"
	Builder string // e.g. "AnvilFactory"
	Table   string
	Setters []Setter
	Hooks   []Hook
	Steps   []Step
}

// Synthesize derives the builder contract of an analyzed record. It is
// total: every valid analysis output yields a contract, and equal outputs
// yield equal contracts.
func Synthesize(model *schema.AnalysisOutput) *Contract {
	contract := &Contract{
		Record:  model.Name(),
		Builder: BuilderName(model.Name()),
		Table:   model.Table(),
	}

	fields := model.Fields()

	// Hook methods are reserved before setters so a field named
	// "for_hammer" cannot shadow the ForHammer hook
	methods := map[string]bool{MethodCreate: true, MethodMake: true}
	slots := make(map[string]bool)

	for _, field := range fields {
		if field.Relation != nil {
			methods["For"+schema.ToPascalCase(field.Relation.BaseName)] = true
		}
	}

	goFields := GoFields(model)
	setterIndex := make(map[string]int, len(fields))
	for i, field := range fields {
		name := field.Name()
		contract.Setters = append(contract.Setters, Setter{
			Field:   name,
			GoField: goFields[i],
			Method:  unique(schema.ToPascalCase(name), methods),
			Slot:    uniqueSlot(schema.ToCamelCase(name), slots),
			Type:    field.Decl.Type,
			Primary: field.Attributes.PrimaryKey,
		})
		setterIndex[name] = i
	}

	for _, field := range fields {
		rel := field.Relation
		if rel == nil {
			continue
		}

		related := rel.RelatedType
		if idx := strings.LastIndex(related, "."); idx >= 0 {
			related = related[idx+1:]
		}

		contract.Hooks = append(contract.Hooks, Hook{
			BaseName:       rel.BaseName,
			Method:         "For" + schema.ToPascalCase(rel.BaseName),
			Slot:           uniqueSlot(schema.ToCamelCase(rel.BuilderField), slots),
			BuilderField:   rel.BuilderField,
			OwnerField:     rel.OwnerField,
			OwnerSetter:    setterIndex[rel.OwnerField],
			RelatedType:    rel.RelatedType,
			RelatedRecord:  related,
			RelatedBuilder: BuilderName(related),
			ReferencedKey:  rel.ReferencedKey,
			KeyGoField:     schema.ToPascalCase(rel.ReferencedKey),
		})
	}

	for i := range contract.Hooks {
		contract.Steps = append(contract.Steps, Step{Kind: StepResolveRelation, Hook: i})
	}
	contract.Steps = append(contract.Steps,
		Step{Kind: StepAssemble, Hook: -1},
		Step{Kind: StepPersist, Hook: -1},
	)

	return contract
}

// GoFields returns the record struct field of every schema field, in
// field order. Names that collide with RecordMethods or with an earlier
// field get a "Field" suffix, numbered if that is taken too.
func GoFields(model *schema.AnalysisOutput) []string {
	taken := make(map[string]bool, len(RecordMethods))
	for _, method := range RecordMethods {
		taken[method] = true
	}

	fields := model.Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		name := schema.ToPascalCase(field.Name())
		if taken[name] {
			base := name + "Field"
			name = base
			for n := 2; taken[name]; n++ {
				name = fmt.Sprintf("%s%d", base, n)
			}
		}
		taken[name] = true
		names[i] = name
	}
	return names
}

// GoField returns the record struct field of one schema field
func GoField(model *schema.AnalysisOutput, field string) (string, bool) {
	for i, f := range model.Fields() {
		if f.Name() == field {
			return GoFields(model)[i], true
		}
	}
	return "", false
}

// BuilderName returns the builder type name of a record
func BuilderName(record string) string {
	return record + "Factory"
}

// ResolveKeys points every hook's KeyGoField at the struct field the
// related record actually declares for its referenced key. Synthesize only
// sees the owner, so until then KeyGoField assumes the plain PascalCase name.
func (c *Contract) ResolveKeys(registry *schema.Registry) {
	for i, hook := range c.Hooks {
		related, ok := registry.Get(hook.RelatedType)
		if !ok {
			continue
		}
		if name, ok := GoField(related, hook.ReferencedKey); ok {
			c.Hooks[i].KeyGoField = name
		}
	}
}

// Setter returns the setter of the given schema field
func (c *Contract) Setter(field string) (Setter, bool) {
	for _, setter := range c.Setters {
		if setter.Field == field {
			return setter, true
		}
	}
	return Setter{}, false
}

// Hook returns the hook of the given relation base name
func (c *Contract) Hook(base string) (Hook, bool) {
	for _, hook := range c.Hooks {
		if hook.BaseName == base {
			return hook, true
		}
	}
	return Hook{}, false
}

// unique prefixes reserved names with "With" and numbers what still collides
func unique(name string, taken map[string]bool) string {
	candidate := name
	if taken[candidate] {
		candidate = "With" + name
	}
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("With%s%d", name, i)
	}
	taken[candidate] = true
	return candidate
}

func uniqueSlot(name string, taken map[string]bool) string {
	candidate := name
	if token.IsKeyword(candidate) {
		candidate += "Value"
	}
	base := candidate
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	taken[candidate] = true
	return candidate
}
