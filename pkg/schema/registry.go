package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages the analyzed records of an application
type Registry struct {
	records map[string]*AnalysisOutput
	mu      sync.RWMutex
}

// NewRegistry creates a new, empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*AnalysisOutput),
	}
}

// Register adds an analyzed record. Relations are not checked here so that
// records may reference each other in any order; see ValidateAll.
func (r *Registry) Register(record *AnalysisOutput) error {
	if record == nil {
		return errors.New("cannot register a nil record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Name()]; exists {
		return fmt.Errorf("record %s is already registered", record.Name())
	}

	r.records[record.Name()] = record
	return nil
}

// Get retrieves a record by name. Package-qualified names such as
// "models.Hammer" fall back to their final segment.
func (r *Registry) Get(name string) (*AnalysisOutput, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lookup(r.records, name)
}

// Exists checks if a record is registered
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Count returns the number of registered records
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// List returns the names of all registered records, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedNames(r.records)
}

// All returns a copy of all registered records
func (r *Registry) All() map[string]*AnalysisOutput {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AnalysisOutput, len(r.records))
	for k, v := range r.records {
		result[k] = v
	}
	return result
}

// Clear removes all registered records
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*AnalysisOutput)
}

// ValidateAll checks every relation against the registry: the related
// record must be registered, the referenced key must be one of its fields,
// and the key's type must match the owner field's type. All problems are
// reported, joined, in record then field order.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range sortedNames(r.records) {
		record := r.records[name]
		for _, field := range record.fields {
			if field.Relation == nil {
				continue
			}
			if err := validateRelation(r.records, record, field); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func validateRelation(records map[string]*AnalysisOutput, owner *AnalysisOutput, field AnalyzedField) error {
	rel := field.Relation

	target, ok := lookup(records, rel.RelatedType)
	if !ok {
		return &ValidationError{
			Record:  owner.Name(),
			Field:   rel.OwnerField,
			Message: fmt.Sprintf("relation references unknown record %s", rel.RelatedType),
			Hint:    fmt.Sprintf("declare %s in a schema file or register it before validating", rel.RelatedType),
		}
	}

	key, ok := target.Field(rel.ReferencedKey)
	if !ok {
		return &ValidationError{
			Record:  owner.Name(),
			Field:   rel.OwnerField,
			Message: fmt.Sprintf("referenced key %s is not a field of %s", rel.ReferencedKey, target.Name()),
			Hint:    fmt.Sprintf("%s has fields: %s", target.Name(), strings.Join(target.Columns(), ", ")),
		}
	}

	if key.Decl.Type != field.Decl.Type {
		return &ValidationError{
			Record: owner.Name(),
			Field:  rel.OwnerField,
			Message: fmt.Sprintf("type %s does not match %s.%s of type %s",
				field.Decl.Type, target.Name(), rel.ReferencedKey, key.Decl.Type),
			Hint: fmt.Sprintf("declare %s as %s", rel.OwnerField, key.Decl.Type),
		}
	}

	return nil
}

// DependencyOrder returns record names with related records first,
// the order in which factories can create them
func (r *Registry) DependencyOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return NewRelationGraph(r.records).TopologicalSort()
}

// AnalyzeDependencies returns a dependency analysis report
func (r *Registry) AnalyzeDependencies() *DependencyReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return NewRelationGraph(r.records).Report()
}

func lookup(records map[string]*AnalysisOutput, name string) (*AnalysisOutput, bool) {
	if record, ok := records[name]; ok {
		return record, true
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		record, ok := records[name[idx+1:]]
		return record, ok
	}
	return nil, false
}

func sortedNames(records map[string]*AnalysisOutput) []string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
