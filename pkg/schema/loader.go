package schema

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk layout of a schema file
type schemaFile struct {
	Records []recordNode `yaml:"records"`
}

type recordNode struct {
	Name   string      `yaml:"name"`
	Kind   string      `yaml:"kind"`
	Attrs  []string    `yaml:"attrs"`
	Fields []fieldNode `yaml:"fields"`
}

type fieldNode struct {
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Attrs []string `yaml:"attrs"`
}

// LoadFile reads record shapes from a YAML schema file
func LoadFile(path string) ([]RecordShape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema %s: %w", path, err)
	}
	defer f.Close()

	return Load(f, path)
}

// LoadFiles expands the given glob patterns and loads every matching file.
// Files are loaded in lexical order and each file is read at most once.
func LoadFiles(patterns ...string) ([]RecordShape, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid schema pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}
	sort.Strings(paths)

	var shapes []RecordShape
	for _, path := range paths {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, loaded...)
	}

	return shapes, nil
}

// Load decodes record shapes from YAML. source is recorded on every shape.
func Load(r io.Reader, source string) ([]RecordShape, error) {
	var file schemaFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse schema %s: %w", source, err)
	}

	shapes := make([]RecordShape, 0, len(file.Records))
	for _, node := range file.Records {
		shape, err := node.shape(source)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, shape)
	}

	return shapes, nil
}

func (n recordNode) shape(source string) (RecordShape, error) {
	if n.Name == "" {
		return RecordShape{}, fmt.Errorf("%s: record without a name", source)
	}

	kind, err := ParseShapeKind(n.Kind)
	if err != nil {
		return RecordShape{}, fmt.Errorf("%s: record %s: %w", source, n.Name, err)
	}

	shape := RecordShape{
		Name:   n.Name,
		Kind:   kind,
		Source: source,
	}

	groups, err := parseGroups(n.Attrs)
	if err != nil {
		return RecordShape{}, withContext(err, n.Name, "")
	}
	shape.Annotations = groups

	for _, fieldNode := range n.Fields {
		typ, err := ParseTypeRef(fieldNode.Type)
		if err != nil {
			return RecordShape{}, fmt.Errorf("%s: record %s field %s: %w", source, n.Name, fieldNode.Name, err)
		}

		groups, err := parseGroups(fieldNode.Attrs)
		if err != nil {
			return RecordShape{}, withContext(err, n.Name, fieldNode.Name)
		}

		shape.Fields = append(shape.Fields, FieldDecl{
			Name:        fieldNode.Name,
			Type:        typ,
			Annotations: groups,
		})
	}

	return shape, nil
}

func parseGroups(texts []string) ([]AnnotationGroup, error) {
	var groups []AnnotationGroup
	for _, text := range texts {
		group, err := ParseAnnotations(text)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func withContext(err error, record, field string) error {
	var aerr *AnalysisError
	if errors.As(err, &aerr) {
		aerr.Record = record
		aerr.Field = field
		return aerr
	}
	return err
}
