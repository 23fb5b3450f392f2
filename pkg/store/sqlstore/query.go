package sqlstore

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Placeholder is the bind parameter style of a driver
type Placeholder int

const (
	// Dollar numbers parameters: $1, $2 (postgres)
	Dollar Placeholder = iota
	// Question uses ? for every parameter (sqlite, mysql)
	Question
)

// ParsePlaceholder converts a config value to a Placeholder
func ParsePlaceholder(s string) (Placeholder, error) {
	switch strings.ToLower(s) {
	case "", "dollar", "$":
		return Dollar, nil
	case "question", "?":
		return Question, nil
	default:
		return 0, fmt.Errorf("unknown placeholder style: %s", s)
	}
}

// String returns the config name of the placeholder style
func (p Placeholder) String() string {
	if p == Question {
		return "question"
	}
	return "dollar"
}

func (p Placeholder) nth(n int) string {
	if p == Question {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// QuoteIdent quotes a table or column name
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// InsertQuery builds the INSERT statement for rec. Primary key columns
// still holding their zero value are left out so the database can generate
// them; every column is returned.
func InsertQuery(model *schema.AnalysisOutput, rec fabrique.Record, ph Placeholder) (string, []any) {
	var columns []string
	var args []any

	for _, field := range model.Fields() {
		value, ok := rec[field.Name()]
		if field.Attributes.PrimaryKey && (!ok || fabrique.IsZero(value)) {
			continue
		}
		if !ok {
			value = field.Decl.Type.Zero()
		}

		columns = append(columns, field.Name())
		args = append(args, value)
	}

	return InsertStatement(model.Table(), columns, model.Columns(), ph), args
}

// InsertStatement renders an INSERT of the given columns, one bind
// parameter each, returning the listed columns. Names are quoted here.
func InsertStatement(table string, columns, returning []string, ph Placeholder) string {
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", QuoteIdent(table), quoteList(returning))
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = ph.nth(i + 1)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		QuoteIdent(table),
		quoteList(columns),
		strings.Join(placeholders, ", "),
		quoteList(returning),
	)
}

// SelectQuery builds the statement returning every stored record of model
func SelectQuery(model *schema.AnalysisOutput) string {
	return fmt.Sprintf("SELECT %s FROM %s", returningList(model), QuoteIdent(model.Table()))
}

func returningList(model *schema.AnalysisOutput) string {
	return quoteList(model.Columns())
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}
