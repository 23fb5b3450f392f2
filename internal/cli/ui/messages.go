package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a user-facing diagnostic
type Message struct {
	Level       Level
	Context     string // short upper-cased heading, e.g. "ANALYSIS FAILED"
	Problem     string
	Location    string // record or record.field the problem refers to
	Hint        string
	Suggestions []string
	Help        []string
	NoColor     bool
}

func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// Format renders the message.
//
//	❌ UNKNOWN RECORD: Anvl
//	   No record named 'Anvl' in the loaded schemas.
//
//	   Did you mean: Anvil?
//
//	   → List records: fabrique inspect
func Format(m Message) string {
	var b strings.Builder

	var head, body *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		head, body, symbol = paint(m.NoColor, color.FgYellow, color.Bold), paint(m.NoColor, color.FgYellow), "⚠️"
	case LevelInfo:
		head, body, symbol = paint(m.NoColor, color.FgCyan, color.Bold), paint(m.NoColor, color.FgCyan), "ℹ️"
	default:
		head, body, symbol = paint(m.NoColor, color.FgRed, color.Bold), paint(m.NoColor, color.FgRed), "❌"
	}

	if m.Context != "" {
		head.Fprintf(&b, "%s %s\n", symbol, m.Context)
		body.Fprintf(&b, "   %s\n", m.Problem)
	} else {
		head.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if m.Location != "" {
		paint(m.NoColor, color.FgHiBlack).Fprintf(&b, "   at %s\n", m.Location)
	}

	if m.Hint != "" {
		b.WriteString("\n")
		fmt.Fprintf(&b, "   %s\n", m.Hint)
	}

	if len(m.Suggestions) > 0 {
		b.WriteString("\n")
		paint(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.Help) > 0 {
		b.WriteString("\n")
		cyan := paint(m.NoColor, color.FgCyan)
		for _, line := range m.Help {
			cyan.Fprintf(&b, "   → %s\n", line)
		}
	}

	return b.String()
}

// Write renders the message to w
func Write(w io.Writer, m Message) {
	fmt.Fprint(w, Format(m))
}

// FormatSuccess renders a one-line success message
func FormatSuccess(message string, noColor bool) string {
	return paint(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// ForError turns an error from loading or analyzing schemas into a message.
// Errors it has no special rendering for keep their text as the problem.
func ForError(err error, noColor bool) Message {
	var analysisErr *schema.AnalysisError
	if errors.As(err, &analysisErr) {
		return Message{
			Context:  "ANALYSIS FAILED",
			Problem:  err.Error(),
			Location: location(analysisErr.Record, analysisErr.Field),
			Hint:     analysisErr.Hint(),
			Help:     []string{"Check the schema: fabrique check"},
			NoColor:  noColor,
		}
	}

	// hints are part of the joined validation error text
	var validationErr *schema.ValidationError
	if errors.As(err, &validationErr) {
		return Message{
			Context:  "INVALID SCHEMA",
			Problem:  err.Error(),
			Location: location(validationErr.Record, validationErr.Field),
			Help:     []string{"Show record dependencies: fabrique inspect --deps"},
			NoColor:  noColor,
		}
	}

	return Message{Problem: err.Error(), NoColor: noColor}
}

func location(record, field string) string {
	if record == "" || field == "" {
		return record
	}
	return record + "." + field
}

// UnknownRecord renders a lookup failure with close matches
func UnknownRecord(name string, records []string, noColor bool) string {
	return Format(Message{
		Context:     "UNKNOWN RECORD: " + name,
		Problem:     fmt.Sprintf("No record named '%s' in the loaded schemas.", name),
		Suggestions: Suggest(name, records),
		Help:        []string{"List records: fabrique inspect"},
		NoColor:     noColor,
	})
}

// UnknownField renders a missing field of a record with close matches
func UnknownField(record, field string, fields []string, noColor bool) string {
	return Format(Message{
		Context:     "UNKNOWN FIELD: " + record + "." + field,
		Problem:     fmt.Sprintf("Record '%s' has no field '%s'.", record, field),
		Suggestions: Suggest(field, fields),
		Help:        []string{"Show the record's setters: fabrique inspect " + record},
		NoColor:     noColor,
	})
}
