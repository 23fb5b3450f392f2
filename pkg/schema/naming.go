package schema

import (
	"strings"
	"unicode"
)

// commonInitialisms are upper-cased as a whole when converting to Go names
var commonInitialisms = map[string]bool{
	"api": true, "db": true, "dns": true, "html": true, "http": true,
	"https": true, "id": true, "ip": true, "json": true, "sql": true,
	"ssh": true, "tcp": true, "ui": true, "uid": true, "uri": true,
	"url": true, "uuid": true, "xml": true,
}

// IsIdentifier reports whether s is a valid identifier
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// IsTypeName reports whether s is a valid, possibly package-qualified, type name
func IsTypeName(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !IsIdentifier(part) {
			return false
		}
	}
	return true
}

// TableName returns the default storage identity of a record: the
// snake_case plural of its name
func TableName(record string) string {
	return Pluralize(ToSnakeCase(record))
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// camelCase boundary, or the end of an acronym: "HTTPServer" -> "http_server"
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' && prev != '_' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// Pluralize adds simple English pluralization
func Pluralize(s string) string {
	if strings.HasSuffix(s, "s") ||
		strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") ||
		strings.HasSuffix(s, "ch") ||
		strings.HasSuffix(s, "sh") {
		return s + "es"
	}
	if strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])) {
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

// ToPascalCase converts snake_case to an exported Go name, upper-casing
// common initialisms: "hammer_id" -> "HammerID"
func ToPascalCase(s string) string {
	var b strings.Builder
	for _, word := range strings.Split(s, "_") {
		if word == "" {
			continue
		}
		if commonInitialisms[strings.ToLower(word)] {
			b.WriteString(strings.ToUpper(word))
			continue
		}
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// ToCamelCase converts snake_case to an unexported Go name: "hammer_id" -> "hammerID"
func ToCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if pascal == "" {
		return ""
	}

	// Lower the leading initialism as a whole: "IDValue" -> "idValue"
	words := strings.Split(s, "_")
	for len(words) > 0 && words[0] == "" {
		words = words[1:]
	}
	if len(words) > 0 && commonInitialisms[strings.ToLower(words[0])] {
		first := strings.ToUpper(words[0])
		return strings.ToLower(first) + pascal[len(first):]
	}

	runes := []rune(pascal)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}
