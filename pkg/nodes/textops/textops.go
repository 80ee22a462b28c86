// Package textops provides string transform helpers and a flow node that
// applies a pipeline of transforms to a context value.
package textops

import (
	"fmt"
	stdstrings "strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Concatenate combines multiple strings with an optional separator.
func Concatenate(separator string, parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	return stdstrings.Join(parts, separator)
}

// Split splits a string by the given delimiter.
func Split(s, delimiter string) []string {
	if delimiter == "" {
		return []string{s}
	}
	return stdstrings.Split(s, delimiter)
}

// Join joins an array of strings using the specified separator.
func Join(items []string, separator string) string {
	return stdstrings.Join(items, separator)
}

// Trim removes whitespace or provided cutset from both ends.
// If cutset is empty, it trims unicode whitespace.
func Trim(s, cutset string) string {
	if cutset == "" {
		return stdstrings.TrimSpace(s)
	}
	return stdstrings.Trim(s, cutset)
}

// ToUpper converts a string to upper case.
func ToUpper(s string) string {
	return stdstrings.ToUpper(s)
}

// ToLower converts a string to lower case.
func ToLower(s string) string {
	return stdstrings.ToLower(s)
}

// ToTitle converts a string to title case using language-neutral rules.
func ToTitle(s string) string {
	return cases.Title(language.Und).String(s)
}

// Replace replaces occurrences of old with new. If count < 0, all
// occurrences are replaced.
func Replace(s, old, new string, count int) string {
	return stdstrings.Replace(s, old, new, count)
}

// Op names accepted by Apply and the node.
const (
	OpUpper = "upper"
	OpLower = "lower"
	OpTitle = "title"
	OpTrim  = "trim"
)

// Apply runs a single named transform over s.
func Apply(op, s string) (string, error) {
	switch op {
	case OpUpper:
		return ToUpper(s), nil
	case OpLower:
		return ToLower(s), nil
	case OpTitle:
		return ToTitle(s), nil
	case OpTrim:
		return Trim(s, ""), nil
	default:
		return "", fmt.Errorf("unknown transform %q", op)
	}
}
