// Package template parses and renders the "{tok}/{tok}/..." path-format
// specification that drives the virtual-path resolver.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var fieldRE = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// FieldsInSegment returns the set of token names referenced by a single
// template segment (one "/"-separated component of the format string),
// in the order they first appear.
func FieldsInSegment(segment string) []string {
	matches := fieldRE.FindAllStringSubmatch(segment, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Split breaks a "{a}/{b}/{c}" format string into its segments.
func Split(format string) []string {
	if format == "" {
		return nil
	}
	return strings.Split(format, "/")
}

// Render substitutes every {token} in segment with its value from tokens.
// It fails loudly, returning a MissingTokensError naming every absent
// field, if any referenced token isn't present.
func Render(segment string, tokens map[string]string) (string, error) {
	fields := FieldsInSegment(segment)
	var missing []string
	for _, f := range fields {
		if _, ok := tokens[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingTokensError{Segment: segment, Missing: missing}
	}
	return fieldRE.ReplaceAllStringFunc(segment, func(m string) string {
		name := m[1 : len(m)-1]
		return tokens[name]
	}), nil
}

// MissingTokensError is returned by Render when a segment references a
// token that isn't available in the known token map for that node.
type MissingTokensError struct {
	Segment string
	Missing []string
}

func (e *MissingTokensError) Error() string {
	return fmt.Sprintf("template segment %q is missing required tokens %v", e.Segment, e.Missing)
}
