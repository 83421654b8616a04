package pathutil

import (
	"regexp"
	"strings"
)

// Charset controls which characters survive name encoding.
type Charset int

const (
	// Unicode passes most characters through, only substituting the two
	// that are illegal (or awkward) as path separators.
	Unicode Charset = iota
	// Ascii transliterates umlauts and then strips anything outside ASCII.
	Ascii
	// Identifier additionally restricts the result to [A-Za-z0-9_].
	Identifier
)

// EscapeMode controls how punctuation/whitespace in a name is rewritten.
type EscapeMode int

const (
	// Similar substitutes look-alike Unicode characters for '/' and ':'
	// so names stay readable (the default).
	Similar EscapeMode = iota
	// Typeable replaces '/' and ':' with a plain ASCII dash or underscore.
	Typeable
	// CamelCase splits on punctuation/whitespace and concatenates
	// capitalized words.
	CamelCase
	// SnakeCase splits on punctuation/whitespace and joins lowercased
	// words with '_'.
	SnakeCase
)

var (
	punctuationWhitespaceRE = regexp.MustCompile(`[ _/.,;:\-#'+*~!^"$%&()\[\]}{\\?<>|]+`)
	nonASCIIRE              = regexp.MustCompile(`[^\x00-\x7f]+`)
	nonIdentifierRE         = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	fsSpecialCharsRE        = regexp.MustCompile(`[/:]+`)
)

var umlautTransliterations = []struct{ from, to string }{
	{"ß", "ss"},
	{"ä", "ae"}, {"Ä", "Ae"},
	{"ö", "oe"}, {"Ö", "Oe"},
	{"ü", "ue"}, {"Ü", "Ue"},
}

// Encode sanitizes a remote object name into a filesystem-safe path segment
// under the given charset and escape mode. It is a deterministic pure
// function of its inputs.
func Encode(name string, charset Charset, mode EscapeMode) string {
	val := name

	if charset == Ascii || charset == Identifier {
		for _, t := range umlautTransliterations {
			val = strings.ReplaceAll(val, t.from, t.to)
		}
		if charset == Ascii {
			val = nonASCIIRE.ReplaceAllString(val, "")
		} else {
			val = nonIdentifierRE.ReplaceAllString(val, "")
		}
	}

	switch {
	case mode == SnakeCase || mode == CamelCase || charset == Identifier:
		parts := splitNonEmpty(punctuationWhitespaceRE.Split(val, -1))
		switch mode {
		case SnakeCase:
			return strings.ToLower(strings.Join(parts, "_"))
		case CamelCase:
			var b strings.Builder
			for _, w := range parts {
				if w == "" {
					continue
				}
				b.WriteString(strings.ToUpper(w[:1]))
				b.WriteString(w[1:])
			}
			return b.String()
		default:
			return strings.Join(parts, "_")
		}
	case mode == Typeable || charset == Ascii || charset == Identifier:
		repl := "_"
		if charset == Ascii {
			repl = "-"
		}
		return fsSpecialCharsRE.ReplaceAllString(val, repl)
	default: // Similar, Unicode
		val = strings.ReplaceAll(val, "/", "∕")
		val = strings.ReplaceAll(val, ":", "∶")
		return val
	}
}

func splitNonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
