package expressions

import (
	"strings"

	"github.com/cascadehq/cascade/pkg/schema"
)

// Substitute replaces {name} placeholders in text with values from the
// variables map. Placeholder names are identifiers (letters, digits,
// underscores, dashes, dots); braces around anything else are left untouched so
// prompts containing JSON fragments survive. A placeholder naming a missing
// variable is an error: silently dropping it would hand an agent a prompt
// with a hole in it.
func Substitute(text string, variables map[string]string) (string, error) {
	if !strings.ContainsRune(text, '{') {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		c := text[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(text[i:], '}')
		if end < 0 {
			b.WriteString(text[i:])
			break
		}
		name := text[i+1 : i+end]
		if !isPlaceholderName(name) {
			// Not a placeholder; copy the brace and keep scanning.
			b.WriteByte(c)
			i++
			continue
		}

		value, ok := variables[name]
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"unknown variable %q in placeholder", name).
				WithDetails(map[string]any{"placeholder": name})
		}
		b.WriteString(value)
		i += end + 1
	}

	return b.String(), nil
}

// HasPlaceholders reports whether text contains at least one {name}
// placeholder.
func HasPlaceholders(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := strings.IndexByte(text[i:], '}')
		if end > 1 && isPlaceholderName(text[i+1:i+end]) {
			return true
		}
	}
	return false
}

func isPlaceholderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}
