package ingest

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnparsable reports that no repair transform sequence produced a
// parseable candidate. The orchestrator absorbs it by synthesizing
// from an empty tree; it never reaches callers.
var ErrUnparsable = errors.New("candidate is not parseable as structured data")

type repairTransform struct {
	name  string
	apply func(string) string
}

// repairTransforms run cumulatively in a fixed order, with a parse
// probe after each one. Every transform is a no-op on already-valid
// input, which keeps the whole sequence idempotent.
var repairTransforms = []repairTransform{
	{"strip_control_chars", stripControlChars},
	{"strip_trailing_commas", stripTrailingCommas},
	{"insert_missing_commas", insertMissingCommas},
	{"close_unterminated_strings", closeUnterminatedStrings},
	{"balance_delimiters", balanceDelimiters},
}

// repair coerces a candidate span into a parsed value tree. The span
// is probed unchanged first so valid input passes through untouched,
// then the transforms are applied one at a time until a probe
// succeeds. The returned names are the transforms that actually
// changed the text before the successful parse.
func repair(span candidateSpan) (any, []string, error) {
	text := span.text
	if tree, ok := probe(text); ok {
		return tree, nil, nil
	}

	var applied []string
	for _, t := range repairTransforms {
		next := t.apply(text)
		if next == text {
			continue
		}
		text = next
		applied = append(applied, t.name)
		if tree, ok := probe(text); ok {
			return tree, applied, nil
		}
	}
	return nil, applied, ErrUnparsable
}

func probe(text string) (any, bool) {
	if text == "" || !gjson.Valid(text) {
		return nil, false
	}
	var tree any
	if err := json.Unmarshal([]byte(text), &tree); err != nil {
		return nil, false
	}
	return tree, true
}

// stripControlChars removes control characters that can never appear
// unescaped in a JSON document. Between tokens the legal whitespace
// characters stay; inside string literals newlines stay (the
// unterminated-string transform decides their fate), tabs become their
// escape sequence, and everything else is dropped.
func stripControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		}
		if r >= 0x20 {
			b.WriteRune(r)
			continue
		}
		if inString {
			switch r {
			case '\n':
				b.WriteRune(r)
			case '\t':
				b.WriteString(`\t`)
			}
			continue
		}
		if r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripTrailingCommas drops commas that sit directly before a closing
// brace or bracket.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == ',' && !inString:
			if next, ok := nextNonSpace(text, i+1); ok && (next == '}' || next == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// insertMissingCommas splices a comma between a closing delimiter and
// the opening delimiter or string that follows it, e.g. "}{" becomes
// "},{". Adjacent complete strings are included because no valid
// document ever places two string literals side by side.
func insertMissingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		wasString := inString
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		}
		b.WriteByte(c)
		closer := c == '}' || c == ']'
		stringEnd := c == '"' && wasString && !inString
		if !inString && (closer || stringEnd) {
			next, ok := nextNonSpace(text, i+1)
			if !ok {
				continue
			}
			if next == '{' || next == '[' || (next == '"' && closer) || (next == '"' && stringEnd && followsKeyOrElement(text, i+1)) {
				b.WriteByte(',')
			}
		}
	}
	return b.String()
}

// followsKeyOrElement reports whether the string starting at the next
// quote looks like a new key or array element rather than garbage, by
// checking that a structural character follows its closing quote.
func followsKeyOrElement(text string, from int) bool {
	start := -1
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			start = i
		}
		break
	}
	if start < 0 {
		return false
	}
	escaped := false
	for i := start + 1; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			next, ok := nextNonSpace(text, i+1)
			return ok && (next == ':' || next == ',' || next == ']' || next == '}')
		}
	}
	return false
}

// closeUnterminatedStrings terminates string literals the generator
// left open. A raw newline inside a string either marks a forgotten
// closing quote (when structure resumes on the next line) or content
// that was meant to be escaped; end of input inside a string means the
// output was truncated mid-value.
func closeUnterminatedStrings(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 4)
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '\n' && inString:
			next, ok := nextNonSpace(text, i+1)
			switch {
			case ok && next == '"':
				b.WriteString(`",`)
				inString = false
			case ok && (next == '}' || next == ']'):
				b.WriteByte('"')
				inString = false
			default:
				b.WriteString(`\n`)
				continue
			}
		}
		b.WriteByte(c)
	}
	out := b.String()
	if !inString {
		return out
	}
	// truncated mid-string: close before any trailing delimiters so
	// they still bind to their objects
	insert := len(out)
	for insert > 0 && isTrailingDelimiter(out[insert-1]) {
		insert--
	}
	return out[:insert] + `"` + out[insert:]
}

func isTrailingDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', '}', ']':
		return true
	}
	return false
}

// balanceDelimiters appends the minimum closers needed to bring the
// nesting depth back to zero, closing an open string literal first.
func balanceDelimiters(text string) string {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if !inString && len(stack) == 0 {
		return text
	}

	body := text
	if inString {
		body += `"`
	} else if trimmed := strings.TrimRight(body, " \t\r\n"); strings.HasSuffix(trimmed, ",") {
		// truncated right after a comma; the closers must not trap it
		body = trimmed[:len(trimmed)-1]
	}

	var b strings.Builder
	b.Grow(len(body) + len(stack))
	b.WriteString(body)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func nextNonSpace(text string, from int) (byte, bool) {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return text[i], true
		}
	}
	return 0, false
}
