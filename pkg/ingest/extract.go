package ingest

import (
	"strings"
	"unicode"
)

type extractMethod int

const (
	methodFencedBlock extractMethod = iota
	methodBraceScan
	methodWholeInput
)

func (m extractMethod) String() string {
	switch m {
	case methodFencedBlock:
		return "fenced_block"
	case methodBraceScan:
		return "brace_scan"
	default:
		return "whole_input"
	}
}

// candidateSpan is the substring of the raw input judged most likely
// to contain structured data, plus how it was found. An unterminated
// span tells the repairer that delimiter balancing will be needed.
type candidateSpan struct {
	text         string
	method       extractMethod
	unterminated bool
}

// extract isolates the most plausible structured-data substring. It
// prefers the first fenced code block, then a depth-counted scan from
// the first '{', and finally the whole input, so downstream stages
// always have something to work with.
func extract(raw string) candidateSpan {
	if span, ok := fencedBlock(raw); ok {
		return span
	}
	if span, ok := braceScan(raw); ok {
		return span
	}
	return candidateSpan{text: strings.TrimSpace(raw), method: methodWholeInput}
}

func fencedBlock(raw string) (candidateSpan, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return candidateSpan{}, false
	}
	body := raw[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isFenceInfo(body[:nl]) {
		body = body[nl+1:]
	} else if rest, found := strings.CutPrefix(body, "json"); found {
		body = rest
	} else if rest, found := strings.CutPrefix(body, "JSON"); found {
		body = rest
	}

	span := candidateSpan{method: methodFencedBlock}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	} else {
		span.unterminated = true
	}
	span.text = strings.TrimSpace(body)
	return span, true
}

// isFenceInfo reports whether s looks like a fence info string such as
// "json", as opposed to content that happens to follow the fence on
// the same line.
func isFenceInfo(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// braceScan walks from the first '{' counting nesting depth, ignoring
// braces inside string literals and escape sequences. Reaching end of
// input before depth returns to zero marks the span unterminated.
func braceScan(raw string) (candidateSpan, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return candidateSpan{}, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return candidateSpan{text: raw[start : i+1], method: methodBraceScan}, true
			}
		}
	}
	return candidateSpan{text: raw[start:], method: methodBraceScan, unterminated: true}, true
}
