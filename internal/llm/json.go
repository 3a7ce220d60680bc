package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a completion holds no JSON object.
var ErrNoJSON = errors.New("no JSON object found in completion")

var fenceOpenRe = regexp.MustCompile("^```\\s*(json)?\\s*$")

// ExtractJSON returns the JSON object in text. It prefers the first fenced
// ```json block, then the first balanced {...} span that parses, and finally
// falls back to the first unbalanced span so the caller's validator can
// report why it is malformed.
func ExtractJSON(text string) (string, error) {
	if block, ok := fencedBlock(text); ok {
		return block, nil
	}
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	first := ""
	for start := strings.IndexByte(text, '{'); start >= 0; {
		span, balanced := balancedSpan(text[start:])
		if balanced && json.Valid([]byte(span)) {
			return span, nil
		}
		if first == "" {
			first = span
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	if first != "" {
		return first, nil
	}
	return "", ErrNoJSON
}

// fencedBlock returns the body of the first ``` or ```json fence whose body
// starts with '{'.
func fencedBlock(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !fenceOpenRe.MatchString(strings.TrimSpace(lines[i])) {
			continue
		}
		var buf strings.Builder
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				body := strings.TrimSpace(buf.String())
				if strings.HasPrefix(body, "{") {
					return body, true
				}
				i = j
				break
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(lines[j])
		}
	}
	return "", false
}

// balancedSpan scans s, which starts with '{', to the matching close brace,
// honouring string literals and escapes. It returns the rest of s unbalanced
// when the braces never close.
func balancedSpan(s string) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return s, false
}
