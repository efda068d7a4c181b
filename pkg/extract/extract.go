// Package extract turns free-form model responses into source code.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MalformedPatchError is returned when a multi-file response cannot be
// turned into a path to content map.
type MalformedPatchError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *MalformedPatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed patch: %s: %v", e.Reason, e.Err)
	}
	return "malformed patch: " + e.Reason
}

func (e *MalformedPatchError) Unwrap() error { return e.Err }

// Extractor pulls code out of raw model output.
type Extractor interface {
	// Code returns the replacement source for a single file.
	Code(raw string) (string, error)
	// ProjectPatch returns the changed files of a multi-file project.
	ProjectPatch(raw string) (map[string]string, error)
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:[\\w+#.-]+[ \\t]*\\r?\\n|[ \\t]*(?:\\r?\\n)?)(.*?)```")
	fenceMarkerRe = regexp.MustCompile("```[\\w+#.-]*")
)

// proseHeaders are line prefixes models use to introduce code.
var proseHeaders = []string{"Here is", "The given", "The code", "Corrected", "Fix"}

// Default is the heuristic extractor used by the repair loop.
var Default Extractor = heuristic{}

// Strict only accepts fenced code in single-file mode.
var Strict Extractor = strict{}

type heuristic struct{}

func (heuristic) Code(raw string) (string, error) { return Code(raw), nil }

func (heuristic) ProjectPatch(raw string) (map[string]string, error) { return ProjectPatch(raw) }

type strict struct{}

func (strict) Code(raw string) (string, error) {
	m := fencedBlockRe.FindStringSubmatch(raw)
	if m == nil {
		return "", &MalformedPatchError{Raw: raw, Reason: "no fenced code block"}
	}
	return fenceBody(m[1]), nil
}

func (strict) ProjectPatch(raw string) (map[string]string, error) { return ProjectPatch(raw) }

// Code returns the interior of the first fenced block in raw. Without a
// fence, lines that look like prose headers are dropped and the remainder is
// returned. A source line that happens to start with one of those headers
// is dropped too.
func Code(raw string) string {
	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		return fenceBody(m[1])
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if isProseHeader(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// fenceBody trims a fence interior and normalizes CRLF line endings.
func fenceBody(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

func isProseHeader(line string) bool {
	for _, p := range proseHeaders {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// ProjectPatch parses a JSON object of path to full file content out of
// raw. Fences and surrounding prose are ignored. Brace matching does not
// track string literals, so a brace inside a string can end the object
// early.
func ProjectPatch(raw string) (map[string]string, error) {
	text := fenceMarkerRe.ReplaceAllString(raw, "")

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, &MalformedPatchError{Raw: raw, Reason: "no JSON object found"}
	}
	end := matchingBrace(text, start)
	if end < 0 {
		return nil, &MalformedPatchError{Raw: raw, Reason: "unbalanced braces"}
	}

	body := text[start : end+1]

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		if err := json.Unmarshal([]byte(normalizeTripleQuotes(body)), &obj); err != nil {
			return nil, &MalformedPatchError{Raw: raw, Reason: "invalid JSON", Err: err}
		}
	}

	out := make(map[string]string, len(obj))
	for path, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, &MalformedPatchError{Raw: raw, Reason: fmt.Sprintf("value for %q is not a string", path)}
		}
		out[path] = s
	}
	return out, nil
}

func matchingBrace(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// normalizeTripleQuotes rewrites Python style triple-quoted literals, which
// models sometimes emit for multi-line values, as JSON strings. Triple
// quotes inside an ordinary JSON string are left alone.
func normalizeTripleQuotes(s string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(s) {
					i++
					b.WriteByte(s[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		if q := tripleQuoteAt(s, i); q != "" {
			if n := strings.Index(s[i+3:], q); n >= 0 {
				enc, _ := json.Marshal(s[i+3 : i+3+n])
				b.Write(enc)
				i += 3 + n + 2
				continue
			}
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

func tripleQuoteAt(s string, i int) string {
	for _, q := range []string{`"""`, "'''"} {
		if strings.HasPrefix(s[i:], q) {
			return q
		}
	}
	return ""
}
