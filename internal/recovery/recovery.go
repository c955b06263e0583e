// Package recovery extracts fenced code and best-effort JSON objects from
// free text returned by a language model.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedResponse is matched by every MalformedResponseError.
var ErrMalformedResponse = errors.New("malformed response")

// MalformedResponseError carries the text that could not be recovered.
type MalformedResponseError struct {
	Text string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	if e.Err == nil {
		return ErrMalformedResponse.Error()
	}
	return fmt.Sprintf("%s: %v", ErrMalformedResponse, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMalformedResponse.
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

var (
	fencedBlock     = regexp.MustCompile("(?s)^```.*```$")
	taggedFence     = regexp.MustCompile("(?s)^```([\\w+#.-]*)[ \\t]*\\r?\\n(.*?)\\s*```$")
	bareFence       = regexp.MustCompile("(?s)^```\\s*(.*?)\\s*```$")
	fenceMarkers    = regexp.MustCompile("(?m)^```json|^```|```$")
	controlChars    = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	escapeFollowers = `\"/bfnrtu`
)

// ContainsCode reports whether the whole trimmed text is one fenced block.
func ContainsCode(text string) bool {
	return fencedBlock.MatchString(strings.TrimSpace(text))
}

// ExtractCode returns the interior of a fenced block, with or without a
// language tag. Text that is not fenced is returned trimmed.
func ExtractCode(text string) string {
	code, _ := ExtractCodeWithLanguage(text)
	return code
}

// ExtractCodeWithLanguage is ExtractCode that also returns the fence's
// language tag, empty when absent.
func ExtractCodeWithLanguage(text string) (code, lang string) {
	raw := strings.TrimSpace(text)
	if m := taggedFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[2]), m[1]
	}
	if m := bareFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), ""
	}
	return raw, ""
}

// ParseJSON recovers a JSON object from noisy model output. Fence markers
// are stripped, the text is cut after the last closing brace, control
// characters are removed and lone backslashes are escaped. When that fails
// the first balanced top-level object of the unfenced text is tried instead.
func ParseJSON(text string) (map[string]any, error) {
	raw := strings.TrimSpace(text)

	obj, err := decodeObject(Repair(raw))
	if err == nil {
		return obj, nil
	}

	unfenced := fenceMarkers.ReplaceAllString(raw, "")
	if candidate := ExtractFirstObject(unfenced); candidate != unfenced {
		if obj, ferr := decodeObject(Repair(candidate)); ferr == nil {
			return obj, nil
		}
	}

	return nil, &MalformedResponseError{Text: text, Err: err}
}

// Repair applies the textual fixes ParseJSON performs before decoding.
func Repair(raw string) string {
	s := fenceMarkers.ReplaceAllString(raw, "")
	if end := strings.LastIndexByte(s, '}'); end >= 0 {
		s = s[:end+1]
	}
	s = controlChars.ReplaceAllString(s, "")
	return escapeLoneBackslashes(s)
}

// escapeLoneBackslashes doubles every backslash that is neither preceded by
// a backslash nor followed by a valid JSON escape character.
func escapeLoneBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)
		if c != '\\' {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue
		}
		if i+1 < len(s) && strings.IndexByte(escapeFollowers, s[i+1]) >= 0 {
			continue
		}
		b.WriteByte('\\')
	}
	return b.String()
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

// ExtractFirstObject returns the first complete top-level {...} span in
// text by tracking brace depth. Text without an opening brace is returned
// unchanged; an unterminated object yields only its opening brace.
func ExtractFirstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	depth := 0
	end := start
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 && i > start {
			end = i
			break
		}
	}
	return text[start : end+1]
}
