package toolify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// ErrMalformedInvocation is returned when an invocation fragment cannot be decoded.
var ErrMalformedInvocation = errors.New("malformed invocation")

// InvokeCall is a tool invocation recovered from the stream.
type InvokeCall struct {
	Name      string
	Arguments map[string]any
}

// ArgumentsJSON serializes the call arguments. A call without arguments
// serializes as an empty object.
func (c *InvokeCall) ArgumentsJSON() (string, error) {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments of %q: %w", c.Name, err)
	}
	return string(data), nil
}

var (
	reInvoke    = regexp.MustCompile(`(?s)^\s*<invoke(?:\s+name="([^"]*)")?[^>]*>(.*)</invoke>\s*$`)
	reParameter = regexp.MustCompile(`(?s)<parameter\s+name="([^"]*)"[^>]*>(.*?)</parameter>`)
	reOpenParam = regexp.MustCompile(`<parameter[\s>]`)
)

// DecodeInvocation decodes one <invoke>...</invoke> fragment.
//
// Parameter bodies are taken verbatim up to the closing tag, so shell
// operators, comparisons and nested markup survive; the five XML entities
// are unescaped. Values that are valid JSON literals keep their typed form
// (numbers as json.Number); anything else becomes the trimmed raw string.
// An empty parameter body stays the raw string.
func DecodeInvocation(fragment string) (*InvokeCall, error) {
	m := reInvoke.FindStringSubmatch(fragment)
	if m == nil {
		return nil, fmt.Errorf("%w: not an invoke element", ErrMalformedInvocation)
	}
	name := strings.TrimSpace(entityUnescaper.Replace(m[1]))
	if name == "" {
		return nil, fmt.Errorf("%w: missing name attribute", ErrMalformedInvocation)
	}

	body := m[2]
	params := reParameter.FindAllStringSubmatch(body, -1)
	if rest := reParameter.ReplaceAllString(body, ""); reOpenParam.MatchString(rest) {
		return nil, fmt.Errorf("%w: unterminated parameter in %q", ErrMalformedInvocation, name)
	}

	args := make(map[string]any, len(params))
	for _, p := range params {
		key := entityUnescaper.Replace(p[1])
		if key == "" {
			continue
		}
		args[key] = decodeParameterValue(entityUnescaper.Replace(p[2]))
	}

	return &InvokeCall{Name: name, Arguments: args}, nil
}

func decodeParameterValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return trimmed
	}
	// Reject trailing content such as `1 2` or `"a" b`.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return trimmed
	}
	return v
}

// EncodeInvocation renders a call in the invocation markup understood by
// DecodeInvocation. Plain strings are written raw; strings that would read
// back as another JSON type, and all non-string values, are written as JSON.
func EncodeInvocation(name string, arguments map[string]any) string {
	var b strings.Builder
	b.WriteString(`<invoke name="`)
	b.WriteString(attrEscaper.Replace(name))
	b.WriteString("\">\n")
	for _, key := range slices.Sorted(maps.Keys(arguments)) {
		b.WriteString(`<parameter name="`)
		b.WriteString(attrEscaper.Replace(key))
		b.WriteString(`">`)
		b.WriteString(textEscaper.Replace(encodeParameterValue(arguments[key])))
		b.WriteString("</parameter>\n")
	}
	b.WriteString("</invoke>")
	return b.String()
}

func encodeParameterValue(v any) string {
	if s, ok := v.(string); ok {
		if decoded, ok := decodeParameterValue(s).(string); ok && decoded == s {
			return s
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

	entityUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
)

var errUnterminated = fmt.Errorf("%w: unterminated invocation at end of stream", ErrMalformedInvocation)
