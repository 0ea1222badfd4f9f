package template

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRE = regexp.MustCompile(`%(?:PARAM\{([^}]*)\}|BODY|STDOUT|STDERR|CODE)%`)

const splitModifier = "split"

// Result is the process outcome bound into output templates.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Bindings is the set of values available to one expansion.
type Bindings struct {
	Params map[string]string
	Body   *string
	// Result enables %STDOUT%, %STDERR% and %CODE%. Nil outside output templates.
	Result *Result
}

// Placeholder is one recognized placeholder occurrence.
type Placeholder struct {
	Raw   string // full text, e.g. "%PARAM{x:split}%"
	Name  string // parameter name for PARAM, otherwise BODY/STDOUT/STDERR/CODE
	Param bool
	Split bool
}

// Scan lists the placeholders in s, left to right.
func Scan(s string) []Placeholder {
	var out []Placeholder
	for _, m := range placeholderRE.FindAllStringSubmatchIndex(s, -1) {
		raw := s[m[0]:m[1]]
		if m[2] >= 0 {
			name, split := parseParam(s[m[2]:m[3]])
			out = append(out, Placeholder{Raw: raw, Name: name, Param: true, Split: split})
			continue
		}
		out = append(out, Placeholder{Raw: raw, Name: strings.Trim(raw, "%")})
	}
	return out
}

// Expand materializes t against b. Strings yield string, sequences []any,
// mappings Object, literals their own value.
func Expand(t Template, b Bindings) any {
	switch t.kind {
	case KindSeq:
		out := make([]any, 0, len(t.items))
		for _, it := range t.items {
			out = append(out, Expand(it, b))
		}
		return out
	case KindMap:
		out := make(Object, 0, len(t.fields))
		for _, f := range t.fields {
			out = append(out, Member{Key: f.Key, Value: Expand(f.Value, b)})
		}
		return out
	case KindLiteral:
		return t.literal
	default:
		return ExpandString(t.text, b)
	}
}

// ExpandString substitutes every placeholder in s. A :split parameter is
// substituted as its raw value.
func ExpandString(s string, b Bindings) string {
	out, _ := expand(s, b, nil)
	return out
}

// ExpandArgs expands one argument template into zero or more arguments.
//
// An argument is dropped when it expands to "" or when it holds placeholders
// and every one of them expanded to nothing, so "--flag=%PARAM{f}%" vanishes
// when f is absent. Each :split placeholder contributes its
// whitespace-separated tokens as independent arguments; the remaining text is
// expanded on its own and, when kept, precedes the tokens.
func ExpandArgs(s string, b Bindings) []string {
	var tokens []string
	residual, filled := expand(s, b, func(v string) string {
		tokens = append(tokens, strings.Fields(v)...)
		return ""
	})

	args := make([]string, 0, len(tokens)+1)
	if residual != "" && (filled || len(tokens) > 0) {
		args = append(args, residual)
	}
	return append(args, tokens...)
}

// expand substitutes placeholders in s. filled is false when s contains
// placeholders and all of them substituted the empty string.
func expand(s string, b Bindings, onSplit func(string) string) (out string, filled bool) {
	matches := placeholderRE.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, true
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		last = m[1]

		if m[2] >= 0 {
			name, split := parseParam(s[m[2]:m[3]])
			v := b.Params[name]
			if split && onSplit != nil {
				v = onSplit(v)
			}
			filled = filled || v != ""
			sb.WriteString(v)
			continue
		}

		v := resolveBuiltin(s[m[0]:m[1]], b)
		filled = filled || v != ""
		sb.WriteString(v)
	}
	sb.WriteString(s[last:])
	return sb.String(), filled
}

func resolveBuiltin(raw string, b Bindings) string {
	switch raw {
	case "%BODY%":
		if b.Body != nil {
			return *b.Body
		}
		return ""
	}
	if b.Result == nil {
		return raw
	}
	switch raw {
	case "%STDOUT%":
		return b.Result.Stdout
	case "%STDERR%":
		return b.Result.Stderr
	default:
		return strconv.Itoa(b.Result.Code)
	}
}

// parseParam splits "name:split" into its name and modifier. Any other suffix
// is part of the name.
func parseParam(raw string) (string, bool) {
	if i := strings.LastIndexByte(raw, ':'); i >= 0 && raw[i+1:] == splitModifier {
		return raw[:i], true
	}
	return raw, false
}

// Object is an expanded mapping. It marshals to a JSON object in declaration
// order.
type Object []Member

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, m.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, m.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeJSON encodes v without HTML escaping; command output routinely
// contains <, > and &.
func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends '\n'
	return nil
}
