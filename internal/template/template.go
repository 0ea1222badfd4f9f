package template

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Template.
type Kind int

const (
	KindString Kind = iota
	KindSeq
	KindMap
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindSeq:
		return "sequence"
	case KindMap:
		return "mapping"
	case KindLiteral:
		return "literal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Template is a tagged variant: String | Seq | Map | Literal.
// The zero value is the empty string template.
type Template struct {
	kind    Kind
	text    string
	items   []Template
	fields  []Field
	literal any
}

// Field is one key/value entry of a mapping template.
type Field struct {
	Key   string
	Value Template
}

// String returns a plain string template.
func String(s string) Template {
	return Template{kind: KindString, text: s}
}

// Seq returns a sequence template.
func Seq(items ...Template) Template {
	return Template{kind: KindSeq, items: items}
}

// Map returns a mapping template. Field order is preserved.
func Map(fields ...Field) Template {
	return Template{kind: KindMap, fields: fields}
}

// Literal returns a non-string leaf that expands to itself.
func Literal(v any) Template {
	return Template{kind: KindLiteral, literal: v}
}

// F is shorthand for building a mapping Field.
func F(key string, value Template) Field {
	return Field{Key: key, Value: value}
}

func (t Template) Kind() Kind { return t.kind }

// Text returns the raw template text of a string template.
func (t Template) Text() string { return t.text }

// Items returns the elements of a sequence template.
func (t Template) Items() []Template { return t.items }

// Fields returns the entries of a mapping template.
func (t Template) Fields() []Field { return t.fields }

// IsStructured reports whether the template is a sequence or a mapping.
func (t Template) IsStructured() bool {
	return t.kind == KindSeq || t.kind == KindMap
}

// Strings returns every string leaf in depth-first order.
func (t Template) Strings() []string {
	var out []string
	var walk func(Template)
	walk = func(n Template) {
		switch n.kind {
		case KindString:
			out = append(out, n.text)
		case KindSeq:
			for _, it := range n.items {
				walk(it)
			}
		case KindMap:
			for _, f := range n.fields {
				walk(f.Value)
			}
		}
	}
	walk(t)
	return out
}

// FromValue converts a decoded JSON/YAML value into a Template. Map keys of a
// plain Go map are sorted since Go maps carry no order.
func FromValue(v any) (Template, error) {
	switch x := v.(type) {
	case string:
		return String(x), nil
	case []any:
		items := make([]Template, 0, len(x))
		for i, e := range x {
			it, err := FromValue(e)
			if err != nil {
				return Template{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, it)
		}
		return Seq(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(x))
		for _, k := range keys {
			it, err := FromValue(x[k])
			if err != nil {
				return Template{}, fmt.Errorf("%s: %w", k, err)
			}
			fields = append(fields, F(k, it))
		}
		return Map(fields...), nil
	case nil, bool, int, int64, float64:
		return Literal(x), nil
	default:
		return Template{}, fmt.Errorf("unsupported template value of type %T", v)
	}
}

// UnmarshalYAML decodes a string or a nested sequence/mapping from YAML,
// keeping mapping order as written.
func (t *Template) UnmarshalYAML(n *yaml.Node) error {
	out, err := fromNode(n)
	if err != nil {
		return err
	}
	*t = out
	return nil
}

func fromNode(n *yaml.Node) (Template, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return String(""), nil
		}
		return fromNode(n.Content[0])
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" {
			return String(n.Value), nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return Template{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Literal(v), nil
	case yaml.SequenceNode:
		items := make([]Template, 0, len(n.Content))
		for _, c := range n.Content {
			it, err := fromNode(c)
			if err != nil {
				return Template{}, err
			}
			items = append(items, it)
		}
		return Seq(items...), nil
	case yaml.MappingNode:
		fields := make([]Field, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode {
				return Template{}, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			it, err := fromNode(n.Content[i+1])
			if err != nil {
				return Template{}, err
			}
			fields = append(fields, F(key.Value, it))
		}
		return Map(fields...), nil
	default:
		return Template{}, fmt.Errorf("line %d: unsupported YAML node kind %d", n.Line, n.Kind)
	}
}
