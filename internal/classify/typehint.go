package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword maps a substring of the message to an event type
type Keyword struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

// TypeHint is either a fixed event type or an ordered keyword map. The zero
// value is unset and lets the pipeline derive a default.
type TypeHint struct {
	fixed    string
	keywords []Keyword
}

// Fixed returns a hint that always resolves to typ
func Fixed(typ string) TypeHint {
	return TypeHint{fixed: typ}
}

// Keywords returns a hint resolved against the message text, first key contained wins
func Keywords(pairs ...Keyword) TypeHint {
	return TypeHint{keywords: pairs}
}

// IsZero reports whether the hint carries nothing
func (h TypeHint) IsZero() bool {
	return h.fixed == "" && len(h.keywords) == 0
}

// IsKeywordMap reports whether the hint is keyword based
func (h TypeHint) IsKeywordMap() bool {
	return len(h.keywords) > 0
}

// Resolve returns the concrete type for text, or "" when nothing applies
func (h TypeHint) Resolve(text string) string {
	if !h.IsKeywordMap() {
		return h.fixed
	}
	for _, kw := range h.keywords {
		if strings.Contains(text, kw.Key) {
			return kw.Type
		}
	}
	return ""
}

// Or returns h unless it is unset, in which case fallback
func (h TypeHint) Or(fallback string) TypeHint {
	if h.IsZero() {
		return Fixed(fallback)
	}
	return h
}

// UnmarshalYAML accepts a scalar type or a mapping of keyword to type,
// keeping the mapping's document order.
func (h *TypeHint) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*h = Fixed(node.Value)
		return nil
	case yaml.MappingNode:
		pairs := make([]Keyword, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if key.Value == "" {
				return fmt.Errorf("type keyword must not be empty, line %d", key.Line)
			}
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("type keyword %q: value must be a string", key.Value)
			}
			pairs = append(pairs, Keyword{Key: key.Value, Type: value.Value})
		}
		*h = Keywords(pairs...)
		return nil
	default:
		return fmt.Errorf("type must be a string or a keyword map, line %d", node.Line)
	}
}

// MarshalJSON renders a fixed hint as a string and a keyword hint as an ordered list
func (h TypeHint) MarshalJSON() ([]byte, error) {
	if h.IsKeywordMap() {
		return json.Marshal(h.keywords)
	}
	if h.fixed == "" {
		return []byte("null"), nil
	}
	return json.Marshal(h.fixed)
}
