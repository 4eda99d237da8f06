// Package schema turns a resource type's declared configuration schema into
// an ordered list of typed field descriptors and a default value set. The
// classification happens once here; downstream code switches on Field.Kind
// and never re-reads raw schema shape.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stackform/portal/pkg/lifecycle"
)

// Kind tags a field with the input widget it needs.
type Kind int

const (
	// KindText is the fallback for string and untyped fields.
	KindText Kind = iota
	// KindEnum marks a field with an enumerated choice list. An enum list
	// takes precedence over the declared primitive type.
	KindEnum
	// KindBoolean marks a true/false field.
	KindBoolean
	// KindNumber marks an integer or number field, optionally bounded.
	KindNumber
)

// String returns the kind's display name.
func (k Kind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	default:
		return "text"
	}
}

// Field describes one configuration input in declaration order.
type Field struct {
	Key     string
	Title   string
	Kind    Kind
	Default any
	Choices []string
	Minimum *float64
	Maximum *float64
}

// HasDefault reports whether the schema declared a default for the field.
func (f Field) HasDefault() bool {
	return f.Default != nil
}

type fieldSchema struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Default json.RawMessage `json:"default"`
	Enum    []any           `json:"enum"`
	Minimum *float64        `json:"minimum"`
	Maximum *float64        `json:"maximum"`
}

// Normalize parses a configuration schema into ordered field descriptors.
// The input is either a JSON-Schema-style object carrying a "properties"
// member, or a bare mapping of field name to field schema. Declaration order
// of the mapping is preserved; form rendering depends on it.
func Normalize(raw []byte) ([]Field, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	pairs, err := orderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("parse configuration schema: %w", err)
	}
	for _, pair := range pairs {
		if pair.key != "properties" {
			continue
		}
		if pairs, err = orderedObject(pair.value); err != nil {
			return nil, fmt.Errorf("parse schema properties: %w", err)
		}
		return normalizeFields(pairs)
	}
	// No "properties" member: a schema envelope without fields declares
	// nothing, otherwise the object itself is the field mapping.
	for _, pair := range pairs {
		if pair.key == "type" || pair.key == "required" {
			return nil, nil
		}
	}
	return normalizeFields(pairs)
}

func normalizeFields(pairs []rawPair) ([]Field, error) {
	fields := make([]Field, 0, len(pairs))
	for _, pair := range pairs {
		var fs fieldSchema
		if err := json.Unmarshal(pair.value, &fs); err != nil {
			return nil, fmt.Errorf("parse schema field %q: %w", pair.key, err)
		}
		field := Field{
			Key:     pair.key,
			Title:   fs.Title,
			Minimum: fs.Minimum,
			Maximum: fs.Maximum,
		}
		if field.Title == "" {
			field.Title = pair.key
		}
		switch {
		case len(fs.Enum) > 0:
			field.Kind = KindEnum
			field.Choices = make([]string, 0, len(fs.Enum))
			for _, choice := range fs.Enum {
				if s, ok := choice.(string); ok {
					field.Choices = append(field.Choices, s)
					continue
				}
				field.Choices = append(field.Choices, fmt.Sprint(choice))
			}
		case fs.Type == "integer" || fs.Type == "number":
			field.Kind = KindNumber
		case fs.Type == "boolean":
			field.Kind = KindBoolean
		default:
			field.Kind = KindText
		}
		if def, err := decodeValue(fs.Default); err != nil {
			return nil, fmt.Errorf("parse default for field %q: %w", pair.key, err)
		} else if def != nil {
			field.Default = def
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// Defaults builds the default configuration mapping: every field with a
// declared default is pre-populated, fields without one are absent.
func Defaults(fields []Field) map[string]any {
	config := make(map[string]any, len(fields))
	for _, field := range fields {
		if field.HasDefault() {
			config[field.Key] = field.Default
		}
	}
	return config
}

// Merge overlays user overrides on the default mapping, validating each
// override against its field descriptor. Unknown keys and values that do not
// fit the field's kind fail with a validation error and no partial result.
func Merge(fields []Field, overrides map[string]any) (map[string]any, error) {
	byKey := make(map[string]Field, len(fields))
	for _, field := range fields {
		byKey[field.Key] = field
	}
	for key, value := range overrides {
		field, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not part of the configuration schema", lifecycle.ErrValidation, key)
		}
		if err := validateValue(field, value); err != nil {
			return nil, err
		}
	}
	config := Defaults(fields)
	for key, value := range overrides {
		config[key] = value
	}
	return config, nil
}

func validateValue(field Field, value any) error {
	switch field.Kind {
	case KindEnum:
		text := fmt.Sprint(value)
		for _, choice := range field.Choices {
			if text == choice {
				return nil
			}
		}
		return fmt.Errorf("%w: field %q must be one of %s", lifecycle.ErrValidation, field.Key, strings.Join(field.Choices, ", "))
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: field %q must be a boolean", lifecycle.ErrValidation, field.Key)
		}
	case KindNumber:
		number, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("%w: field %q must be a number", lifecycle.ErrValidation, field.Key)
		}
		if field.Minimum != nil && number < *field.Minimum {
			return fmt.Errorf("%w: field %q must be at least %g", lifecycle.ErrValidation, field.Key, *field.Minimum)
		}
		if field.Maximum != nil && number > *field.Maximum {
			return fmt.Errorf("%w: field %q must be at most %g", lifecycle.ErrValidation, field.Key, *field.Maximum)
		}
	case KindText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: field %q must be a string", lifecycle.ErrValidation, field.Key)
		}
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

type rawPair struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object into key/value pairs preserving
// declaration order, which encoding/json's map decoding would discard.
func orderedObject(raw []byte) ([]rawPair, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var pairs []rawPair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		pairs = append(pairs, rawPair{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// decodeValue parses a raw default into a string, bool, int64 or float64.
// Absent and null defaults both decode to nil.
func decodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if number, ok := value.(json.Number); ok {
		if i, err := number.Int64(); err == nil {
			return i, nil
		}
		return number.Float64()
	}
	return value, nil
}
