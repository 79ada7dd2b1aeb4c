package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// FieldType is the value type of a schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
)

// Field describes one user-editable option.
type Field struct {
	Key     string
	Type    FieldType
	Default any // string, int or bool matching Type
	Label   string
	// Directive marks options forwarded to the scheduler as resource directives.
	Directive bool
	// Range bounds an int field. Nil means any 32-bit value.
	Range *IntRange
}

// IntRange is an inclusive bound on an int field.
type IntRange struct {
	Min, Max int
}

// Schema is the ordered option list of a backend variant.
type Schema struct {
	Backend string
	Fields  []Field
}

// Field looks up a field by key.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// MarshalJSON encodes the schema as the ordered document the client add-on
// expects: {"backend": name, key: {"type", "default", "label"}, ...}.
// Defaults are sent as strings; booleans as "1" or "0".
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	name, _ := json.Marshal(s.Backend)
	buf.WriteString(`"backend":`)
	buf.Write(name)

	for _, f := range s.Fields {
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(struct {
			Type    FieldType `json:"type"`
			Default string    `json:"default"`
			Label   string    `json:"label"`
		}{f.Type, formatDefault(f.Default), f.Label})
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func formatDefault(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

// Keys the client add-on sends alongside schema values; accepted and dropped.
var reservedKeys = map[string]struct{}{
	"backend":      {},
	"blender_file": {},
}

// RenderConfig holds the mutable option values of a backend, initialised from
// schema defaults. Safe for concurrent use.
type RenderConfig struct {
	schema Schema

	mu     sync.RWMutex
	values map[string]any
}

// NewRenderConfig returns a config populated with the schema defaults.
func NewRenderConfig(schema Schema) *RenderConfig {
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		values[f.Key] = f.Default
	}
	return &RenderConfig{schema: schema, values: values}
}

// Schema returns the schema the config validates against.
func (c *RenderConfig) Schema() Schema { return c.schema }

// Merge shallow-merges values into the config. The whole document is
// validated first; on any error nothing is applied.
func (c *RenderConfig) Merge(values map[string]any) error {
	coerced := make(map[string]any, len(values))
	for key, raw := range values {
		if _, ok := reservedKeys[key]; ok {
			continue
		}
		field, ok := c.schema.Field(key)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		v, err := coerce(field, raw)
		if err != nil {
			return err
		}
		coerced[key] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range coerced {
		c.values[k] = v
	}
	return nil
}

func coerce(f Field, raw any) (any, error) {
	switch f.Type {
	case TypeString:
		if str, ok := raw.(string); ok {
			if i := strings.IndexFunc(str, unicode.IsControl); i >= 0 {
				return nil, fmt.Errorf("%w: %q contains control character %q", ErrInvalidValue, f.Key, str[i])
			}
			return str, nil
		}
	case TypeInt:
		n, ok := toInt64(raw)
		if !ok {
			break
		}
		bounds := IntRange{Min: math.MinInt32, Max: math.MaxInt32}
		if f.Range != nil {
			bounds = *f.Range
		}
		if n < int64(bounds.Min) || n > int64(bounds.Max) {
			return nil, fmt.Errorf("%w: %q must be within %d..%d (got %d)", ErrInvalidValue, f.Key, bounds.Min, bounds.Max, n)
		}
		return int(n), nil
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q must be %s (got %T)", ErrInvalidValue, f.Key, f.Type, raw)
}

// toInt64 converts an integral JSON number. Floats are clamped just outside the
// 32-bit range so the caller's bound check rejects them.
func toInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		// Clamp before converting: out-of-range float to int conversion is implementation defined.
		return int64(math.Max(math.MinInt32-1, math.Min(math.MaxInt32+1, n))), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return toInt64(f)
		}
	}
	return 0, false
}

// String returns the value of key rendered as text.
func (c *RenderConfig) String(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch v := c.values[key].(type) {
	case bool:
		return strconv.FormatBool(v)
	default:
		return formatDefault(v)
	}
}

// Int returns the integer value of key, or 0 when unset or not an int.
func (c *RenderConfig) Int(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, _ := c.values[key].(int)
	return n
}

// Bool returns the boolean value of key.
func (c *RenderConfig) Bool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, _ := c.values[key].(bool)
	return b
}

// Directives returns the scheduler directive options in schema order.
func (c *RenderConfig) Directives() []KV {
	out := make([]KV, 0, len(c.schema.Fields))
	for _, f := range c.schema.Fields {
		if f.Directive {
			out = append(out, KV{Key: f.Key, Value: c.String(f.Key)})
		}
	}
	return out
}

// KV is one rendered option.
type KV struct {
	Key   string
	Value string
}
