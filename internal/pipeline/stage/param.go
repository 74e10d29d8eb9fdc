package stage

import (
	"fmt"
	"math"

	"github.com/model-collapse/quidditch/internal/domain"
)

// ParamType is the declared type of a stage option.
type ParamType string

const (
	// ParamString declares a string-valued option.
	ParamString ParamType = "string"
	// ParamInt declares an integer-valued option.
	ParamInt ParamType = "int"
	// ParamFloat declares a float-valued option.
	ParamFloat ParamType = "float"
	// ParamBool declares a boolean-valued option.
	ParamBool ParamType = "bool"
)

// Param declares one stage option: name, type, and default. Duck-typed config
// maps are validated against these declarations at registration time, so a
// type mismatch surfaces when the pipeline is defined, not mid-run.
type Param struct {
	Name    string
	Type    ParamType
	Default any
}

func (p Param) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: parameter name is required", domain.ErrInvalidDefinition)
	}
	switch p.Type {
	case ParamString, ParamInt, ParamFloat, ParamBool:
	default:
		return fmt.Errorf("%w: parameter %q has unknown type %q", domain.ErrInvalidDefinition, p.Name, p.Type)
	}
	if p.Default != nil {
		if _, err := coerce(p.Type, p.Default); err != nil {
			return fmt.Errorf("parameter %q default: %w", p.Name, err)
		}
	}
	return nil
}

// Config is the typed, defaulted view of a stage's merged configuration.
type Config struct {
	values map[string]any
}

// NewConfig validates supplied values against the declared schema and fills
// defaults. Unknown keys and type mismatches are definition errors.
func NewConfig(params []Param, supplied map[string]any) (Config, error) {
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	values := make(map[string]any, len(params))
	for name, raw := range supplied {
		p, ok := declared[name]
		if !ok {
			return Config{}, fmt.Errorf("%w: undeclared option %q", domain.ErrInvalidDefinition, name)
		}
		v, err := coerce(p.Type, raw)
		if err != nil {
			return Config{}, fmt.Errorf("option %q: %w", name, err)
		}
		values[name] = v
	}
	for _, p := range params {
		if _, set := values[p.Name]; !set && p.Default != nil {
			v, _ := coerce(p.Type, p.Default)
			values[p.Name] = v
		}
	}

	return Config{values: values}, nil
}

// Values returns the resolved option map. The capability layer merges it with
// per-request overrides.
func (c Config) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// String returns a string option, or "" when unset.
func (c Config) String(name string) string {
	v, _ := c.values[name].(string)
	return v
}

// Int returns an integer option, or 0 when unset.
func (c Config) Int(name string) int64 {
	v, _ := c.values[name].(int64)
	return v
}

// Float returns a float option, or 0 when unset.
func (c Config) Float(name string) float64 {
	v, _ := c.values[name].(float64)
	return v
}

// Bool returns a boolean option, or false when unset.
func (c Config) Bool(name string) bool {
	v, _ := c.values[name].(bool)
	return v
}

// coerce converts a JSON-decoded value to the declared type. JSON numbers
// arrive as float64, so integral floats are accepted for int options.
func coerce(t ParamType, raw any) (any, error) {
	switch t {
	case ParamString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case ParamInt:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		}
	case ParamFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case ParamBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: expected %s, got %T", domain.ErrKindMismatch, t, raw)
}
