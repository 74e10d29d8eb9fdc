package stage

import (
	"errors"
	"testing"

	"github.com/model-collapse/quidditch/internal/domain"
)

func declaredParams() []Param {
	return []Param{
		{Name: "field", Type: ParamString, Default: "title"},
		{Name: "threshold", Type: ParamInt, Default: int64(2)},
		{Name: "weight", Type: ParamFloat},
		{Name: "enabled", Type: ParamBool, Default: true},
	}
}

func TestNewConfig_FillsDefaults(t *testing.T) {
	cfg, err := NewConfig(declaredParams(), nil)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.String("field") != "title" {
		t.Errorf("field default: %q", cfg.String("field"))
	}
	if cfg.Int("threshold") != 2 {
		t.Errorf("threshold default: %d", cfg.Int("threshold"))
	}
	if !cfg.Bool("enabled") {
		t.Error("enabled default lost")
	}
	if cfg.Float("weight") != 0 {
		t.Errorf("unset option must read zero, got %v", cfg.Float("weight"))
	}
}

func TestNewConfig_SuppliedOverridesDefault(t *testing.T) {
	cfg, err := NewConfig(declaredParams(), map[string]any{
		"field":     "description",
		"threshold": 5.0, // JSON numbers decode as float64
		"weight":    3,
	})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.String("field") != "description" {
		t.Errorf("override lost: %q", cfg.String("field"))
	}
	if cfg.Int("threshold") != 5 {
		t.Errorf("integral float must coerce to int, got %d", cfg.Int("threshold"))
	}
	if cfg.Float("weight") != 3.0 {
		t.Errorf("int must coerce to float, got %v", cfg.Float("weight"))
	}
}

func TestNewConfig_RejectsUndeclared(t *testing.T) {
	_, err := NewConfig(declaredParams(), map[string]any{"mystery": 1})
	if err == nil {
		t.Fatal("expected error for undeclared option")
	}
	if !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Errorf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestNewConfig_RejectsTypeMismatch(t *testing.T) {
	cases := map[string]any{
		"field":     7,
		"threshold": 2.5,
		"enabled":   "yes",
	}
	for name, value := range cases {
		_, err := NewConfig(declaredParams(), map[string]any{name: value})
		if err == nil {
			t.Errorf("option %q with %T: expected error", name, value)
			continue
		}
		if !errors.Is(err, domain.ErrKindMismatch) {
			t.Errorf("option %q: expected ErrKindMismatch, got %v", name, err)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	build := func(Config) (Runner, error) { return nil, nil }

	valid := Spec{Name: "s", Version: "1.0.0", Kind: KindQuery, Build: build}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	cases := []struct {
		name     string
		spec     Spec
		sentinel error
	}{
		{"no_name", Spec{Version: "1", Kind: KindQuery, Build: build}, domain.ErrInvalidDefinition},
		{"no_version", Spec{Name: "s", Kind: KindQuery, Build: build}, domain.ErrInvalidDefinition},
		{"bad_kind", Spec{Name: "s", Version: "1", Kind: "weird", Build: build}, domain.ErrInvalidKind},
		{"no_build", Spec{Name: "s", Version: "1", Kind: KindQuery}, domain.ErrInvalidDefinition},
		{"dup_param", Spec{Name: "s", Version: "1", Kind: KindQuery, Build: build,
			Params: []Param{
				{Name: "x", Type: ParamInt},
				{Name: "x", Type: ParamInt},
			}}, domain.ErrInvalidDefinition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("expected %v, got %v", tc.sentinel, err)
			}
		})
	}
}

func TestPipelineTypeAccepts(t *testing.T) {
	if !TypeQuery.Accepts(KindQuery) || TypeQuery.Accepts(KindResult) || TypeQuery.Accepts(KindFilter) {
		t.Error("query pipelines accept query stages only")
	}
	if !TypeResult.Accepts(KindResult) || !TypeResult.Accepts(KindFilter) || TypeResult.Accepts(KindQuery) {
		t.Error("result pipelines accept result and filter stages")
	}
}
