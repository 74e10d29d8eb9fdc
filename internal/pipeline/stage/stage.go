// Package stage defines the stage model: kinds, the declared parameter
// schema, and the contracts a stage implementation fulfils.
package stage

import (
	"context"
	"fmt"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
)

// Kind says what a stage operates on.
type Kind string

const (
	// KindQuery rewrites the outgoing search request.
	KindQuery Kind = "query"
	// KindResult rewrites or re-ranks the whole result envelope.
	KindResult Kind = "result"
	// KindFilter admits or rejects a single document hit.
	KindFilter Kind = "filter"
)

// IsValid reports whether the kind is one of the three variants.
func (k Kind) IsValid() bool {
	return k == KindQuery || k == KindResult || k == KindFilter
}

// PipelineType says when a pipeline executes.
type PipelineType string

const (
	// TypeQuery executes before search (request pre-processing).
	TypeQuery PipelineType = "query"
	// TypeResult executes after search (result post-processing).
	TypeResult PipelineType = "result"
)

// IsValid reports whether the pipeline type is known.
func (t PipelineType) IsValid() bool {
	return t == TypeQuery || t == TypeResult
}

// Accepts reports whether a stage kind may appear in a pipeline of this type.
// Query pipelines take query stages only; result pipelines take result and
// filter stages.
func (t PipelineType) Accepts(k Kind) bool {
	switch t {
	case TypeQuery:
		return k == KindQuery
	case TypeResult:
		return k == KindResult || k == KindFilter
	default:
		return false
	}
}

// QueryRunner is the invocation contract for query-kind stages.
// The returned value is the transformed request; meta (if non-nil) is the
// stage's metadata contribution, merged by the executor under the stage name.
type QueryRunner interface {
	TransformQuery(ctx context.Context, caps *capability.Set, req *query.Request) (*query.Request, any, error)
}

// ResultRunner is the invocation contract for result-kind stages.
type ResultRunner interface {
	TransformResult(ctx context.Context, caps *capability.Set, env *envelope.Envelope) (*envelope.Envelope, any, error)
}

// FilterRunner is the invocation contract for filter-kind stages. The hit
// under evaluation is reachable only through the capability set.
type FilterRunner interface {
	Admit(ctx context.Context, caps *capability.Set) (bool, error)
}

// Runner is one of QueryRunner, ResultRunner, or FilterRunner, matching the
// spec's Kind.
type Runner any

// BuildFunc assembles a runner from a validated config. Called once per
// pipeline resolution; the runner must be safe for concurrent runs.
type BuildFunc func(cfg Config) (Runner, error)

// Spec is the compiled stage artifact held by the registry: the stage's
// identity, kind, declared parameter schema, and constructor. Immutable once
// registered under (name, version).
type Spec struct {
	Name    string
	Version string
	Kind    Kind
	Params  []Param
	// MetadataKeys are extra top-level metadata keys the stage writes beyond
	// its own stage name. Declared so the registry can reject collisions at
	// definition time.
	MetadataKeys []string
	Build        BuildFunc
}

// Validate checks the spec is structurally sound.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: stage name is required", domain.ErrInvalidDefinition)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: stage %q version is required", domain.ErrInvalidDefinition, s.Name)
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: stage %q kind %q", domain.ErrInvalidKind, s.Name, s.Kind)
	}
	if s.Build == nil {
		return fmt.Errorf("%w: stage %q has no build function", domain.ErrInvalidDefinition, s.Name)
	}
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if err := p.validate(); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: stage %q declares parameter %q twice", domain.ErrInvalidDefinition, s.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
