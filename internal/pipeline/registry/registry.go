// Package registry stores validated stage and pipeline definitions and
// resolves pipelines into immutable, runnable form.
//
// The store is read-mostly: registrations serialize on a write lock and
// publish complete definitions only, so a concurrent reader never observes a
// partially registered pipeline.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

// DefaultStageTimeout bounds a stage invocation when neither the stage
// reference nor the registry configures one.
const DefaultStageTimeout = 500 * time.Millisecond

const defaultResolvedCacheSize = 128

type key struct {
	name    string
	version string
}

func (k key) String() string { return k.name + "@" + k.version }

// Registry maps (name, version) to stage specs and pipeline definitions.
type Registry struct {
	mu        sync.RWMutex
	stages    map[key]*stage.Spec
	pipelines map[key]*PipelineDefinition

	resolved *lru.Cache[key, *Resolved]

	stageTimeout time.Duration
	logger       *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultStageTimeout overrides the fallback per-stage timeout.
func WithDefaultStageTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.stageTimeout = d
		}
	}
}

// WithResolvedCacheSize sizes the resolved-pipeline cache.
func WithResolvedCacheSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			cache, err := lru.New[key, *Resolved](n)
			if err == nil {
				r.resolved = cache
			}
		}
	}
}

// New creates an empty registry.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[key, *Resolved](defaultResolvedCacheSize)
	r := &Registry{
		stages:       make(map[key]*stage.Spec),
		pipelines:    make(map[key]*PipelineDefinition),
		resolved:     cache,
		stageTimeout: DefaultStageTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterStage stores a stage spec. Re-registration under an existing
// (name, version) fails with ErrDuplicateVersion; the first registration is
// never replaced.
func (r *Registry) RegisterStage(spec stage.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{spec.Name, spec.Version}
	if _, exists := r.stages[k]; exists {
		return fmt.Errorf("%w: stage %s", domain.ErrDuplicateVersion, k)
	}
	r.stages[k] = &spec

	r.logger.Info("stage registered",
		zap.String("stage", spec.Name),
		zap.String("version", spec.Version),
		zap.String("kind", string(spec.Kind)))
	return nil
}

// StageSpec returns a registered stage spec.
func (r *Registry) StageSpec(name, version string) (*stage.Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.stages[key{name, version}]
	if !ok {
		return nil, fmt.Errorf("%w: stage %s@%s", domain.ErrNotFound, name, version)
	}
	return spec, nil
}

// ListStages returns all registered stage specs, sorted by name then version.
func (r *Registry) ListStages() []*stage.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*stage.Spec, 0, len(r.stages))
	for _, spec := range r.stages {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// RegisterPipeline validates and stores a pipeline definition. All stage
// references are resolved, kind-checked against the pipeline type, their
// configs validated against the declared schemas, and metadata keys checked
// for collisions. All-or-nothing: a failed registration leaves the registry
// unchanged.
func (r *Registry) RegisterPipeline(def *PipelineDefinition) error {
	if err := def.validateShape(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{def.Name, def.Version}
	if _, exists := r.pipelines[k]; exists {
		return fmt.Errorf("%w: pipeline %s", domain.ErrDuplicateVersion, k)
	}

	// Dry-build every stage so definition errors surface here, never at run
	// time.
	if _, err := r.buildLocked(def); err != nil {
		return err
	}

	stored := def.clone()
	stored.Created = time.Now()
	r.pipelines[k] = stored

	r.logger.Info("pipeline registered",
		zap.String("pipeline", def.Name),
		zap.String("version", def.Version),
		zap.String("type", string(def.Type)),
		zap.Int("stages", len(def.Stages)))
	return nil
}

// Resolve returns the runnable form of a registered pipeline. Resolution is
// pure: the result is immutable, cached, and safe for concurrent runs.
func (r *Registry) Resolve(name, version string) (*Resolved, error) {
	k := key{name, version}
	if res, ok := r.resolved.Get(k); ok {
		return res, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.pipelines[k]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s", domain.ErrNotFound, k)
	}

	res, err := r.buildLocked(def)
	if err != nil {
		// Registration already validated the definition; a build failure here
		// means a stage constructor is not deterministic.
		return nil, fmt.Errorf("resolve pipeline %s: %w", k, err)
	}
	r.resolved.Add(k, res)
	return res, nil
}

// Pipeline returns a copy of a registered definition.
func (r *Registry) Pipeline(name, version string) (*PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.pipelines[key{name, version}]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s@%s", domain.ErrNotFound, name, version)
	}
	return def.clone(), nil
}

// ListPipelines returns copies of all definitions, sorted by name then
// version.
func (r *Registry) ListPipelines() []*PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*PipelineDefinition, 0, len(r.pipelines))
	for _, def := range r.pipelines {
		out = append(out, def.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// DeletePipeline removes a definition and invalidates its resolved form.
// In-flight runs keep the Resolved they already hold.
func (r *Registry) DeletePipeline(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{name, version}
	if _, exists := r.pipelines[k]; !exists {
		return fmt.Errorf("%w: pipeline %s", domain.ErrNotFound, k)
	}
	delete(r.pipelines, k)
	r.resolved.Remove(k)

	r.logger.Info("pipeline deleted",
		zap.String("pipeline", name),
		zap.String("version", version))
	return nil
}

func checkRunnerKind(runner stage.Runner, kind stage.Kind) error {
	var ok bool
	switch kind {
	case stage.KindQuery:
		_, ok = runner.(stage.QueryRunner)
	case stage.KindResult:
		_, ok = runner.(stage.ResultRunner)
	case stage.KindFilter:
		_, ok = runner.(stage.FilterRunner)
	}
	if !ok {
		return fmt.Errorf("%w: runner does not implement the %s contract",
			domain.ErrKindMismatch, kind)
	}
	return nil
}

// buildLocked assembles a Resolved from a definition. Callers hold at least
// the read lock.
func (r *Registry) buildLocked(def *PipelineDefinition) (*Resolved, error) {
	policy := def.OnFailure
	if policy == "" {
		policy = DefaultPolicy(def.Type)
	}

	res := &Resolved{
		Name:        def.Name,
		Version:     def.Version,
		Type:        def.Type,
		Description: def.Description,
		Policy:      policy,
		ExactTotal:  def.ExactTotal,
		Stages:      make([]ResolvedStage, 0, len(def.Stages)),
	}

	claimed := make(map[string]string) // metadata key -> claiming stage
	for i, ref := range def.Stages {
		spec, ok := r.stages[key{ref.Name, ref.Version}]
		if !ok {
			return nil, fmt.Errorf("%w: stages[%d] references %s@%s",
				domain.ErrUnknownStage, i, ref.Name, ref.Version)
		}
		if !def.Type.Accepts(spec.Kind) {
			return nil, fmt.Errorf("%w: stages[%d] %s is %s-kind, not allowed in a %s pipeline",
				domain.ErrKindMismatch, i, ref.Name, spec.Kind, def.Type)
		}

		for _, mk := range append([]string{ref.Name}, spec.MetadataKeys...) {
			if owner, taken := claimed[mk]; taken {
				return nil, fmt.Errorf("%w: stages %q and %q both write metadata key %q",
					domain.ErrMetadataKeyCollision, owner, ref.Name, mk)
			}
			claimed[mk] = ref.Name
		}

		cfg, err := stage.NewConfig(spec.Params, ref.Config)
		if err != nil {
			return nil, fmt.Errorf("stages[%d] %s: %w", i, ref.Name, err)
		}
		runner, err := spec.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("stages[%d] %s: build: %w", i, ref.Name, err)
		}
		if err := checkRunnerKind(runner, spec.Kind); err != nil {
			return nil, fmt.Errorf("stages[%d] %s: %w", i, ref.Name, err)
		}

		timeout := r.stageTimeout
		if ref.TimeoutMillis > 0 {
			timeout = time.Duration(ref.TimeoutMillis) * time.Millisecond
		}

		res.Stages = append(res.Stages, ResolvedStage{
			Name:    ref.Name,
			Version: ref.Version,
			Kind:    spec.Kind,
			Config:  cfg,
			Runner:  runner,
			Timeout: timeout,
		})
	}

	return res, nil
}
