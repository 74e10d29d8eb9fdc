// Package domain holds the sentinel errors shared across the engine.
package domain

import "errors"

// Definition errors. Surfaced synchronously at registration time, never
// deferred to a pipeline run.
var (
	// ErrDuplicateVersion signals a stage or pipeline registered twice under
	// the same (name, version).
	ErrDuplicateVersion = errors.New("duplicate version")
	// ErrInvalidKind signals a stage kind outside query/result/filter.
	ErrInvalidKind = errors.New("invalid stage kind")
	// ErrUnknownStage signals a pipeline referencing an unregistered stage.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrKindMismatch signals a stage kind incompatible with the pipeline type,
	// or a stage config value incompatible with its declared parameter type.
	ErrKindMismatch = errors.New("kind mismatch")
	// ErrMetadataKeyCollision signals two stages claiming the same metadata key.
	ErrMetadataKeyCollision = errors.New("metadata key collision")
	// ErrInvalidDefinition signals a structurally invalid definition.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrNotFound signals a missing pipeline or stage at resolution time.
	ErrNotFound = errors.New("not found")

	// ErrMalformedQuery signals a query tree that violates the DSL grammar.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrEngineUnavailable signals a failed call to the search engine.
	ErrEngineUnavailable = errors.New("search engine unavailable")
)
