// Package capability implements the host surface a stage may touch: field
// reads on the current document, parameter reads, identity/score reads, and a
// diagnostic log sink. Nothing else.
//
// Every accessor is total: absent or mismatched values yield the type's zero
// value, never an error. A stage that wants strict validation must check the
// returned zero values itself.
package capability

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain/search/hit"
)

// Set is the capability object bound to exactly one execution context. It is
// constructed by the executor per stage invocation (per document for filter
// stages), handed to the stage by ownership, and revoked when the invocation
// returns. A retained Set answers only zero values after Close.
type Set struct {
	doc    *hit.Hit
	params map[string]any
	logger *zap.Logger
	closed atomic.Bool
}

// NewForQuery binds capabilities for a query-context invocation. There is no
// document under evaluation: DocumentID and Score answer zero values.
func NewForQuery(params map[string]any, logger *zap.Logger) *Set {
	return newSet(nil, params, logger)
}

// NewForDocument binds capabilities to a single document hit.
func NewForDocument(doc *hit.Hit, params map[string]any, logger *zap.Logger) *Set {
	return newSet(doc, params, logger)
}

func newSet(doc *hit.Hit, params map[string]any, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{doc: doc, params: params, logger: logger}
}

// Close revokes the set. Idempotent.
func (s *Set) Close() { s.closed.Store(true) }

// Closed reports whether the set has been revoked.
func (s *Set) Closed() bool { return s.closed.Load() }

// FieldString reads a string field from the current document source.
func (s *Set) FieldString(name string) string {
	v, ok := s.field(name)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// FieldInt64 reads an integer field from the current document source.
func (s *Set) FieldInt64(name string) int64 {
	v, ok := s.field(name)
	if !ok {
		return 0
	}
	return toInt64(v)
}

// FieldFloat64 reads a float field from the current document source.
func (s *Set) FieldFloat64(name string) float64 {
	v, ok := s.field(name)
	if !ok {
		return 0
	}
	return toFloat64(v)
}

// FieldBool reads a boolean field from the current document source.
func (s *Set) FieldBool(name string) bool {
	v, ok := s.field(name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// HasField reports whether the field exists on the current document.
func (s *Set) HasField(name string) bool {
	_, ok := s.field(name)
	return ok
}

func (s *Set) field(name string) (any, bool) {
	if s.closed.Load() || s.doc == nil {
		return nil, false
	}
	return s.doc.Field(name)
}

// ParamString reads a string parameter from the stage config merged with
// per-request overrides.
func (s *Set) ParamString(name string) string {
	v, _ := s.param(name).(string)
	return v
}

// ParamInt64 reads an integer parameter.
func (s *Set) ParamInt64(name string) int64 {
	return toInt64(s.param(name))
}

// ParamFloat64 reads a float parameter.
func (s *Set) ParamFloat64(name string) float64 {
	return toFloat64(s.param(name))
}

// ParamBool reads a boolean parameter.
func (s *Set) ParamBool(name string) bool {
	v, _ := s.param(name).(bool)
	return v
}

func (s *Set) param(name string) any {
	if s.closed.Load() {
		return nil
	}
	return s.params[name]
}

// DocumentID returns the id of the document under evaluation, or "" in a
// query context. Defined zero value, not an error, to keep the surface total.
func (s *Set) DocumentID() string {
	if s.closed.Load() || s.doc == nil {
		return ""
	}
	return s.doc.ID()
}

// Score returns the current score of the document under evaluation, or 0 in
// a query context.
func (s *Set) Score() float64 {
	if s.closed.Load() || s.doc == nil {
		return 0
	}
	return s.doc.Score()
}

// Log writes a best-effort diagnostic line. Never blocks the stage and never
// fails.
func (s *Set) Log(message string) {
	if s.closed.Load() {
		return
	}
	s.logger.Info("stage log", zap.String("message", message))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
