// Package hit models a single document hit produced by the search engine and
// mutated by result/filter stages.
package hit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/model-collapse/quidditch/internal/domain/search/jsonmap"
)

// AnnotationPrefix marks stage-added explanatory fields so they can never
// collide with engine-supplied source fields.
const AnnotationPrefix = "_"

// Hit is a single search hit. Identity is immutable; score and annotations
// are stage-mutable.
type Hit struct {
	id          string
	score       float64
	source      map[string]any
	annotations map[string]any
}

// New creates a hit from engine output.
func New(id string, score float64, source map[string]any) *Hit {
	return &Hit{id: id, score: score, source: source}
}

// ID returns the document identifier. Never rewritten by a stage.
func (h *Hit) ID() string { return h.id }

// Score returns the current relevance score.
func (h *Hit) Score() float64 { return h.score }

// SetScore updates the relevance score.
func (h *Hit) SetScore(s float64) { h.score = s }

// Source returns the raw document fields.
func (h *Hit) Source() map[string]any { return h.source }

// Field resolves a dot-path field from the document source.
func (h *Hit) Field(path string) (any, bool) {
	return jsonmap.Lookup(h.source, path)
}

// Annotate attaches an explanatory field to the hit. Keys are forced to the
// underscore prefix so stage output stays outside the source namespace.
func (h *Hit) Annotate(key string, value any) {
	if !strings.HasPrefix(key, AnnotationPrefix) {
		key = AnnotationPrefix + key
	}
	if h.annotations == nil {
		h.annotations = make(map[string]any)
	}
	h.annotations[key] = value
}

// Annotation returns a previously attached explanatory field.
func (h *Hit) Annotation(key string) (any, bool) {
	if !strings.HasPrefix(key, AnnotationPrefix) {
		key = AnnotationPrefix + key
	}
	v, ok := h.annotations[key]
	return v, ok
}

// Annotations returns all stage-added fields.
func (h *Hit) Annotations() map[string]any { return h.annotations }

// Clone deep-copies the hit, including source and annotations.
func (h *Hit) Clone() *Hit {
	return &Hit{
		id:          h.id,
		score:       h.score,
		source:      jsonmap.Clone(h.source),
		annotations: jsonmap.Clone(h.annotations),
	}
}

// MarshalJSON flattens annotations next to id/score/source, matching the wire
// shape hits arrive in ("_original_score" and friends live at hit top level).
func (h *Hit) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, 3+len(h.annotations))
	obj["id"] = h.id
	obj["score"] = h.score
	obj["source"] = h.source
	for k, v := range h.annotations {
		obj[k] = v
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts the flattened wire shape. Unknown underscore-prefixed
// keys become annotations; everything else outside id/score/source is ignored.
func (h *Hit) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unmarshal hit: %w", err)
	}

	if id, ok := obj["id"].(string); ok {
		h.id = id
	}
	if score, ok := obj["score"].(float64); ok {
		h.score = score
	}
	if source, ok := obj["source"].(map[string]any); ok {
		h.source = source
	}
	for k, v := range obj {
		if strings.HasPrefix(k, AnnotationPrefix) {
			if h.annotations == nil {
				h.annotations = make(map[string]any)
			}
			h.annotations[k] = v
		}
	}
	return nil
}
