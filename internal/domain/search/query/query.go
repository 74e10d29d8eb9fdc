// Package query models the search request threaded through query-type
// pipelines, including the query-DSL tree a stage must stay within.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/jsonmap"
)

// Pagination defaults.
const (
	DefaultSize = 10
	MaxSize     = 1000
)

// Request is a validated search request. The query tree is a discriminated
// structure over the DSL node kinds; stages must keep it well-formed.
type Request struct {
	query     map[string]any
	size      uint
	from      uint
	metadata  map[string]any
	metaOrder []string
}

// New validates the query tree and creates a request.
// size defaults to DefaultSize and is clamped to MaxSize.
func New(queryTree map[string]any, size, from uint) (*Request, error) {
	if err := Validate(queryTree); err != nil {
		return nil, err
	}
	if size == 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return &Request{query: queryTree, size: size, from: from}, nil
}

// Query returns the query-DSL tree.
func (r *Request) Query() map[string]any { return r.query }

// SetQuery replaces the query tree, rejecting malformed trees.
func (r *Request) SetQuery(queryTree map[string]any) error {
	if err := Validate(queryTree); err != nil {
		return err
	}
	r.query = queryTree
	return nil
}

// Size returns the caller-supplied page size.
func (r *Request) Size() uint { return r.size }

// From returns the caller-supplied page offset.
func (r *Request) From() uint { return r.from }

// SetPagination restores size/from. Only the executor calls this, to repair a
// stage that dropped the caller-supplied values.
func (r *Request) SetPagination(size, from uint) {
	r.size = size
	r.from = from
}

// SetStageMetadata records a stage's metadata contribution under its stage
// name, preserving first-insertion order.
func (r *Request) SetStageMetadata(stageName string, value any) {
	if r.metadata == nil {
		r.metadata = make(map[string]any)
	}
	if _, exists := r.metadata[stageName]; !exists {
		r.metaOrder = append(r.metaOrder, stageName)
	}
	r.metadata[stageName] = value
}

// Metadata returns per-stage metadata contributions.
func (r *Request) Metadata() map[string]any { return r.metadata }

// MetadataKeys returns metadata keys in insertion order.
func (r *Request) MetadataKeys() []string { return r.metaOrder }

// Clone deep-copies the request.
func (r *Request) Clone() *Request {
	return &Request{
		query:     jsonmap.Clone(r.query),
		size:      r.size,
		from:      r.from,
		metadata:  jsonmap.Clone(r.metadata),
		metaOrder: append([]string(nil), r.metaOrder...),
	}
}

type requestJSON struct {
	Query    map[string]any `json:"query"`
	Size     uint           `json:"size,omitempty"`
	From     uint           `json:"from,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON renders the engine wire shape.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		Query:    r.query,
		Size:     r.size,
		From:     r.from,
		Metadata: r.metadata,
	})
}

// UnmarshalJSON parses and validates the wire shape.
func (r *Request) UnmarshalJSON(data []byte) error {
	var wire requestJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	req, err := New(wire.Query, wire.Size, wire.From)
	if err != nil {
		return err
	}
	*r = *req
	r.metadata = wire.Metadata
	for k := range wire.Metadata {
		r.metaOrder = append(r.metaOrder, k)
	}
	return nil
}

// Validate checks that a query tree is well-formed: exactly one known node
// kind at every level, with clause shapes matching the DSL grammar.
func Validate(queryTree map[string]any) error {
	if len(queryTree) == 0 {
		return fmt.Errorf("%w: empty query", domain.ErrMalformedQuery)
	}
	if len(queryTree) > 1 {
		return fmt.Errorf("%w: query node must have exactly one kind, got %d", domain.ErrMalformedQuery, len(queryTree))
	}
	for kind, body := range queryTree {
		if err := validateNode(kind, body); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(kind string, body any) error {
	switch kind {
	case "match", "match_phrase":
		return validateFieldText(kind, body)
	case "multi_match":
		return validateMultiMatch(body)
	case "query_string":
		return validateQueryString(body)
	case "term", "terms", "range":
		return validateFieldClause(kind, body)
	case "bool":
		return validateBool(body)
	case "match_all":
		if _, ok := body.(map[string]any); !ok {
			return fmt.Errorf("%w: match_all body must be an object", domain.ErrMalformedQuery)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown query kind %q", domain.ErrMalformedQuery, kind)
	}
}

// validateFieldText checks {field: "text"} or {field: {"query": "text", ...}}.
func validateFieldText(kind string, body any) error {
	fields, ok := body.(map[string]any)
	if !ok || len(fields) == 0 {
		return fmt.Errorf("%w: %s body must map a field to its query", domain.ErrMalformedQuery, kind)
	}
	for field, clause := range fields {
		switch c := clause.(type) {
		case string:
			// short form
		case map[string]any:
			if _, ok := c["query"].(string); !ok {
				return fmt.Errorf("%w: %s.%s requires a string \"query\"", domain.ErrMalformedQuery, kind, field)
			}
		default:
			return fmt.Errorf("%w: %s.%s must be a string or an object", domain.ErrMalformedQuery, kind, field)
		}
	}
	return nil
}

func validateMultiMatch(body any) error {
	clause, ok := body.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: multi_match body must be an object", domain.ErrMalformedQuery)
	}
	if _, ok := clause["query"].(string); !ok {
		return fmt.Errorf("%w: multi_match requires a string \"query\"", domain.ErrMalformedQuery)
	}
	if fields, present := clause["fields"]; present {
		arr, ok := fields.([]any)
		if !ok {
			return fmt.Errorf("%w: multi_match \"fields\" must be an array", domain.ErrMalformedQuery)
		}
		for _, f := range arr {
			if _, ok := f.(string); !ok {
				return fmt.Errorf("%w: multi_match \"fields\" must contain strings", domain.ErrMalformedQuery)
			}
		}
	}
	return nil
}

func validateQueryString(body any) error {
	clause, ok := body.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: query_string body must be an object", domain.ErrMalformedQuery)
	}
	if _, ok := clause["query"].(string); !ok {
		return fmt.Errorf("%w: query_string requires a string \"query\"", domain.ErrMalformedQuery)
	}
	return nil
}

// validateFieldClause checks term/terms/range: {field: <clause>}.
func validateFieldClause(kind string, body any) error {
	fields, ok := body.(map[string]any)
	if !ok || len(fields) == 0 {
		return fmt.Errorf("%w: %s body must map a field to its clause", domain.ErrMalformedQuery, kind)
	}
	if kind == "terms" {
		for field, clause := range fields {
			if _, ok := clause.([]any); !ok {
				return fmt.Errorf("%w: terms.%s must be an array", domain.ErrMalformedQuery, field)
			}
		}
	}
	return nil
}

var boolClauses = []string{"must", "should", "must_not", "filter"}

func validateBool(body any) error {
	clause, ok := body.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: bool body must be an object", domain.ErrMalformedQuery)
	}
	for key, sub := range clause {
		if key == "minimum_should_match" || key == "boost" {
			continue
		}
		if !isBoolClause(key) {
			return fmt.Errorf("%w: unknown bool clause %q", domain.ErrMalformedQuery, key)
		}
		switch nodes := sub.(type) {
		case map[string]any:
			if err := Validate(nodes); err != nil {
				return err
			}
		case []any:
			for _, n := range nodes {
				node, ok := n.(map[string]any)
				if !ok {
					return fmt.Errorf("%w: bool.%s entries must be query objects", domain.ErrMalformedQuery, key)
				}
				if err := Validate(node); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: bool.%s must be a query object or array", domain.ErrMalformedQuery, key)
		}
	}
	return nil
}

func isBoolClause(key string) bool {
	for _, c := range boolClauses {
		if key == c {
			return true
		}
	}
	return false
}
