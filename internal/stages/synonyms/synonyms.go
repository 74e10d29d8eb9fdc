// Package synonyms provides a query-kind stage that widens free-text terms
// into OR groups of their known synonyms.
package synonyms

import (
	"context"
	"fmt"
	"strings"

	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

const (
	Name    = "synonyms"
	Version = "1.0.0"

	defaultMaxExpansions = 3
)

// Expansion records one widened term.
type Expansion struct {
	Term     string   `json:"term"`
	Synonyms []string `json:"synonyms"`
}

// Runner expands terms against a fixed synonym table bound at registration
// time.
type Runner struct {
	table         map[string][]string
	maxExpansions int64
}

// Spec builds the registrable stage artifact around a synonym table mapping a
// term to its alternatives.
func Spec(table map[string][]string) stage.Spec {
	fixed := make(map[string][]string, len(table))
	for term, alts := range table {
		fixed[strings.ToLower(term)] = append([]string(nil), alts...)
	}
	return stage.Spec{
		Name:    Name,
		Version: Version,
		Kind:    stage.KindQuery,
		Params: []stage.Param{
			{Name: "max_expansions", Type: stage.ParamInt, Default: int64(defaultMaxExpansions)},
		},
		Build: func(cfg stage.Config) (stage.Runner, error) {
			n := cfg.Int("max_expansions")
			if n < 1 {
				return nil, fmt.Errorf("max_expansions must be positive, got %d", n)
			}
			return &Runner{table: fixed, maxExpansions: n}, nil
		},
	}
}

// TransformQuery rewrites each known term t into "(t OR s1 OR s2 ...)".
// Boolean operator tokens pass through untouched.
func (r *Runner) TransformQuery(ctx context.Context, caps *capability.Set, req *query.Request) (*query.Request, any, error) {
	var expansions []Expansion

	tree := req.Query()
	r.walkNode(tree, &expansions)
	if len(expansions) == 0 {
		return req, nil, nil
	}
	if err := req.SetQuery(tree); err != nil {
		return nil, nil, err
	}

	return req, map[string]any{"expansions": expansions}, nil
}

func (r *Runner) walkNode(node map[string]any, out *[]Expansion) {
	for kind, body := range node {
		switch kind {
		case "match", "multi_match", "query_string":
			clause, ok := body.(map[string]any)
			if !ok {
				continue
			}
			if kind == "match" {
				for field, v := range clause {
					switch tv := v.(type) {
					case string:
						clause[field] = r.expandText(tv, out)
					case map[string]any:
						if text, ok := tv["query"].(string); ok {
							tv["query"] = r.expandText(text, out)
						}
					}
				}
				continue
			}
			if text, ok := clause["query"].(string); ok {
				clause["query"] = r.expandText(text, out)
			}
		case "bool":
			clause, ok := body.(map[string]any)
			if !ok {
				continue
			}
			for _, sub := range clause {
				switch sv := sub.(type) {
				case map[string]any:
					r.walkNode(sv, out)
				case []any:
					for _, item := range sv {
						if m, ok := item.(map[string]any); ok {
							r.walkNode(m, out)
						}
					}
				}
			}
		}
	}
}

func isOperator(token string) bool {
	return token == "AND" || token == "OR" || token == "NOT"
}

func (r *Runner) expandText(text string, out *[]Expansion) string {
	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		if isOperator(w) {
			continue
		}
		alts, ok := r.table[strings.ToLower(w)]
		if !ok || len(alts) == 0 {
			continue
		}
		if int64(len(alts)) > r.maxExpansions {
			alts = alts[:r.maxExpansions]
		}
		words[i] = "(" + w + " OR " + strings.Join(alts, " OR ") + ")"
		*out = append(*out, Expansion{Term: w, Synonyms: append([]string(nil), alts...)})
		changed = true
	}
	if !changed {
		return text
	}
	return strings.Join(words, " ")
}
