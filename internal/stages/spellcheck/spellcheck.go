// Package spellcheck provides a query-kind stage that corrects known
// misspellings in the free-text parts of a query tree.
package spellcheck

import (
	"context"
	"strings"

	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

const (
	// Name is the stage's registry name.
	Name = "spell_check"
	// Version is the stage's registry version.
	Version = "1.0.0"
)

// Correction records one replaced token.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// Runner corrects tokens against a fixed dictionary. The dictionary is bound
// at registration time and never changes between runs.
type Runner struct {
	dict map[string]string
}

// Spec builds the registrable stage artifact around a misspelling dictionary
// mapping wrong spellings to corrections.
func Spec(dict map[string]string) stage.Spec {
	fixed := make(map[string]string, len(dict))
	for k, v := range dict {
		fixed[strings.ToLower(k)] = v
	}
	return stage.Spec{
		Name:    Name,
		Version: Version,
		Kind:    stage.KindQuery,
		Build: func(stage.Config) (stage.Runner, error) {
			return &Runner{dict: fixed}, nil
		},
	}
}

// TransformQuery rewrites the request's text clauses, correcting each token
// found in the dictionary. Metadata lists the corrections applied.
func (r *Runner) TransformQuery(ctx context.Context, caps *capability.Set, req *query.Request) (*query.Request, any, error) {
	var corrections []Correction

	tree := req.Query()
	r.walkNode(tree, &corrections)
	if len(corrections) == 0 {
		return req, nil, nil
	}
	if err := req.SetQuery(tree); err != nil {
		return nil, nil, err
	}

	caps.Log("applied spelling corrections")
	return req, map[string]any{"corrections": corrections}, nil
}

func (r *Runner) walkNode(node map[string]any, out *[]Correction) {
	for kind, body := range node {
		switch kind {
		case "match", "match_phrase":
			clause, ok := body.(map[string]any)
			if !ok {
				continue
			}
			for field, v := range clause {
				switch tv := v.(type) {
				case string:
					clause[field] = r.correctText(tv, out)
				case map[string]any:
					if text, ok := tv["query"].(string); ok {
						tv["query"] = r.correctText(text, out)
					}
				}
			}
		case "multi_match", "query_string":
			clause, ok := body.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := clause["query"].(string); ok {
				clause["query"] = r.correctText(text, out)
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

func (r *Runner) correctText(text string, out *[]Correction) string {
	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		fixed, ok := r.dict[strings.ToLower(w)]
		if !ok {
			continue
		}
		*out = append(*out, Correction{Original: w, Corrected: fixed})
		words[i] = fixed
		changed = true
	}
	if !changed {
		return text
	}
	return strings.Join(words, " ")
}
