package spellcheck

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

func buildRunner(t *testing.T) *Runner {
	t.Helper()
	spec := Spec(map[string]string{"labtop": "laptop", "Iphone": "iphone"})
	cfg, err := stage.NewConfig(spec.Params, nil)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	runner, err := spec.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return runner.(*Runner)
}

func request(t *testing.T, tree map[string]any) *query.Request {
	t.Helper()
	req, err := query.New(tree, 10, 0)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return req
}

func caps() *capability.Set {
	return capability.NewForQuery(nil, zap.NewNop())
}

func TestTransformQuery_CorrectsMatchClause(t *testing.T) {
	r := buildRunner(t)
	req := request(t, map[string]any{"match": map[string]any{"title": "cheap labtop deals"}})

	out, meta, err := r.TransformQuery(context.Background(), caps(), req)
	if err != nil {
		t.Fatalf("TransformQuery: %v", err)
	}
	if got := out.Query()["match"].(map[string]any)["title"]; got != "cheap laptop deals" {
		t.Errorf("correction missing: %v", got)
	}

	m, ok := meta.(map[string]any)
	if !ok {
		t.Fatalf("metadata: %v", meta)
	}
	corrections := m["corrections"].([]Correction)
	if len(corrections) != 1 || corrections[0].Original != "labtop" || corrections[0].Corrected != "laptop" {
		t.Errorf("corrections: %+v", corrections)
	}
}

func TestTransformQuery_CaseInsensitiveLookup(t *testing.T) {
	r := buildRunner(t)
	req := request(t, map[string]any{"match": map[string]any{"title": "LABTOP iPhone"}})

	out, _, err := r.TransformQuery(context.Background(), caps(), req)
	if err != nil {
		t.Fatalf("TransformQuery: %v", err)
	}
	if got := out.Query()["match"].(map[string]any)["title"]; got != "laptop iphone" {
		t.Errorf("lookup must ignore case on both sides: %v", got)
	}
}

func TestTransformQuery_MatchPhraseObjectForm(t *testing.T) {
	r := buildRunner(t)
	req := request(t, map[string]any{
		"match_phrase": map[string]any{"title": map[string]any{"query": "labtop stand"}},
	})

	out, _, err := r.TransformQuery(context.Background(), caps(), req)
	if err != nil {
		t.Fatalf("TransformQuery: %v", err)
	}
	clause := out.Query()["match_phrase"].(map[string]any)["title"].(map[string]any)
	if clause["query"] != "laptop stand" {
		t.Errorf("object-form clause untouched: %v", clause)
	}
}

func TestTransformQuery_BoolNesting(t *testing.T) {
	r := buildRunner(t)
	req := request(t, map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"match": map[string]any{"title": "labtop"}},
				map[string]any{"multi_match": map[string]any{
					"query":  "labtop bag",
					"fields": []any{"title", "description"},
				}},
			},
		},
	})

	out, meta, err := r.TransformQuery(context.Background(), caps(), req)
	if err != nil {
		t.Fatalf("TransformQuery: %v", err)
	}
	must := out.Query()["bool"].(map[string]any)["must"].([]any)
	if got := must[0].(map[string]any)["match"].(map[string]any)["title"]; got != "laptop" {
		t.Errorf("nested match untouched: %v", got)
	}
	if got := must[1].(map[string]any)["multi_match"].(map[string]any)["query"]; got != "laptop bag" {
		t.Errorf("nested multi_match untouched: %v", got)
	}
	if n := len(meta.(map[string]any)["corrections"].([]Correction)); n != 2 {
		t.Errorf("expected 2 corrections, got %d", n)
	}
}

func TestTransformQuery_NoCorrectionsNoMetadata(t *testing.T) {
	r := buildRunner(t)
	req := request(t, map[string]any{"match": map[string]any{"title": "laptop"}})

	out, meta, err := r.TransformQuery(context.Background(), caps(), req)
	if err != nil {
		t.Fatalf("TransformQuery: %v", err)
	}
	if meta != nil {
		t.Errorf("clean text must not emit metadata: %v", meta)
	}
	if out != req {
		t.Error("no-op must pass the request through")
	}
}

func TestDefaultDictionary(t *testing.T) {
	dict := DefaultDictionary()
	if dict["labtop"] != "laptop" {
		t.Errorf("default entry missing: %v", dict["labtop"])
	}
}
