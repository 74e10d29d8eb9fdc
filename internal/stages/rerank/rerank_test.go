package rerank

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/hit"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

func buildRunner(t *testing.T, config map[string]any) *Runner {
	t.Helper()
	spec := Spec(nil, 0)
	cfg, err := stage.NewConfig(spec.Params, config)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	runner, err := spec.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return runner.(*Runner)
}

func caps() *capability.Set {
	return capability.NewForQuery(nil, zap.NewNop())
}

func TestTransformResult_RescoresAndReorders(t *testing.T) {
	restore := nowFunc
	nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { nowFunc = restore }()

	// "plain" leads on engine score but carries no signals; "rich" has an
	// image and a low price, which the model rewards.
	env := envelope.New(2, 1.05, []*hit.Hit{
		hit.New("plain", 1.05, map[string]any{"title": "bare doc"}),
		hit.New("rich", 1.0, map[string]any{
			"title":     "well stocked doc",
			"image_url": "https://example.com/a.png",
			"price":     1,
		}),
	})

	r := buildRunner(t, nil)
	out, meta, err := r.TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}

	hits := out.Hits()
	if hits[0].ID() != "rich" {
		t.Errorf("signal-heavy hit must lead, got %s", hits[0].ID())
	}
	if out.MaxScore() != hits[0].Score() {
		t.Errorf("max_score %v must track the top hit %v", out.MaxScore(), hits[0].Score())
	}

	for _, h := range hits {
		orig, ok := h.Annotation("_original_score")
		if !ok {
			t.Fatalf("hit %s lost its original score", h.ID())
		}
		if h.ID() == "plain" && orig != 1.05 {
			t.Errorf("original score = %v", orig)
		}
		features, ok := h.Annotation("_ml_features")
		if !ok {
			t.Fatalf("hit %s has no feature annotation", h.ID())
		}
		fm := features.(map[string]any)
		for _, key := range []string{"text_score", "ctr", "recency", "has_image", "price"} {
			if _, ok := fm[key]; !ok {
				t.Errorf("feature %s missing on hit %s", key, h.ID())
			}
		}
	}

	m := meta.(map[string]any)
	if m["model"] != "learning_to_rank_v1" {
		t.Errorf("model = %v", m["model"])
	}
	if m["reranked_count"] != 2 {
		t.Errorf("reranked_count = %v", m["reranked_count"])
	}
}

func TestTransformResult_ScoreIsLinearModel(t *testing.T) {
	env := envelope.New(1, 2.0, []*hit.Hit{
		hit.New("only", 2.0, map[string]any{"title": "doc"}),
	})

	r := buildRunner(t, nil)
	out, _, err := r.TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}

	h := out.Hits()[0]
	fm, _ := h.Annotation("_ml_features")
	features := fm.(map[string]any)
	want := 0.5 +
		0.4*features["text_score"].(float64) +
		0.3*features["ctr"].(float64) +
		0.15*features["recency"].(float64) +
		0.10*features["has_image"].(float64) +
		0.05*features["price"].(float64)
	if diff := h.Score() - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score %v, want %v", h.Score(), want)
	}
}

func TestTransformResult_ModelParamOverride(t *testing.T) {
	env := envelope.New(1, 1.0, []*hit.Hit{
		hit.New("a", 1.0, map[string]any{"title": "doc"}),
	})

	r := buildRunner(t, map[string]any{"model": "ltr_shadow"})
	_, meta, err := r.TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}
	if got := meta.(map[string]any)["model"]; got != "ltr_shadow" {
		t.Errorf("model = %v", got)
	}
}

func TestTransformResult_FieldParamOverrides(t *testing.T) {
	env := envelope.New(1, 1.0, []*hit.Hit{
		hit.New("a", 1.0, map[string]any{"cost": 1}),
	})

	r := buildRunner(t, map[string]any{"price_field": "cost"})
	out, _, err := r.TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}
	fm, _ := out.Hits()[0].Annotation("_ml_features")
	if got := fm.(map[string]any)["price"].(float64); got != 1.0 {
		t.Errorf("price feature must read the configured field, got %v", got)
	}
}

func TestTransformResult_EmptyEnvelopePassthrough(t *testing.T) {
	env := envelope.New(0, 0, nil)

	r := buildRunner(t, nil)
	out, meta, err := r.TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}
	if out != env || meta != nil {
		t.Error("empty envelope must pass through untouched")
	}
}

func TestTransformResult_CustomWeights(t *testing.T) {
	// Only the text score counts; ordering must follow the engine score.
	spec := Spec([]float64{1, 0, 0, 0, 0}, 0)
	cfg, err := stage.NewConfig(spec.Params, nil)
	if err != nil {
		t.Fatal(err)
	}
	runner, err := spec.Build(cfg)
	if err != nil {
		t.Fatal(err)
	}

	env := envelope.New(2, 3.0, []*hit.Hit{
		hit.New("low", 1.0, map[string]any{"image_url": "x", "price": 1}),
		hit.New("high", 3.0, map[string]any{}),
	})
	out, _, err := runner.(*Runner).TransformResult(context.Background(), caps(), env)
	if err != nil {
		t.Fatalf("TransformResult: %v", err)
	}
	if out.Hits()[0].ID() != "high" {
		t.Errorf("text-only model must keep engine order, got %s first", out.Hits()[0].ID())
	}
	if out.Hits()[0].Score() != 3.0 {
		t.Errorf("identity weights over text score: %v", out.Hits()[0].Score())
	}
}
