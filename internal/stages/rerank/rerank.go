// Package rerank provides a result-kind stage that re-scores hits with a
// linear model over document signals and re-sorts the envelope.
package rerank

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/hit"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

const (
	Name    = "ml_rerank"
	Version = "1.0.0"

	defaultModel = "learning_to_rank_v1"
)

// Feature order: text score, click-through rate, recency, has_image, price.
var (
	defaultWeights = []float64{0.4, 0.3, 0.15, 0.10, 0.05}
	defaultBias    = 0.5
)

// Test seam for recency computation.
var nowFunc = time.Now

// Runner holds the model weights, bound at registration time.
type Runner struct {
	model        string
	weights      []float64
	bias         float64
	recencyField string
	priceField   string
}

// Spec builds the registrable stage artifact. Nil weights fall back to the
// built-in model.
func Spec(weights []float64, bias float64) stage.Spec {
	if weights == nil {
		weights = defaultWeights
		bias = defaultBias
	}
	fixed := append([]float64(nil), weights...)
	return stage.Spec{
		Name:    Name,
		Version: Version,
		Kind:    stage.KindResult,
		Params: []stage.Param{
			{Name: "model", Type: stage.ParamString, Default: defaultModel},
			{Name: "recency_field", Type: stage.ParamString, Default: "published_at"},
			{Name: "price_field", Type: stage.ParamString, Default: "price"},
		},
		Build: func(cfg stage.Config) (stage.Runner, error) {
			return &Runner{
				model:        cfg.String("model"),
				weights:      fixed,
				bias:         bias,
				recencyField: cfg.String("recency_field"),
				priceField:   cfg.String("price_field"),
			}, nil
		},
	}
}

// TransformResult rescores every hit, keeps the engine score under the
// _original_score annotation, sorts descending by the new score, and updates
// max_score.
func (r *Runner) TransformResult(ctx context.Context, caps *capability.Set, env *envelope.Envelope) (*envelope.Envelope, any, error) {
	hits := env.Hits()
	if len(hits) == 0 {
		return env, nil, nil
	}

	for _, h := range hits {
		features := r.extractFeatures(h)
		score := r.bias
		for i, w := range r.weights {
			if i < len(features) {
				score += w * features[i]
			}
		}
		h.Annotate("_original_score", h.Score())
		h.Annotate("_ml_features", map[string]any{
			"text_score": features[0],
			"ctr":        features[1],
			"recency":    features[2],
			"has_image":  features[3],
			"price":      features[4],
		})
		h.SetScore(score)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score() > hits[j].Score()
	})
	env.SetHits(hits)
	env.SetMaxScore(hits[0].Score())

	return env, map[string]any{
		"model":          r.model,
		"weights":        r.weights,
		"reranked_count": len(hits),
	}, nil
}

func (r *Runner) extractFeatures(h *hit.Hit) []float64 {
	textScore := h.Score()

	// Click-through rate stand-in: a stable hash of the document ID. A real
	// deployment would read this from an analytics store.
	fh := fnv.New32a()
	fh.Write([]byte(h.ID()))
	ctr := float64(fh.Sum32()%100) / 100.0

	var recency float64
	if v, ok := h.Field(r.recencyField); ok {
		published := asFloat(v)
		daysOld := (float64(nowFunc().Unix()) - published) / 86400.0
		recency = 1.0 / (1.0 + math.Log(math.Max(daysOld, 1)))
	}

	var hasImage float64
	if v, ok := h.Field("image_url"); ok {
		if s, isStr := v.(string); !isStr || s != "" {
			hasImage = 1.0
		}
	}

	var priceScore float64
	if v, ok := h.Field(r.priceField); ok {
		priceScore = 1.0 / (1.0 + math.Log(math.Max(asFloat(v), 1)))
	}

	return []float64{textScore, ctr, recency, hasImage, priceScore}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
