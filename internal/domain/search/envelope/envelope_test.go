package envelope

import (
	"encoding/json"
	"testing"

	"github.com/model-collapse/quidditch/internal/domain/search/hit"
)

func threeHits() []*hit.Hit {
	return []*hit.Hit{
		hit.New("a", 2.5, map[string]any{"title": "laptop"}),
		hit.New("b", 2.0, map[string]any{"title": "notebook"}),
		hit.New("c", 1.0, map[string]any{"title": "tablet"}),
	}
}

func TestRecomputeMaxScore(t *testing.T) {
	env := New(3, 2.5, threeHits())
	env.Hits()[2].SetScore(9.0)

	if got := env.RecomputeMaxScore(); got != 9.0 {
		t.Errorf("expected 9.0, got %v", got)
	}
	if env.MaxScore() != 2.5 {
		t.Error("RecomputeMaxScore must not mutate the header")
	}

	empty := New(0, 0, nil)
	if got := empty.RecomputeMaxScore(); got != 0 {
		t.Errorf("empty envelope max must be 0, got %v", got)
	}
}

func TestStageMetadata_InsertionOrder(t *testing.T) {
	env := New(0, 0, nil)
	env.SetStageMetadata("ml_rerank", map[string]any{"n": 3})
	env.SetStageMetadata("text_similarity", map[string]any{"dropped": 1})

	keys := env.MetadataKeys()
	if len(keys) != 2 || keys[0] != "ml_rerank" || keys[1] != "text_similarity" {
		t.Errorf("expected insertion order, got %v", keys)
	}
}

func TestClone_Independent(t *testing.T) {
	env := New(3, 2.5, threeHits())
	env.SetStageMetadata("stage", 1)

	c := env.Clone()
	c.SetTotal(99)
	c.Hits()[0].SetScore(0.1)
	c.SetHits(c.Hits()[:1])
	c.SetStageMetadata("other", 2)

	if env.Total() != 3 {
		t.Errorf("total leaked: %d", env.Total())
	}
	if env.Hits()[0].Score() != 2.5 {
		t.Error("hit mutation leaked through clone")
	}
	if len(env.Hits()) != 3 {
		t.Error("hit slice leaked through clone")
	}
	if len(env.MetadataKeys()) != 1 {
		t.Errorf("metadata leaked: %v", env.MetadataKeys())
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	env := New(42, 2.5, threeHits())
	env.SetStageMetadata("ml_rerank", map[string]any{"model": "linear"})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed Envelope
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Total() != 42 || parsed.MaxScore() != 2.5 {
		t.Errorf("header lost: total=%d max=%v", parsed.Total(), parsed.MaxScore())
	}
	if len(parsed.Hits()) != 3 || parsed.Hits()[0].ID() != "a" {
		t.Errorf("hits lost: %v", parsed.Hits())
	}
	if _, ok := parsed.Metadata()["ml_rerank"]; !ok {
		t.Error("metadata lost on round trip")
	}
}
