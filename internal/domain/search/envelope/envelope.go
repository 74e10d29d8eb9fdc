// Package envelope models the result set returned by the search engine and
// threaded through result-type pipelines.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/model-collapse/quidditch/internal/domain/search/hit"
	"github.com/model-collapse/quidditch/internal/domain/search/jsonmap"
)

// Envelope is the total/max_score/hits/metadata structure for one search
// response. Hit ordering is significant and stage-mutable.
type Envelope struct {
	total    uint64
	maxScore float64
	hits     []*hit.Hit
	metadata map[string]any
	// metaOrder preserves insertion order of stage metadata keys.
	metaOrder []string
}

// New creates an envelope from engine output.
func New(total uint64, maxScore float64, hits []*hit.Hit) *Envelope {
	return &Envelope{total: total, maxScore: maxScore, hits: hits}
}

// Total returns the engine- or pipeline-reported hit count.
func (e *Envelope) Total() uint64 { return e.total }

// SetTotal updates the reported hit count.
func (e *Envelope) SetTotal(total uint64) { e.total = total }

// MaxScore returns the reported maximum score.
func (e *Envelope) MaxScore() float64 { return e.maxScore }

// SetMaxScore updates the reported maximum score.
func (e *Envelope) SetMaxScore(s float64) { e.maxScore = s }

// Hits returns the ordered hit sequence.
func (e *Envelope) Hits() []*hit.Hit { return e.hits }

// SetHits replaces the hit sequence.
func (e *Envelope) SetHits(hits []*hit.Hit) { e.hits = hits }

// RecomputeMaxScore returns the maximum score across current hits.
// Zero for an empty envelope.
func (e *Envelope) RecomputeMaxScore() float64 {
	var maxScore float64
	for i, h := range e.hits {
		if i == 0 || h.Score() > maxScore {
			maxScore = h.Score()
		}
	}
	return maxScore
}

// SetStageMetadata records a stage's metadata contribution under its stage
// name, preserving first-insertion order across the run.
func (e *Envelope) SetStageMetadata(stageName string, value any) {
	if e.metadata == nil {
		e.metadata = make(map[string]any)
	}
	if _, exists := e.metadata[stageName]; !exists {
		e.metaOrder = append(e.metaOrder, stageName)
	}
	e.metadata[stageName] = value
}

// Metadata returns per-stage metadata contributions.
func (e *Envelope) Metadata() map[string]any { return e.metadata }

// MetadataKeys returns metadata keys in insertion order.
func (e *Envelope) MetadataKeys() []string { return e.metaOrder }

// Clone deep-copies the envelope. The executor snapshots the input before a
// run so the abort policy can hand back a pristine object.
func (e *Envelope) Clone() *Envelope {
	hits := make([]*hit.Hit, len(e.hits))
	for i, h := range e.hits {
		hits[i] = h.Clone()
	}
	return &Envelope{
		total:     e.total,
		maxScore:  e.maxScore,
		hits:      hits,
		metadata:  jsonmap.Clone(e.metadata),
		metaOrder: append([]string(nil), e.metaOrder...),
	}
}

type envelopeJSON struct {
	Total    uint64         `json:"total"`
	MaxScore float64        `json:"max_score"`
	Hits     []*hit.Hit     `json:"hits"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON renders the engine wire shape.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Total:    e.total,
		MaxScore: e.maxScore,
		Hits:     e.hits,
		Metadata: e.metadata,
	})
}

// UnmarshalJSON parses the engine wire shape.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	e.total = wire.Total
	e.maxScore = wire.MaxScore
	e.hits = wire.Hits
	e.metadata = wire.Metadata
	e.metaOrder = nil
	for k := range wire.Metadata {
		e.metaOrder = append(e.metaOrder, k)
	}
	return nil
}
