// Package similarity provides a filter-kind stage that admits documents
// whose text field is within an edit-distance threshold of a query term.
package similarity

import (
	"context"

	"github.com/agnivade/levenshtein"

	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

const (
	Name    = "text_similarity"
	Version = "1.0.0"

	defaultField     = "title"
	defaultThreshold = 2
)

// Runner compares one document field against the query parameter.
type Runner struct{}

// Spec builds the registrable stage artifact. The comparison target and
// threshold come through parameters, so a single registration serves many
// pipelines.
func Spec() stage.Spec {
	return stage.Spec{
		Name:    Name,
		Version: Version,
		Kind:    stage.KindFilter,
		Params: []stage.Param{
			{Name: "field", Type: stage.ParamString, Default: defaultField},
			{Name: "query", Type: stage.ParamString, Default: ""},
			{Name: "threshold", Type: stage.ParamInt, Default: int64(defaultThreshold)},
		},
		Build: func(stage.Config) (stage.Runner, error) {
			return &Runner{}, nil
		},
	}
}

// Admit keeps the document when the edit distance between its field and the
// query parameter is within the threshold. A document missing the field is
// rejected; an empty query admits everything.
func (r *Runner) Admit(ctx context.Context, caps *capability.Set) (bool, error) {
	queryText := caps.ParamString("query")
	if queryText == "" {
		return true, nil
	}

	value := caps.FieldString(caps.ParamString("field"))
	if value == "" {
		return false, nil
	}

	distance := levenshtein.ComputeDistance(value, queryText)
	return int64(distance) <= caps.ParamInt64("threshold"), nil
}
