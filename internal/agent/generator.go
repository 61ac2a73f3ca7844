package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/topoquery/backend/internal/prompt"
)

type cypherModel interface {
	GenerateCypher(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMGenerator synthesizes queries with a language model. Repair attempts
// feed the prior rejected queries and their verbatim rejection reasons back
// into the prompt.
type LLMGenerator struct {
	model   cypherModel
	builder *prompt.Builder
}

func NewLLMGenerator(model cypherModel, builder *prompt.Builder) *LLMGenerator {
	return &LLMGenerator{model: model, builder: builder}
}

func (g *LLMGenerator) Generate(ctx context.Context, in GenerateInput) (CandidateQuery, error) {
	repairs := repairNotes(in.Prior)

	userPrompt := g.builder.Generation(in.Question, in.Schema, in.Examples, in.Feedback, repairs, in.Hints)
	text, err := g.model.GenerateCypher(ctx, g.builder.SystemPrompt(), userPrompt)
	if err != nil {
		return CandidateQuery{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if text == "" {
		return CandidateQuery{}, errors.New("model returned an empty query")
	}

	origin := OriginInitial
	if len(in.Prior) > 0 {
		origin = OriginRepair
	}
	return CandidateQuery{
		Text:    text,
		Attempt: len(in.Prior) + 1,
		Origin:  origin,
	}, nil
}

// repairNotes flattens the failure history into prompt notes, preserving the
// exact rejection text from each stage.
func repairNotes(prior RetryContext) []prompt.RepairNote {
	var notes []prompt.RepairNote
	for _, att := range prior {
		note := prompt.RepairNote{Query: att.Query.Text}
		switch {
		case att.Validation != nil && !att.Validation.Valid:
			note.Reason = att.Validation.Reason
		case att.Execution != nil && !att.Execution.Success:
			note.Reason = att.Execution.Err
		case att.StageErr != "":
			note.Reason = att.StageErr
		default:
			continue
		}
		notes = append(notes, note)
	}
	return notes
}
