package agent

import (
	"context"

	"github.com/topoquery/backend/internal/prompt"
)

// GenerateInput carries everything a generator may use for one attempt.
// Prior holds the failed attempts so far; a non-empty Prior makes this a
// repair attempt.
type GenerateInput struct {
	Question string
	Schema   string
	Examples []prompt.ExampleItem
	Feedback []prompt.ExampleItem
	Hints    []string
	Prior    RetryContext
}

// Generator produces a candidate query for one attempt.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (CandidateQuery, error)
}

// Validator checks a candidate without executing it. Standard mode only;
// fast mode never constructs one.
type Validator interface {
	Validate(ctx context.Context, schema, query string) (ValidationOutcome, error)
}

// Executor runs a query against the graph. Database rejections come back in
// the outcome, not the error; the error is for infrastructure failures.
type Executor interface {
	Execute(ctx context.Context, query string) (ExecutionOutcome, error)
}

// Summarizer turns result rows into the answer text.
type Summarizer interface {
	Summarize(ctx context.Context, question string, rows []map[string]any) (string, error)
}
