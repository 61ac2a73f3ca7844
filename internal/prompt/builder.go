package prompt

import (
	"fmt"
	"strings"
)

// ExampleItem is a retrieved question/query pair rendered into the prompt.
type ExampleItem struct {
	NaturalLanguage string
	Query           string
	Similarity      float64
}

// RepairNote carries a rejected query and the verbatim reason it was
// rejected, so the model can see exactly what failed on the prior attempt.
type RepairNote struct {
	Query  string
	Reason string
}

// Metadata reports what went into a generated prompt, for API introspection.
type Metadata struct {
	ExampleCount  int      `json:"example_count"`
	FeedbackCount int      `json:"feedback_count"`
	RepairCount   int      `json:"repair_count"`
	EntityHints   []string `json:"entity_hints,omitempty"`
}

const generationSystemPrompt = `You are an expert Cypher query generator for a Neo4j graph database.
Given the database schema and a natural language question, produce a single
Cypher query that answers the question.

Rules:
- Output only the Cypher query, no explanation and no markdown fences.
- Use only labels, relationship types, and properties from the schema.
- Always include a RETURN clause.
- Prefer simple MATCH patterns over complex subqueries where possible.`

// Builder assembles generation prompts. It is stateless and safe for
// concurrent use.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) SystemPrompt() string {
	return generationSystemPrompt
}

// Generation renders the user prompt for one synthesis attempt. Retrieved
// examples and corrective feedback stay in separate sections, examples first,
// so the model can weigh curated pairs and user corrections differently.
// Repair notes from failed attempts come last, closest to the question.
func (b *Builder) Generation(question, schema string, examples, feedback []ExampleItem, repairs []RepairNote, hints []string) string {
	var sb strings.Builder

	sb.WriteString("Database schema:\n")
	sb.WriteString(schema)
	sb.WriteString("\n")

	if len(examples) > 0 {
		sb.WriteString("\nExample question/query pairs:\n")
		for _, ex := range examples {
			fmt.Fprintf(&sb, "Question: %s\nCypher: %s\n\n", ex.NaturalLanguage, ex.Query)
		}
	}

	if len(feedback) > 0 {
		sb.WriteString("\nCorrected queries from user feedback for similar questions:\n")
		for _, fb := range feedback {
			fmt.Fprintf(&sb, "Question: %s\nCorrect Cypher: %s\n\n", fb.NaturalLanguage, fb.Query)
		}
	}

	if len(hints) > 0 {
		fmt.Fprintf(&sb, "\nEntities mentioned in the question: %s\n", strings.Join(hints, ", "))
	}

	if len(repairs) > 0 {
		sb.WriteString("\nPrevious attempts failed. Do not repeat these mistakes:\n")
		for i, r := range repairs {
			fmt.Fprintf(&sb, "Attempt %d query:\n%s\nRejection reason: %s\n\n", i+1, r.Query, r.Reason)
		}
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\nCypher:", question)
	return sb.String()
}
