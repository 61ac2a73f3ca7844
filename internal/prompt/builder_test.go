package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationSectionsOrdered(t *testing.T) {
	b := NewBuilder()

	out := b.Generation(
		"how many api gateways are there",
		"Node labels: ApiGateway, Server",
		[]ExampleItem{{NaturalLanguage: "count servers", Query: "MATCH (s:Server) RETURN count(s)"}},
		[]ExampleItem{{NaturalLanguage: "list gateways", Query: "MATCH (g:ApiGateway) RETURN g.name"}},
		nil,
		nil,
	)

	schemaIdx := strings.Index(out, "Database schema:")
	exampleIdx := strings.Index(out, "Example question/query pairs:")
	feedbackIdx := strings.Index(out, "Corrected queries from user feedback")
	questionIdx := strings.Index(out, "Question: how many api gateways")

	assert.True(t, schemaIdx >= 0)
	assert.True(t, exampleIdx > schemaIdx, "examples follow the schema")
	assert.True(t, feedbackIdx > exampleIdx, "feedback follows examples")
	assert.True(t, questionIdx > feedbackIdx, "question comes last")
}

func TestGenerationDeterministic(t *testing.T) {
	b := NewBuilder()
	examples := []ExampleItem{{NaturalLanguage: "q1", Query: "c1"}, {NaturalLanguage: "q2", Query: "c2"}}

	first := b.Generation("q", "schema", examples, nil, nil, []string{"Postgres"})
	second := b.Generation("q", "schema", examples, nil, nil, []string{"Postgres"})
	assert.Equal(t, first, second)
}

func TestGenerationRepairsVerbatim(t *testing.T) {
	b := NewBuilder()

	out := b.Generation("q", "schema", nil, nil, []RepairNote{
		{Query: "MATCH (n)", Reason: "invalid: missing RETURN clause"},
	}, nil)

	assert.Contains(t, out, "MATCH (n)")
	assert.Contains(t, out, "invalid: missing RETURN clause")
}

func TestGenerationOmitsEmptySections(t *testing.T) {
	b := NewBuilder()
	out := b.Generation("q", "schema", nil, nil, nil, nil)

	assert.NotContains(t, out, "Example question/query pairs:")
	assert.NotContains(t, out, "Corrected queries")
	assert.NotContains(t, out, "Previous attempts failed")
	assert.NotContains(t, out, "Entities mentioned")
}
