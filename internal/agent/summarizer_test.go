package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredSummarizerDeterministic(t *testing.T) {
	s := NewStructuredSummarizer()
	rows := []map[string]any{
		{"name": "api-gw-1", "region": "us-east-1"},
		{"name": "api-gw-2", "region": "eu-west-1"},
	}

	first, err := s.Summarize(context.Background(), "q", rows)
	require.NoError(t, err)
	second, err := s.Summarize(context.Background(), "q", rows)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical rows must produce byte-identical output")

	var out struct {
		Type    string   `json:"type"`
		Headers []string `json:"headers"`
		Rows    [][]any  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &out))
	assert.Equal(t, "table", out.Type)
	assert.Equal(t, []string{"name", "region"}, out.Headers, "headers are sorted")
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "api-gw-1", out.Rows[0][0])
}

func TestStructuredSummarizerEmptyRows(t *testing.T) {
	s := NewStructuredSummarizer()

	out, err := s.Summarize(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","content":"No results found."}`, out)

	again, err := s.Summarize(context.Background(), "other question", []map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, out, again)
}
