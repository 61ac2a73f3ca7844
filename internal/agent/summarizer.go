package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

type summaryModel interface {
	SummarizeRows(ctx context.Context, question, rowsJSON string) (string, error)
}

// NarrativeSummarizer asks the model to phrase the rows as a natural
// language answer.
type NarrativeSummarizer struct {
	model summaryModel
}

func NewNarrativeSummarizer(model summaryModel) *NarrativeSummarizer {
	return &NarrativeSummarizer{model: model}
}

func (s *NarrativeSummarizer) Summarize(ctx context.Context, question string, rows []map[string]any) (string, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode rows: %w", err)
	}
	answer, err := s.model.SummarizeRows(ctx, question, string(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return answer, nil
}

// StructuredSummarizer renders rows as a deterministic JSON table. It calls
// no model, so identical rows always produce byte-identical output.
type StructuredSummarizer struct{}

func NewStructuredSummarizer() *StructuredSummarizer {
	return &StructuredSummarizer{}
}

func (s *StructuredSummarizer) Summarize(_ context.Context, _ string, rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return `{"type":"message","content":"No results found."}`, nil
	}

	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	table := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, len(headers))
		for i, h := range headers {
			cells[i] = row[h]
		}
		table = append(table, cells)
	}

	out, err := json.Marshal(map[string]any{
		"type":    "table",
		"headers": headers,
		"rows":    table,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode table: %w", err)
	}
	return string(out), nil
}
