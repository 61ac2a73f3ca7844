package prompt

import (
	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
)

// EntityHints extracts named entities from a question to hint the generator
// at literal values it should match against the graph. Extraction failures
// degrade to no hints rather than failing the request.
func EntityHints(question string) []string {
	doc, err := prose.NewDocument(question,
		prose.WithSegmentation(false),
	)
	if err != nil {
		logger.Debug("Entity extraction failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{})
	var hints []string
	for _, ent := range doc.Entities() {
		if _, ok := seen[ent.Text]; ok {
			continue
		}
		seen[ent.Text] = struct{}{}
		hints = append(hints, ent.Text)
	}
	return hints
}
