package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dativo-io/aegis/internal/requestctx"
	"github.com/dativo-io/aegis/internal/retrieval"
)

// ContextDocsTool answers questions from the knowledge base. Candidates
// come from the vector search and pass through the permission filter, so
// the caller only ever sees documents they can_view.
type ContextDocsTool struct {
	source retrieval.Source
	filter *retrieval.Filter
	limit  int
}

// NewContextDocsTool creates the knowledge lookup tool.
func NewContextDocsTool(source retrieval.Source, filter *retrieval.Filter) *ContextDocsTool {
	return &ContextDocsTool{source: source, filter: filter, limit: 10}
}

func (t *ContextDocsTool) Name() string { return "getContextDocumentsTool" }

func (t *ContextDocsTool) Description() string {
	return "Look up relevant passages from the user's document knowledge base."
}

func (t *ContextDocsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Natural-language question to search the knowledge base with"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *ContextDocsTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing lookup arguments: %w", err)
	}

	candidates, err := t.source.FindRelevant(ctx, p.Query, t.limit)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}

	visible, err := t.filter.Filter(ctx, candidates, requestctx.SubjectID(ctx))
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"documents": visible,
	})
}
