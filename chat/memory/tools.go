package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-chat/parley/chat/tools"
	"github.com/parley-chat/parley/llm/types"
)

// Tool names offered to the model.
const (
	SearchToolName = "memory_search"
	StoreToolName  = "memory_store"
)

// RegisterTools registers the fixed memory tool set against the client.
func RegisterTools(reg *tools.Registry, client *Client) {
	reg.Register(&tools.RegisteredTool{
		Definition: types.ToolDefinition{
			Name:        SearchToolName,
			Description: "Search the user's long-term memory for relevant notes and facts.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look for.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 5).",
					},
				},
				"required": []string{"query"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := 0
			if n, ok := args["limit"].(float64); ok {
				limit = int(n)
			}

			entries, err := client.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			return renderEntries(entries), nil
		},
	})

	reg.Register(&tools.RegisteredTool{
		Definition: types.ToolDefinition{
			Name:        StoreToolName,
			Description: "Store a note or fact in the user's long-term memory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The text to remember.",
					},
				},
				"required": []string{"content"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}

			id, err := client.Store(ctx, content)
			if err != nil {
				return "", err
			}
			return "Stored memory " + id, nil
		},
	})
}

func renderEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "No matching memories found."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s\n", e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
