package mcptransport

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchCodeTool returns the tool definition for search_code, the
// submit_query operation of the Query Facade exposed over MCP.
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed repository with a natural-language or literal query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Non-empty search text",
				},
				"limit_lines": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum total result lines across all blocks",
					"default":     500,
					"minimum":     1,
				},
				"context_above": map[string]interface{}{
					"type":        "integer",
					"description": "Lines of context to include above each hit",
					"default":     3,
					"minimum":     0,
				},
				"context_below": map[string]interface{}{
					"type":        "integer",
					"description": "Lines of context to include below each hit",
					"default":     3,
					"minimum":     0,
				},
				"include_glob": map[string]interface{}{
					"type":        "array",
					"description": "Only return blocks whose path matches one of these globs",
					"items":       map[string]interface{}{"type": "string"},
				},
				"exclude_glob": map[string]interface{}{
					"type":        "array",
					"description": "Drop blocks whose path matches any of these globs",
					"items":       map[string]interface{}{"type": "string"},
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of ranked blocks to return",
					"minimum":     1,
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexRepositoryTool returns the tool definition for index_repository, a
// manual trigger for the Engine's analyze pass.
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Re-analyze the repository now instead of waiting for the next idle maintenance pass",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status.
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report queue depth, chunks analyzed, and whether the index is stale relative to HEAD",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
