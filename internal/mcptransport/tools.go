package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"seagoat/internal/facade"
	"seagoat/pkg/types"
)

// Error codes for tool-level failures. ErrorCodeInvalidParams and
// ErrorCodeInternalError reuse the standard JSON-RPC codes; ErrorCodeEmptyQuery
// sits in JSON-RPC's implementation-defined server-error range.
const (
	ErrorCodeInvalidParams = -32602
	ErrorCodeInternalError = -32603
	ErrorCodeEmptyQuery    = -32004
)

func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}

	limitLines := getIntDefault(args, "limit_lines", 0)
	filters := facade.Filters{
		ContextAbove: getIntDefault(args, "context_above", -1),
		ContextBelow: getIntDefault(args, "context_below", -1),
		IncludeGlobs: getStringSlice(args, "include_glob"),
		ExcludeGlobs: getStringSlice(args, "exclude_glob"),
		MaxResults:   getIntDefault(args, "max_results", 0),
	}

	handle, err := s.f.SubmitQuery(query, limitLines, filters)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "submit_query failed", map[string]interface{}{"error": err.Error()})
	}

	value, err := handle.Wait(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "query failed", map[string]interface{}{"error": err.Error()})
	}

	result := value.(*types.Result)
	return mcp.NewToolResultText(formatJSON(queryResponse(result))), nil
}

func (s *Server) handleIndexRepository(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := s.f.SubmitAnalyze()
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "index_repository failed", map[string]interface{}{"error": err.Error()})
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "analyze failed", map[string]interface{}{"error": err.Error()})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"indexed": true})), nil
}

func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := s.f.GetStatus()
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "get_status failed", map[string]interface{}{"error": err.Error()})
	}
	value, err := handle.Wait(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "get_status failed", map[string]interface{}{"error": err.Error()})
	}

	status := value.(facade.Status)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"chunks_analyzed":      status.ChunksAnalyzed,
		"total_files":          status.TotalFiles,
		"queue_depth":          status.QueueDepth,
		"last_analyzed_at_unix": status.LastAnalyzedAtUnix,
		"stale":                status.Stale,
	})), nil
}

// queryResponse shapes a Result per §6.1's documented output: a list of
// per-path blocks, each a list of lines tagged with why they're present.
func queryResponse(result *types.Result) map[string]interface{} {
	blocks := make([]map[string]interface{}, 0, len(result.Blocks))
	for _, b := range result.Blocks {
		lines := make([]map[string]interface{}, 0, len(b.Lines))
		for _, l := range b.Lines {
			lines = append(lines, map[string]interface{}{
				"line":        l.Line,
				"lineText":    l.LineText,
				"score":       l.Score,
				"resultTypes": l.ResultTypes,
			})
		}
		blocks = append(blocks, map[string]interface{}{
			"path":  b.Path,
			"lines": lines,
		})
	}
	return map[string]interface{}{
		"blocks":      blocks,
		"partial":     result.Partial,
		"regexError":  result.RegexError,
	}
}

func newMCPError(code int, message string, data interface{}) error {
	return &ToolError{Code: code, Message: message, Data: data}
}

// ToolError is a tool-level failure carrying an MCP-style error code.
type ToolError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcptransport error %d: %s", e.Code, e.Message)
}

func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
