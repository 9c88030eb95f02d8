package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/indexer"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/retriever"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeStaleIndex         = -32003 // Index built with another embedding model
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeNotConfigured      = -32005 // No embedding provider configured
)

// maxReportedErrors caps the per-note errors included in a response
const maxReportedErrors = 5

// handleIndexVault handles the index_vault tool invocation
func (s *Server) handleIndexVault(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	overwrite := getBoolDefault(args, "overwrite", false)

	result, err := s.service.IndexAll(ctx, overwrite)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}
	return mcp.NewToolResultText(formatJSON(indexResponse(result))), nil
}

// handleIndexNote handles the index_note tool invocation
func (s *Server) handleIndexNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path := getStringDefault(args, "path", "")
	if path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := s.service.IndexOne(ctx, path); err != nil {
		return nil, toMCPError("indexing note failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"indexed": true,
		"path":    path,
	})), nil
}

// handleRetrieve handles the retrieve tool invocation
func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", 0)
	if k < 0 || k > retriever.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", retriever.MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	minScore := getFloatDefault(args, "min_score", 0)
	if minScore < 0 || minScore > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]interface{}{
			"param": "min_score",
			"value": minScore,
		})
	}

	resp, err := s.service.Search(ctx, retriever.Request{
		Query:    query,
		K:        k,
		MinScore: minScore,
		UseCache: true,
	})
	if err != nil {
		return nil, toMCPError("retrieval failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"chunks":      resp.Chunks,
		"count":       len(resp.Chunks),
		"candidates":  resp.Candidates,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

// handleCollectGarbage handles the collect_garbage tool invocation
func (s *Server) handleCollectGarbage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.service.CollectGarbage(ctx, nil)
	if err != nil {
		return nil, toMCPError("garbage collection failed", err)
	}

	response := map[string]interface{}{
		"removed_documents": result.RemovedDocuments,
		"removed_records":   result.RemovedRecords,
	}
	if len(result.Paths) > 0 {
		response["paths"] = result.Paths
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.service.ClearAndReset(ctx); err != nil {
		return nil, toMCPError("clearing index failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": true,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.service.Status(ctx)
	if err != nil {
		return nil, toMCPError("failed to get status", err)
	}

	markers := status.Store.Markers
	lastIndexed := ""
	if markers.LatestMtime != nil {
		lastIndexed = markers.LatestMtime.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"vault":    status.Source,
		"indexed":  status.Store.Records > 0,
		"indexing": status.Indexing,
		"stale":    status.Stale,
		"strategy": status.Strategy,
		"store": map[string]interface{}{
			"backend":   status.Store.Backend,
			"location":  status.Store.Location,
			"records":   status.Store.Records,
			"documents": status.Store.Documents,
		},
		"embedding": map[string]interface{}{
			"configured":   status.Configured,
			"provider":     status.Provider,
			"model":        status.Model,
			"active_model": markers.ActiveEmbeddingModel,
		},
		"latest_mtime":    lastIndexed,
		"rebuild_pending": markers.RebuildPending,
	}
	if len(status.ExcludedPaths) > 0 {
		response["excluded_paths"] = status.ExcludedPaths
	}
	if len(markers.FailedPaths) > 0 {
		response["failed_paths"] = markers.FailedPaths
	}
	if status.Stale {
		response["message"] = "Embedding model changed. Run index_vault to rebuild the index."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// indexResponse reports a pass, keeping indexed and failed counts apart
func indexResponse(result *indexer.Result) map[string]interface{} {
	response := map[string]interface{}{
		"indexed_count": result.IndexedCount,
		"error_count":   result.ErrorCount(),
		"total":         result.Total,
		"rebuilt":       result.Rebuilt,
		"duration_ms":   result.Duration.Milliseconds(),
	}

	switch {
	case result.Total == 0:
		response["message"] = "Index is up to date"
	case result.ErrorCount() > 0:
		response["errors"] = result.ErrorMessages(maxReportedErrors)
		response["message"] = fmt.Sprintf("Indexed %d notes, %d failed", result.IndexedCount, result.ErrorCount())
	default:
		response["message"] = fmt.Sprintf("Indexed %d notes", result.IndexedCount)
	}
	return response
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps a service error onto an MCP error code
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.Is(err, types.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", data)
	case errors.Is(err, types.ErrStaleIndex):
		return newMCPError(ErrorCodeStaleIndex, "index was built with another embedding model, run index_vault", data)
	case errors.Is(err, retriever.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case errors.Is(err, types.ErrConfiguration):
		return newMCPError(ErrorCodeNotConfigured, "embedding provider not configured", data)
	case errors.Is(err, retriever.ErrInvalidK),
		errors.Is(err, indexer.ErrExcluded),
		errors.Is(err, source.ErrInvalidPath),
		errors.Is(err, types.ErrDocumentNotFound):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the request's argument map. A request without
// arguments yields an empty map.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
