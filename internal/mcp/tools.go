package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/retriever"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Repository not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	opts := &indexer.Options{
		ChangedFiles: getStringSlice(args, "changed_files"),
		Full:         getBoolDefault(args, "full", false),
		Workers:      s.cfg.Indexing.Workers,
		BatchSize:    s.cfg.Indexing.BatchSize,
		SnapshotPath: s.cfg.SnapshotPath(),
	}

	stats, err := s.indexer.IndexRepository(ctx, path, opts)
	if errors.Is(err, indexer.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "an index run is already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":           true,
		"files_parsed":      stats.FilesParsed,
		"files_failed":      stats.FilesFailed,
		"files_removed":     stats.FilesRemoved,
		"artifacts_indexed": stats.ArtifactsIndexed,
		"artifacts_deleted": stats.ArtifactsDeleted,
		"duration_ms":       stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskQuestion handles the ask_question tool invocation
func (s *Server) handleAskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	if err := s.requireIndexed(ctx); err != nil {
		return nil, err
	}

	answer, err := s.qa.Ask(ctx, question)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to answer question", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"answer":  answer.Text,
		"context": answer.Context,
		"sources": resultsJSON(answer.Results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchArtifacts handles the search_artifacts tool invocation
func (s *Server) handleSearchArtifacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", retriever.DefaultTopK)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	if err := s.requireIndexed(ctx); err != nil {
		return nil, err
	}

	results, err := s.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"results": resultsJSON(results),
		"count":   len(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifacts, err := s.store.Count(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	files, err := s.store.CountFiles(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	vectors, err := s.index.Count(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed": artifacts > 0,
		"statistics": map[string]interface{}{
			"artifacts": artifacts,
			"files":     files,
			"vectors":   vectors,
		},
		"providers": map[string]interface{}{
			"embedding":  s.embedder.Provider(),
			"completion": s.completer.Provider(),
			"vector":     s.cfg.VectorStore.Backend,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// requireIndexed rejects question and search calls against an empty index
func (s *Server) requireIndexed(ctx context.Context) error {
	n, err := s.store.Count(ctx)
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "failed to read index status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if n == 0 {
		return newMCPError(ErrorCodeNotIndexed, "repository not indexed. Use the index_repository tool first.", nil)
	}
	return nil
}

// resultsJSON converts retrieval results to a JSON-friendly shape
func resultsJSON(results []retriever.Result) []map[string]interface{} {
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		entry := map[string]interface{}{
			"id":         r.ID,
			"type":       r.Kind,
			"name":       r.Name,
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"source":     string(r.Source),
		}
		if r.Parent != "" {
			entry["parent"] = r.Parent
		}
		if r.EndLine != nil {
			entry["end_line"] = *r.EndLine
		}
		if r.Source == retriever.SourceSemantic {
			entry["distance"] = r.Distance
		}
		out[i] = entry
	}
	return out
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

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
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

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
