package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index a repository's code artifacts to make them searchable and answerable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"changed_files": map[string]interface{}{
					"type":        "array",
					"description": "Repository-relative paths to re-index incrementally; omit for a full run",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"full": map[string]interface{}{
					"type":        "boolean",
					"description": "Force a full re-index even when changed_files is provided",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// askQuestionTool returns the tool definition for ask_question
func askQuestionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_question",
		Description: "Answer a natural language question using code retrieved from the indexed repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question to answer",
				},
			},
			Required: []string{"question"},
		},
	}
}

// searchArtifactsTool returns the tool definition for search_artifacts
func searchArtifactsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_artifacts",
		Description: "Retrieve indexed code artifacts relevant to a query, without generating an answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or keyword query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     3,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the configured providers",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
