package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/retriever"
)

func indexVaultTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_vault",
		Description: "Index the vault's notes for semantic retrieval. Only notes changed since the last pass are embedded unless overwrite is set.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"overwrite": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every note (full rebuild)",
					"default":     false,
				},
			},
		},
	}
}

func indexNoteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_note",
		Description: "Re-index a single note, replacing its previous chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Vault-relative path of the note, e.g. 'projects/plan.md'",
				},
			},
			Required: []string{"path"},
		},
	}
}

func retrieveTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve",
		Description: "Retrieve the note chunks most relevant to a question, distinct notes first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to return (defaults to max source chunks)",
					"minimum":     1,
					"maximum":     retriever.MaxK,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop chunks with cosine similarity below this value",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"query"},
		},
	}
}

func collectGarbageTool() mcp.Tool {
	return mcp.Tool{
		Name:        "collect_garbage",
		Description: "Remove indexed chunks of notes that were deleted or are now excluded",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Delete every indexed chunk and reset the index markers",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, the active embedding model and whether a re-index is required",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
