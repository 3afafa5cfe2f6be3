package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Triples TripleDirectory
	Prompts *promptcfg.Store
}

// NewMCPServer creates an MCP server with all threadsmith tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"threadsmith",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("threadsmith: tweet-thread generation tuned by captured editor feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_examples",
			mcp.WithDescription("Semantically search captured edit examples (original, annotation, final edit)."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchExamples(deps),
	)

	s.AddTool(
		mcp.NewTool("recurring_patterns",
			mcp.WithDescription("List texts the editor rewrote repeatedly, with the best example for each."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of patterns (default 10)")),
		),
		mcpRecurringPatterns(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_resolved",
			mcp.WithDescription("Mark a captured example as resolved so analysis stops flagging it."),
			mcp.WithString("id", mcp.Description("Triple id"), mcp.Required()),
		),
		mcpMarkResolved(deps),
	)

	s.AddTool(
		mcp.NewTool("list_versions",
			mcp.WithDescription("List instruction configuration versions, newest last."),
		),
		mcpListVersions(deps),
	)

	return s
}

func mcpSearchExamples(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)

		scored := deps.Triples.FindSimilar(ctx, query, retrieval.SearchOptions{Limit: limit})
		if len(scored) == 0 {
			return mcpText("[]"), nil
		}

		type exampleResult struct {
			ID         string  `json:"id"`
			Original   string  `json:"original"`
			Annotation string  `json:"annotation"`
			FinalEdit  string  `json:"final_edit"`
			Quality    int     `json:"quality"`
			Score      float32 `json:"score"`
		}

		results := make([]exampleResult, len(scored))
		for i, s := range scored {
			results[i] = exampleResult{
				ID:         s.ID,
				Original:   s.Original,
				Annotation: s.Annotation,
				FinalEdit:  s.FinalEdit,
				Quality:    s.Quality,
				Score:      s.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecurringPatterns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)

		patterns, err := deps.Triples.RecurringPatterns(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list patterns: %v", err)), nil
		}
		if len(patterns) == 0 {
			return mcpText("[]"), nil
		}

		type patternResult struct {
			Original    string   `json:"original"`
			Frequency   int      `json:"frequency"`
			BestEdit    string   `json:"best_edit"`
			Annotations []string `json:"annotations"`
		}

		results := make([]patternResult, len(patterns))
		for i, p := range patterns {
			results[i] = patternResult{
				Original:    p.Original,
				Frequency:   p.Frequency,
				BestEdit:    p.BestExample.FinalEdit,
				Annotations: p.Annotations,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal patterns: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMarkResolved(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		ok, err := deps.Triples.MarkResolved(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("no triple with id %s", id)), nil
		}
		return mcpText(fmt.Sprintf("Resolved %s", id)), nil
	}
}

func mcpListVersions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		versions := deps.Prompts.ListVersions()

		type versionResult struct {
			ID          string `json:"id"`
			Version     string `json:"version"`
			Timestamp   string `json:"timestamp"`
			Author      string `json:"author"`
			Description string `json:"description"`
			Changes     int    `json:"changes"`
		}

		results := make([]versionResult, len(versions))
		for i, v := range versions {
			results[i] = versionResult{
				ID:          v.ID,
				Version:     v.Version,
				Timestamp:   v.Timestamp.Format(time.RFC3339),
				Author:      string(v.Author),
				Description: v.Description,
				Changes:     len(v.Changes),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal versions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
