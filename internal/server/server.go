package server

import (
	"context"
	"net/http"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"secnews/internal/tools"
	"secnews/internal/version"
)

var (
	closedWorld = false
	openWorld   = true
	notDestroy  = false
)

// New builds an MCP server exposing get_news, list_sources and get_stats.
func New(svc *tools.Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: version.Name, Version: version.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_news",
		Description: "Get recent cybersecurity news from the configured RSS sources. " +
			"Filter by time window, sources and search text; results come from a cache " +
			"that is refreshed when older than its TTL.",
		Annotations: &mcp.ToolAnnotations{
			Title:           "Get cybersecurity news",
			ReadOnlyHint:    true,
			DestructiveHint: &notDestroy,
			IdempotentHint:  true,
			OpenWorldHint:   &openWorld,
		},
	}, handleGetNews(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List the configured cybersecurity news sources and their feed URLs.",
		Annotations: &mcp.ToolAnnotations{
			Title:           "List news sources",
			ReadOnlyHint:    true,
			DestructiveHint: &notDestroy,
			IdempotentHint:  true,
			OpenWorldHint:   &closedWorld,
		},
	}, handleListSources(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report cache statistics: document count, last refresh time, TTL and store health.",
		Annotations: &mcp.ToolAnnotations{
			Title:           "Cache statistics",
			ReadOnlyHint:    true,
			DestructiveHint: &notDestroy,
			IdempotentHint:  true,
			OpenWorldHint:   &closedWorld,
		},
	}, handleGetStats(svc))

	return server
}

// Run serves the tools over stdio until ctx is done or the client disconnects.
func Run(ctx context.Context, svc *tools.Service) error {
	return New(svc).Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the tools over streamable HTTP.
func Handler(svc *tools.Service) http.Handler {
	server := New(svc)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// textResult returns text as the tool content. structured, when non-nil, is
// also attached as structured content.
func textResult(text string, structured any) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, structured, nil
}

func handleGetNews(svc *tools.Service) mcp.ToolHandlerFor[tools.GetNewsParams, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, p tools.GetNewsParams) (*mcp.CallToolResult, any, error) {
		res, err := svc.GetNews(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		text, err := res.Text()
		if err != nil {
			return nil, nil, err
		}
		if res.Format == tools.FormatJSON {
			return textResult(text, res.Payload())
		}
		return textResult(text, nil)
	}
}

func handleListSources(svc *tools.Service) mcp.ToolHandlerFor[tools.FormatParams, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, p tools.FormatParams) (*mcp.CallToolResult, any, error) {
		format, err := tools.ParseFormat(p.ResponseFormat)
		if err != nil {
			return nil, nil, err
		}
		srcs := svc.ListSources()
		text, err := tools.SourcesText(srcs, format)
		if err != nil {
			return nil, nil, err
		}
		if format == tools.FormatJSON {
			return textResult(text, tools.NewSourcesPayload(srcs))
		}
		return textResult(text, nil)
	}
}

func handleGetStats(svc *tools.Service) mcp.ToolHandlerFor[tools.FormatParams, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, p tools.FormatParams) (*mcp.CallToolResult, any, error) {
		format, err := tools.ParseFormat(p.ResponseFormat)
		if err != nil {
			return nil, nil, err
		}
		stats, err := svc.GetStats(ctx)
		if err != nil {
			return nil, nil, err
		}
		text, err := tools.StatsText(stats, format, svc.Now())
		if err != nil {
			return nil, nil, err
		}
		if format == tools.FormatJSON {
			return textResult(text, tools.NewStatsPayload(stats))
		}
		return textResult(text, nil)
	}
}
