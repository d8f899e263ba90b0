// Package mcp exposes the knowledge base to external agents over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// Server implements the Model Context Protocol (MCP) server.
type Server struct {
	assembler *service.ContextAssembler
	namespace string
	audit     middleware.AuditWriter // optional
	port      string

	mcp  *mcpserver.MCPServer
	http *mcpserver.StreamableHTTPServer
}

// NewServer creates a new MCP server with its tools registered.
func NewServer(assembler *service.ContextAssembler, namespace string, audit middleware.AuditWriter, port string) *Server {
	s := &Server{
		assembler: assembler,
		namespace: namespace,
		audit:     audit,
		port:      port,
		mcp:       mcpserver.NewMCPServer("Support Chat Knowledge Base", Version, mcpserver.WithToolCapabilities(false)),
	}
	s.registerTools()
	s.http = mcpserver.NewStreamableHTTPServer(s.mcp)
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        "get_context",
		Description: "Retrieve the help-center context the support assistant would use to answer a question.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Customer question",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Index namespace (default: server namespace)",
				},
				"max_chars": map[string]interface{}{
					"type":        "number",
					"description": "Maximum characters of context (default: 3000)",
				},
			},
			Required: []string{"query"},
		},
	}, s.GetContext)

	s.mcp.AddTool(mcp.Tool{
		Name:        "search_documents",
		Description: "Search the help-center index and return the matching articles with their similarity scores.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Index namespace (default: server namespace)",
				},
			},
			Required: []string{"query"},
		},
	}, s.SearchDocuments)
}

// GetContext handles the get_context tool.
func (s *Server) GetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	namespace := request.GetString("namespace", s.namespace)

	var opts []service.ContextOption
	if maxChars := request.GetInt("max_chars", 0); maxChars > 0 {
		opts = append(opts, service.WithMaxChars(maxChars))
	}

	text, err := s.assembler.GetContext(ctx, query, namespace, opts...)
	if err != nil {
		return toolError(err), nil
	}

	s.record("get_context", namespace)
	return mcp.NewToolResultText(text), nil
}

type searchResult struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score,omitempty"`
	Title string   `json:"title,omitempty"`
	Text  string   `json:"text,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// SearchDocuments handles the search_documents tool.
func (s *Server) SearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	namespace := request.GetString("namespace", s.namespace)

	matches, err := s.assembler.Matches(ctx, query, namespace)
	if err != nil {
		return toolError(err), nil
	}

	results := make([]searchResult, 0, len(matches))
	for _, m := range matches {
		r := searchResult{ID: m.ID, Score: m.Score, Title: m.Title()}
		r.Text, _ = m.Text()
		r.URL, _ = m.Metadata["url"].(string)
		results = append(results, r)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode results: %v", err)), nil
	}

	s.record("search_documents", namespace)
	return mcp.NewToolResultText(string(data)), nil
}

func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, port.ErrEmptyQuery) {
		return mcp.NewToolResultError("query must not be empty")
	}
	slog.Error("MCP tool failed", "error", err)
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) record(tool, namespace string) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"tool": tool, "namespace": namespace})
	if err := s.audit.WriteAudit("mcp", domain.AuditActionMCPCall, "mcp", tool, string(details), "", ""); err != nil {
		slog.Error("failed to write audit log", "error", err)
	}
}

// Start serves MCP over streamable HTTP on the configured port.
func (s *Server) Start() error {
	slog.Info("MCP server starting", "port", s.port)
	return s.http.Start(":" + s.port)
}

// Shutdown stops the HTTP transport. It is safe to call from another goroutine than Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeStdio serves MCP over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcp)
}
