package commands

import (
	"log/slog"

	"github.com/arturoeanton/support-chat-rag/internal/mcp"
	"github.com/spf13/cobra"
)

// NewMCPCmd creates the mcp command.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the knowledge base over MCP on stdio",
		Long: `Start a Model Context Protocol (MCP) server on stdin/stdout so LLM agents can
call the get_context and search_documents tools against the index.

Logs go to stderr; stdout carries only protocol messages.`,
		Example: `  supportctl mcp

  # claude_desktop_config.json
  {"mcpServers": {"support-kb": {"command": "supportctl", "args": ["mcp"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			server := mcp.NewServer(e.assembler(), namespace(cmd, e.cfg), e.stores.Audit, "")
			slog.Info("MCP server starting on stdio", "namespace", namespace(cmd, e.cfg))
			return server.ServeStdio()
		},
	}
}
