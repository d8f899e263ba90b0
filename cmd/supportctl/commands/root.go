package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	namespaceFlag string
	verbose       bool
)

// NewRootCmd creates the supportctl root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supportctl",
		Short: "Manage the support chat knowledge base",
		Long: `supportctl loads help-center articles into the vector index used by the
support chat, inspects the context the assistant would receive, and issues
access tokens for the chat API.

Configuration is read from the environment and an optional .env file, the
same way the server reads it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "", "Index namespace (default: $NAMESPACE)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		NewZendeskCmd(),
		NewFilesCmd(),
		NewResetCmd(),
		NewQueryCmd(),
		NewTokenCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
