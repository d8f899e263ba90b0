package commands

import (
	"fmt"

	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/spf13/cobra"
)

var resetConfirmed bool

// NewResetCmd creates the reset command.
func NewResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document in a namespace",
		Long:  `Remove all indexed documents from the namespace. Chat history is not touched.`,
		Example: `  supportctl reset --yes
  supportctl reset --namespace staging --yes`,
		Args: cobra.NoArgs,
		RunE: runReset,
	}
	cmd.Flags().BoolVar(&resetConfirmed, "yes", false, "Confirm the deletion")
	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirmed {
		return fmt.Errorf("refusing to delete documents without --yes")
	}

	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	ns := namespace(cmd, e.cfg)
	svc := service.NewIngestService(e.provider, e.stores.Index, service.IngestConfig{})
	if err := svc.Reset(cmd.Context(), ns); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", displayNamespace(ns))
	return nil
}
