package commands

import (
	"encoding/json"
	"fmt"

	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/spf13/cobra"
)

var (
	queryMaxChars int
	queryHeaders  bool
	queryMatches  bool
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Print the context the assistant would receive for a question",
		Long: `Embed a question, search the index and print the assembled context exactly
as it would be injected into the system prompt.`,
		Example: `  supportctl query "how long do withdrawals take"
  supportctl query --headers --max-chars 800 "refund policy"
  supportctl query --matches "refund policy"`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}
	cmd.Flags().IntVar(&queryMaxChars, "max-chars", 0, "Maximum characters of context (default: $CONTEXT_MAX_CHARS)")
	cmd.Flags().BoolVar(&queryHeaders, "headers", false, "Prefix each segment with its id and score")
	cmd.Flags().BoolVar(&queryMatches, "matches", false, "Print the raw matches as JSON instead of the context")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryMaxChars < 0 {
		return fmt.Errorf("max-chars must be positive, got %d", queryMaxChars)
	}

	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	ns := namespace(cmd, e.cfg)
	assembler := e.assembler()
	out := cmd.OutOrStdout()

	if queryMatches {
		matches, err := assembler.Matches(cmd.Context(), args[0], ns)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	opts := []service.ContextOption{service.WithOnlyText(!queryHeaders)}
	if queryMaxChars > 0 {
		opts = append(opts, service.WithMaxChars(queryMaxChars))
	}
	text, err := assembler.GetContext(cmd.Context(), args[0], ns, opts...)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "no matches")
		return nil
	}
	fmt.Fprintln(out, text)
	return nil
}
