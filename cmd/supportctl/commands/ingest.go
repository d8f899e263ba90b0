package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/bootstrap"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/spf13/cobra"
)

const progressEvery = 25

var resetFirst bool

// NewZendeskCmd creates the zendesk ingestion command.
func NewZendeskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zendesk",
		Short: "Index every published Zendesk Help Center article",
		Long: `Fetch all published articles from the Zendesk Help Center API, strip their
HTML, embed them and upsert them into the vector index.

Credentials come from ZENDESK_SUBDOMAIN, ZENDESK_EMAIL and either
ZENDESK_API_TOKEN or ZENDESK_PASSWORD.`,
		Example: `  supportctl zendesk
  supportctl zendesk --namespace pointsbet --reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, bootstrap.SourceZendesk, "")
		},
	}
	cmd.Flags().BoolVar(&resetFirst, "reset", false, "Delete the namespace before indexing")
	return cmd
}

// NewFilesCmd creates the local files ingestion command.
func NewFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files <dir>",
		Short: "Index HTML, Markdown and text files from a directory",
		Long: `Walk a directory and index every .html, .htm, .md, .markdown and .txt file
as a help-center article. The title comes from the HTML <title>, the first
Markdown heading, or the file name.`,
		Example: `  supportctl files ./kb
  supportctl files ./kb --namespace staging --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, bootstrap.SourceFiles, args[0])
		},
	}
	cmd.Flags().BoolVar(&resetFirst, "reset", false, "Delete the namespace before indexing")
	return cmd
}

func runIngest(cmd *cobra.Command, source, arg string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ns := namespace(cmd, e.cfg)
	out := cmd.OutOrStdout()

	articles, err := bootstrap.Loaders(e.cfg)[source](ctx, arg)
	if err != nil {
		return fmt.Errorf("load %s articles: %w", source, err)
	}
	fmt.Fprintf(out, "Loaded %d articles from %s\n", len(articles), source)

	svc := service.NewIngestService(e.provider, e.stores.Index, service.IngestConfig{})
	if resetFirst {
		if err := svc.Reset(ctx, ns); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared namespace %s\n", displayNamespace(ns))
	}

	report, err := svc.WithProgress(progressPrinter(out)).IngestArticles(ctx, ns, articles)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Fprintf(out, "Indexed %d of %d articles into %s (%d skipped, %d failed) in %s\n",
		report.Indexed, report.Total, displayNamespace(ns), report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
	return nil
}

func progressPrinter(out io.Writer) service.ProgressFunc {
	return func(processed int, r service.IngestReport) {
		if processed%progressEvery == 0 && processed < r.Total {
			fmt.Fprintf(out, "  %d/%d processed\n", processed, r.Total)
		}
	}
}

func displayNamespace(ns string) string {
	if ns == "" {
		return "the default namespace"
	}
	return "namespace " + ns
}
