package cmd

import (
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Crawls sources, serves the read API and consumes mark events",
		Long: `Runs the ingestion service. The crawl loop, the read API and the
event consumer can each be switched off with RELAY_FEATURES_* settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return ignoreCanceled(a.Ingest(cmd.Context()))
		},
	}
}

func newDistributeCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Posts curated content to target channels on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return ignoreCanceled(a.Distribute(cmd.Context(), once))
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle now and exit")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs ingestion and distribution in one process",
		Long: `Runs every service in a single process against the in-memory store
and event bus. Intended for local development; state is lost on exit.`,
		Annotations: map[string]string{devModeAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return ignoreCanceled(a.RunAll(cmd.Context()))
		},
	}
}
