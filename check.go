package main

import (
	"fmt"

	"github.com/spf13/cobra"

	checks "fixedrate-billing/internal/checks/domain"
	"fixedrate-billing/internal/observability/metrics"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "check tests|coverage",
		Short:     "Run unit tests or coverage and write the HTML report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(checks.KindTests), string(checks.KindCoverage)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := checks.ParseKind(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			metrics.Init()

			store, closeStore, err := openJobStore(cfg.Checks)
			if err != nil {
				return err
			}
			defer closeStore()

			runner, err := newCheckRunner(cfg.Checks, store, logger)
			if err != nil {
				return err
			}
			job, err := runner.RunSync(cmd.Context(), kind)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:    %s\n", job.ID)
			fmt.Fprintf(out, "Status: %s\n", job.Status)
			fmt.Fprintf(out, "Log:    %s\n", job.LogPath)
			if job.ArtifactPath != "" {
				fmt.Fprintf(out, "Report: %s\n", job.ArtifactPath)
			}
			if job.Status == checks.StatusFailed {
				return fmt.Errorf("%s check failed: %s", kind, job.Error)
			}
			return nil
		},
	}
}
