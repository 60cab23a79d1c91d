package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/orderbot/internal/janitor"
)

func newJanitorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "janitor [job...]",
		Short: "Run cleanup jobs now",
		Long: fmt.Sprintf(`Runs cleanup jobs once instead of waiting for their schedule.
Jobs: %s. Without arguments every job runs.`, strings.Join(janitor.Jobs(), ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJanitor(cmd, configPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	return cmd
}

func runJanitor(cmd *cobra.Command, configPath string, jobs []string) error {
	out := cmd.OutOrStdout()

	st, err := loadStack(nil, configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	jan, err := janitor.New(janitor.Opts{
		Sessions:   st.sessions,
		Pending:    st.pending,
		Schedule:   st.cfg.Janitor,
		SessionTTL: st.cfg.SessionTTL(),
		Metrics:    st.metrics,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		jobs = janitor.Jobs()
	}
	for _, name := range jobs {
		n, err := jan.Run(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: removed %d\n", name, n)
	}
	return nil
}
