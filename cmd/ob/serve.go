package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/orderbot/internal/janitor"
	"github.com/zulandar/orderbot/internal/server"
	"github.com/zulandar/orderbot/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Starts the webhook server for Messenger and Slack together with the
cleanup scheduler. Webhook URLs have the form /webhook/<provider>/<tenant>.
Stops gracefully on SIGINT or SIGTERM after queued events finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, listen)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, listen string) error {
	out := cmd.OutOrStdout()

	st, err := loadStack(out, configPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if listen == "" {
		listen = st.cfg.Listen
	}

	gw, err := webhook.NewGateway(webhook.GatewayOpts{
		Providers:      st.providers(),
		Handler:        st.engine,
		Metrics:        st.metrics,
		AckBudget:      st.cfg.AckBudget(),
		ProcessTimeout: st.cfg.ProcessTimeout(),
		Healthy: func(ctx context.Context) error {
			sqlDB, err := st.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	if err != nil {
		return err
	}

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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	jan.Start(ctx)

	err = server.Start(ctx, server.StartOpts{
		Listen:   listen,
		Register: gw.Register,
		Drain:    gw.Close,
		Out:      out,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "orderbot stopped")
	return nil
}
