package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newNotifyCmd() *cobra.Command {
	var (
		configPath string
		kf         keyFlags
	)

	cmd := &cobra.Command{
		Use:   "notify <message>",
		Short: "Send an operator message to a customer",
		Long: `Sends a free-text message to one customer. If the channel's reactive
window has closed, the message is held and sent when the customer writes
again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(cmd, configPath, kf, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	kf.register(cmd)
	return cmd
}

func runNotify(cmd *cobra.Command, configPath string, kf keyFlags, text string) error {
	out := cmd.OutOrStdout()

	st, err := loadStack(nil, configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sent, err := st.engine.Notify(cmd.Context(), kf.key(), text)
	if err != nil {
		return err
	}
	if sent {
		fmt.Fprintf(out, "Message sent to %s\n", kf.key())
	} else {
		fmt.Fprintf(out, "Window closed for %s; message held until the customer writes again\n", kf.key())
	}
	return nil
}
