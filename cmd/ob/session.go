package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/platform/messenger"
)

// keyFlags are the flags that identify one conversation.
type keyFlags struct {
	tenant  string
	channel string
	sender  string
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&k.channel, "channel", messenger.Name, "channel: messenger or slack")
	cmd.Flags().StringVar(&k.sender, "sender", "", "sender id on the channel (required)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("sender")
}

func (k keyFlags) key() conversation.Key {
	return conversation.Key{TenantID: k.tenant, Channel: k.channel, SenderID: k.sender}
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset customer conversations",
	}

	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionResetCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var (
		configPath string
		kf         keyFlags
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a conversation session as JSON",
		Long:  "Prints the stored session for one sender, followed by any messages held until the customer writes again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, kf)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	kf.register(cmd)
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath string, kf keyFlags) error {
	out := cmd.OutOrStdout()

	st, err := loadStack(nil, configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	s, err := st.engine.Session(ctx, kf.key())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	fmt.Fprintln(out, string(data))

	held, err := st.pending.List(ctx, kf.key())
	if err != nil {
		return err
	}
	if len(held) > 0 {
		fmt.Fprintf(out, "\n%d held message(s):\n", len(held))
		for _, m := range held {
			fmt.Fprintf(out, "  [%s] %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Message.Text)
		}
	}
	return nil
}

func newSessionResetCmd() *cobra.Command {
	var (
		configPath string
		kf         keyFlags
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a conversation session",
		Long:  "Deletes the stored session for one sender. Their next message starts at the menu.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionReset(cmd, configPath, kf)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	kf.register(cmd)
	return cmd
}

func runSessionReset(cmd *cobra.Command, configPath string, kf keyFlags) error {
	st, err := loadStack(nil, configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.engine.Reset(cmd.Context(), kf.key()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", kf.key())
	return nil
}
