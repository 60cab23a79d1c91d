package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/db"
	"github.com/zulandar/orderbot/internal/outbound"
	"github.com/zulandar/orderbot/internal/platform"
)

const terminalChannel = "terminal"

// terminalSender prints bot messages to the operator's terminal.
type terminalSender struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminalSender) Send(_ context.Context, _ catalog.Tenant, _ string, msg outbound.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := strings.ReplaceAll(msg.Text, "\n", "\n     ")
	_, err := fmt.Fprintf(t.out, "bot> %s\n", text)
	return err
}

func newSimulateCmd() *cobra.Command {
	var (
		configPath  string
		tenantID    string
		senderID    string
		memory      bool
		tenantFiles []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Chat with a tenant's bot in the terminal",
		Long: `Runs the ordering engine against a terminal instead of a messaging
provider. Type as a customer would; numbers pick from the listed options.

  /pin <lat>,<lng>   share a location
  /session           print the current session
  /reset             start over with an empty session
  /quit              leave

With --memory the session, catalog and orders live in a throwaway SQLite
database seeded from the tenant files, and no config file is needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, configPath, tenantID, senderID, memory, tenantFiles)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orderbot.yaml", "path to orderbot config file")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&senderID, "sender", "local", "sender id for the simulated customer")
	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-memory database")
	cmd.Flags().StringSliceVar(&tenantFiles, "tenant-file", nil, "tenant file to seed with --memory (default: tenant_files from config)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func runSimulate(cmd *cobra.Command, configPath, tenantID, senderID string, memory bool, tenantFiles []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil && memory && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if memory {
		cfg.Database = config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}
		cfg.Session.Backend = "sql"
	}

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	if memory {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
		if len(tenantFiles) == 0 {
			tenantFiles = cfg.TenantFiles
		}
		if err := seedTenants(out, gormDB, tenantFiles); err != nil {
			return err
		}
	}

	tty := &terminalSender{out: out}
	st, err := newStack(cfg, gormDB, map[string]platform.Platform{
		terminalChannel: {Sender: tty},
	})
	if err != nil {
		return err
	}
	defer st.Close()

	sim := &simulator{
		engine:      st.engine,
		key:         conversation.Key{TenantID: tenantID, Channel: terminalChannel, SenderID: senderID},
		out:         out,
		interactive: isTerminal(cmd.InOrStdin()),
	}
	return sim.run(cmd.Context(), cmd.InOrStdin())
}

// chatEngine is the part of the ordering engine the simulator drives.
type chatEngine interface {
	Handle(ctx context.Context, tenantID, channel string, in platform.Inbound) error
	Session(ctx context.Context, key conversation.Key) (*conversation.Session, error)
	Reset(ctx context.Context, key conversation.Key) error
}

type simulator struct {
	engine      chatEngine
	key         conversation.Key
	out         io.Writer
	interactive bool
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s *simulator) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(s.out, "Chatting with %s as %s. Type /quit to leave.\n", s.key.TenantID, s.key.SenderID)
	scanner := bufio.NewScanner(in)
	for {
		if s.interactive {
			fmt.Fprint(s.out, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !s.interactive {
			fmt.Fprintf(s.out, "you> %s\n", line)
		}
		quit, err := s.input(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// input handles one typed line and reports whether the operator quit.
func (s *simulator) input(ctx context.Context, line string) (bool, error) {
	var ev conversation.Event
	switch {
	case line == "/quit":
		return true, nil
	case line == "/reset":
		if err := s.engine.Reset(ctx, s.key); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "(session reset)")
		return false, nil
	case line == "/session":
		sess, err := s.engine.Session(ctx, s.key)
		if err != nil {
			return false, err
		}
		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return false, fmt.Errorf("marshal session: %w", err)
		}
		fmt.Fprintln(s.out, string(data))
		return false, nil
	case strings.HasPrefix(line, "/pin "):
		lat, lng, err := parsePin(strings.TrimPrefix(line, "/pin "))
		if err != nil {
			fmt.Fprintf(s.out, "(%v)\n", err)
			return false, nil
		}
		ev = conversation.LocationAttachment{Lat: lat, Lng: lng}
	default:
		ev = conversation.TextMessage{Text: line}
	}

	err := s.engine.Handle(ctx, s.key.TenantID, s.key.Channel, platform.Inbound{
		SenderID:  s.key.SenderID,
		Event:     ev,
		Timestamp: time.Now(),
	})
	return false, err
}

func parsePin(v string) (float64, float64, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("usage: /pin <lat>,<lng>")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("coordinates out of range")
	}
	return lat, lng, nil
}
