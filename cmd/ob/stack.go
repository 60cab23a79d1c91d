package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/db"
	"github.com/zulandar/orderbot/internal/delivery"
	"github.com/zulandar/orderbot/internal/metrics"
	"github.com/zulandar/orderbot/internal/ordering"
	"github.com/zulandar/orderbot/internal/outbound"
	"github.com/zulandar/orderbot/internal/platform"
	"github.com/zulandar/orderbot/internal/platform/messenger"
	"github.com/zulandar/orderbot/internal/platform/slack"
	"github.com/zulandar/orderbot/internal/session"
)

const sendTimeout = 15 * time.Second

// stack is the wired service: storage, dispatcher and engine.
type stack struct {
	cfg        *config.Config
	db         *gorm.DB
	sessions   session.Store
	pending    *outbound.SQLPending
	dispatcher *outbound.Dispatcher
	engine     *ordering.Engine
	metrics    *metrics.Metrics
	platforms  map[string]platform.Platform
}

// chatPlatforms returns the Messenger and Slack platforms configured by cfg.
func chatPlatforms(cfg *config.Config) (map[string]platform.Platform, error) {
	msgSender, err := messenger.NewSender(messenger.SenderOpts{
		APIBase:    cfg.Messenger.APIBase,
		APIVersion: cfg.Messenger.APIVersion,
		HTTPClient: &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	return map[string]platform.Platform{
		messenger.Name: {
			Provider: messenger.NewProvider(messenger.ProviderOpts{
				AppSecret:   cfg.Messenger.AppSecret,
				VerifyToken: cfg.Messenger.VerifyToken,
			}),
			Sender: msgSender,
			Window: cfg.ReactiveWindow(),
		},
		slack.Name: {
			Provider: slack.NewProvider(slack.ProviderOpts{SigningSecret: cfg.Slack.SigningSecret}),
			Sender:   slack.NewSender(slack.SenderOpts{}),
		},
	}, nil
}

// openDB connects to the configured database. SQLite gets a single
// connection; concurrent writers would otherwise hit "database is locked".
func openDB(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gormDB, nil
}

func openSessions(cfg *config.Config, gormDB *gorm.DB) (session.Store, error) {
	switch cfg.Session.Backend {
	case "pebble":
		return session.OpenPebbleStore(session.PebbleStoreOpts{
			Path: cfg.Session.PebblePath,
			TTL:  cfg.SessionTTL(),
		})
	default:
		return session.NewSQLStore(session.SQLStoreOpts{DB: gormDB, TTL: cfg.SessionTTL()})
	}
}

// newStack wires the engine for the given platforms on an open database.
func newStack(cfg *config.Config, gormDB *gorm.DB, platforms map[string]platform.Platform) (*stack, error) {
	sessions, err := openSessions(cfg, gormDB)
	if err != nil {
		return nil, err
	}
	st := &stack{cfg: cfg, db: gormDB, sessions: sessions, metrics: metrics.New(), platforms: platforms}
	if err := st.wire(); err != nil {
		sessions.Close()
		return nil, err
	}
	return st, nil
}

func (st *stack) wire() error {
	cfg := st.cfg
	src, err := catalog.NewSQLSource(st.db)
	if err != nil {
		return err
	}
	ledger, err := checkout.NewSQLLedger(st.db)
	if err != nil {
		return err
	}
	orders, err := checkout.NewOrchestrator(checkout.OrchestratorOpts{Ledger: ledger})
	if err != nil {
		return err
	}
	st.pending, err = outbound.NewSQLPending(st.db)
	if err != nil {
		return err
	}

	senders := make(map[string]outbound.Sender, len(st.platforms))
	windows := make(map[string]time.Duration, len(st.platforms))
	for name, p := range st.platforms {
		senders[name] = p.Sender
		if p.Window > 0 {
			windows[name] = p.Window
		}
	}
	st.dispatcher, err = outbound.NewDispatcher(outbound.DispatcherOpts{
		Senders:           senders,
		Pending:           st.pending,
		Windows:           windows,
		MaxAttempts:       cfg.Outbound.MaxAttempts,
		BaseBackoff:       time.Duration(cfg.Outbound.BaseBackoffMs) * time.Millisecond,
		RateLimitCooldown: time.Duration(cfg.Outbound.RateLimitCooldownSec) * time.Second,
		Limiter:           rate.NewLimiter(rate.Limit(cfg.Outbound.SendsPerSecond), cfg.Outbound.Burst),
		Metrics:           st.metrics,
	})
	if err != nil {
		return err
	}

	quotes, couriers, err := delivery.New(cfg.Delivery)
	if err != nil {
		return err
	}
	st.engine, err = ordering.NewEngine(ordering.EngineOpts{
		Sessions:   st.sessions,
		Catalog:    src,
		Orders:     orders,
		Dispatcher: st.dispatcher,
		Quotes:     quotes,
		Couriers:   couriers,
		Metrics:    st.metrics,
		MaxRetries: cfg.Session.MaxCASRetries,
	})
	return err
}

// providers returns the inbound side of every platform that has one.
func (st *stack) providers() []platform.Provider {
	var out []platform.Provider
	for _, p := range st.platforms {
		if p.Provider != nil {
			out = append(out, p.Provider)
		}
	}
	return out
}

func (st *stack) Close() error {
	err := st.sessions.Close()
	if sqlDB, derr := st.db.DB(); derr == nil {
		if cerr := sqlDB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// loadStack loads the config at configPath and wires the chat platforms.
func loadStack(out io.Writer, configPath string) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	platforms, err := chatPlatforms(cfg)
	if err != nil {
		return nil, err
	}
	st, err := newStack(cfg, gormDB, platforms)
	if err != nil {
		return nil, err
	}
	if out != nil {
		fmt.Fprintf(out, "Using %s database, %s sessions, %s delivery\n",
			cfg.Database.Driver, cfg.Session.Backend, cfg.Delivery.Provider)
	}
	return st, nil
}
