// Package app wires every component spec.md names into one process,
// mirroring the teacher's internal/app.New/Serve two-phase shape: New
// builds every collaborator once at startup, Serve runs the HTTP surface
// until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/adminapi"
	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/auth"
	"github.com/loudon84/mcs-orchestrator/internal/blobclient"
	"github.com/loudon84/mcs-orchestrator/internal/channel"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/config"
	"github.com/loudon84/mcs-orchestrator/internal/erpclient"
	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/ingest"
	"github.com/loudon84/mcs-orchestrator/internal/llmclient"
	"github.com/loudon84/mcs-orchestrator/internal/mailer"
	"github.com/loudon84/mcs-orchestrator/internal/masterdata"
	"github.com/loudon84/mcs-orchestrator/internal/observability"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator/nodes"
	"github.com/loudon84/mcs-orchestrator/internal/reconcile"
	"github.com/loudon84/mcs-orchestrator/internal/review"
	"github.com/loudon84/mcs-orchestrator/internal/store"
)

// App bundles every wired collaborator: mcsorchd drives Scheduler+Admin
// through Serve. Reconcile is wired here too, but cmd/mcsorch-reconcile
// builds its own reconcile.Service from a store and does not use App.
type App struct {
	Config    config.Config
	Store     *store.Store
	Admin     *adminapi.Server
	Scheduler *ingest.Scheduler
	Reconcile *reconcile.Service
	Logger    *slog.Logger
}

// New resolves cfg into a fully wired App: opens and migrates the
// database, builds the domain clients (masterdata/LLM/ERP/blob/mailer),
// picks a checkpoint backend, builds the orchestration engine with every
// node in internal/orchestrator/nodes.Table, wires the enabled channel
// adapters into the ingestion scheduler, and assembles the admin HTTP
// surface — the same Default()->resolve->wire sequence as the teacher's
// App.New, regeared from neuralmail's queue/vector/embed stack to this
// domain's masterdata/LLM/ERP/blob stack.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := newLogger(cfg)

	dsn := cfg.Database.OrchestrationDSN
	if dsn == "" {
		dsn = cfg.Database.DSN
	}
	st, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx, st.DB()); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	mdClient := masterdata.NewHTTPClient(cfg.Masterdata.BaseURL, cfg.Masterdata.APIKey)
	mdCache := masterdata.NewCache(mdClient, cfg.Masterdata.CacheTTL)

	contractLLM := llmclient.New(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	orderPayloadLLM := llmclient.New(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	erp := erpclient.New(cfg.ERP.BaseURL, cfg.ERP.APIKey, cfg.ERP.TenantID)
	blob := blobclient.New(cfg.Blob.BaseDir, "")
	mail, err := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("build mailer: %w", err)
	}
	ledger := idempotency.NewPostgresLedger(st)

	cpStore, err := newCheckpointStore(cfg, st)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint store: %w", err)
	}

	auditLogger := audit.NewLogger(st)
	observer := observability.NewStepObserver(logger)

	deps := &orchestrator.Deps{
		Masterdata:      mdCache,
		ContractLLM:     contractLLM,
		OrderPayloadLLM: orderPayloadLLM,
		ERP:             erp,
		Blob:            blob,
		Ledger:          ledger,
		Mailer:          mail,
		Now:             func() time.Time { return time.Now().UTC() },
	}
	engine := orchestrator.NewEngine(nodes.Table(), deps, cpStore, auditLogger, observer)

	authSvc := auth.NewService()
	reviewSvc := review.NewService(cpStore, ledger, mdCache, authSvc, auditLogger, engine)

	sources, webhookAdapter := buildChannelSources(cfg)
	scheduler := ingest.NewScheduler(sources, st, blob, engine, logger)

	admin := adminapi.NewServer(cfg.HTTP.Addr, scheduler, st, st, reviewSvc, authSvc, logger)
	admin.Webhook = webhookAdapter

	return &App{
		Config:    cfg,
		Store:     st,
		Admin:     admin,
		Scheduler: scheduler,
		Reconcile: reconcile.NewService(st),
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// Serve starts the admin HTTP surface and, if any channel is enabled, the
// ingestion scheduler's poll loops, blocking until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)

	if len(a.Scheduler.Sources) > 0 {
		go func() {
			if err := a.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("scheduler: %w", err)
				return
			}
			errCh <- nil
		}()
	} else {
		errCh <- nil
	}

	go func() {
		if err := a.Admin.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("admin surface: %w", err)
			return
		}
		errCh <- nil
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newCheckpointStore(cfg config.Config, st *store.Store) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "durable", "postgres":
		cp := checkpoint.NewPostgresStore(st)
		return cp, cp.Initialize(context.Background())
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}

// buildChannelSources wires one channel.Adapter per name in
// cfg.Listener.Enabled, keyed by cfg.Channel.AllowFrom for the per-channel
// sender whitelist. Returns the webhook adapter separately (if enabled) so
// the admin surface can route pushes into it directly.
func buildChannelSources(cfg config.Config) ([]ingest.Source, *channel.WebhookAdapter) {
	var sources []ingest.Source
	var webhookAdapter *channel.WebhookAdapter

	interval := cfg.Listener.PollInterval
	whitelistFor := func(name string) channel.Whitelist {
		return channel.Whitelist(cfg.Channel.AllowFrom[name])
	}

	for _, name := range cfg.Listener.Enabled {
		switch name {
		case "jmap", "email":
			adapter := channel.NewJMAPAdapter(channel.JMAPConfig{
				URL:        cfg.JMAP.URL,
				SessionURL: cfg.JMAP.SessionURL,
				Username:   cfg.JMAP.Username,
				Password:   cfg.JMAP.Password,
				Account:    cfg.JMAP.AccountID,
				Whitelist:  whitelistFor("jmap"),
			})
			sources = append(sources, ingest.Source{Name: "jmap", Adapter: adapter, Interval: interval})
		case "oauth", "im":
			adapter := channel.NewVendorOAuthAdapter(channel.OAuthConfig{
				BaseURL:      cfg.OAuthChannel.BaseURL,
				TokenURL:     cfg.OAuthChannel.TokenURL,
				ClientID:     cfg.OAuthChannel.ClientID,
				ClientSecret: cfg.OAuthChannel.ClientSecret,
				Scopes:       cfg.OAuthChannel.Scopes,
				Whitelist:    whitelistFor("oauth"),
			})
			sources = append(sources, ingest.Source{Name: "oauth", Adapter: adapter, Interval: interval})
		case "webhook":
			webhookAdapter = channel.NewWebhookAdapter(channel.WebhookConfig{
				Secret:    cfg.JMAP.PushSecret,
				Whitelist: whitelistFor("webhook"),
			})
			sources = append(sources, ingest.Source{Name: "webhook", Adapter: webhookAdapter, Interval: interval})
		}
	}
	return sources, webhookAdapter
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
