package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	otelglobal "go.opentelemetry.io/otel"

	"github.com/Strob0t/elicitor/internal/adapter/dedup"
	elhttp "github.com/Strob0t/elicitor/internal/adapter/http"
	"github.com/Strob0t/elicitor/internal/adapter/litellm"
	elmcp "github.com/Strob0t/elicitor/internal/adapter/mcp"
	elnats "github.com/Strob0t/elicitor/internal/adapter/nats"
	"github.com/Strob0t/elicitor/internal/adapter/natskv"
	"github.com/Strob0t/elicitor/internal/adapter/oncall"
	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/adapter/postgres"
	"github.com/Strob0t/elicitor/internal/adapter/probe"
	"github.com/Strob0t/elicitor/internal/adapter/ratelimit"
	"github.com/Strob0t/elicitor/internal/adapter/ristretto"
	"github.com/Strob0t/elicitor/internal/adapter/tiered"
	"github.com/Strob0t/elicitor/internal/adapter/ws"
	"github.com/Strob0t/elicitor/internal/config"
	"github.com/Strob0t/elicitor/internal/middleware"
	"github.com/Strob0t/elicitor/internal/port/cache"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/notifier"
	oncallport "github.com/Strob0t/elicitor/internal/port/oncall"
	probeport "github.com/Strob0t/elicitor/internal/port/probe"
	"github.com/Strob0t/elicitor/internal/resilience"
	"github.com/Strob0t/elicitor/internal/service"
)

const idempotencyTTL = 24 * time.Hour

func newServeCmd(collect func() config.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, MCP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), collect())
		},
	}
}

func runServe(parent context.Context, flags config.CLIFlags) error {
	cfg, flush, err := loadConfig(flags)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics(otelglobal.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS is optional: without it events reach websocket clients directly
	// and the dedup cache is process-local.
	var (
		queue messagequeue.Queue
		l2    cache.Cache
	)
	if cfg.NATS.URL != "" {
		nq, err := elnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			slog.Warn("nats unavailable, continuing without event bus", "url", cfg.NATS.URL, "error", err)
		} else {
			defer func() {
				if err := nq.Drain(); err != nil {
					slog.Warn("nats drain failed", "error", err)
				}
			}()
			queue = nq
			kv, err := natskv.Open(ctx, nq.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
			if err != nil {
				slog.Warn("nats kv unavailable, dedup cache is local only", "bucket", cfg.Cache.L2Bucket, "error", err)
			} else {
				l2 = kv
			}
		}
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("dedup l1 cache: %w", err)
	}
	defer l1.Close()
	var dedupStore cache.Cache = l1
	if l2 != nil {
		dedupStore = tiered.New(l1, l2, cfg.Cache.DedupTTL)
	}

	idemCache, err := ristretto.New(16 << 20)
	if err != nil {
		return fmt.Errorf("idempotency cache: %w", err)
	}
	defer idemCache.Close()

	// --- Outbound clients ---

	embedder := litellm.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Timeout)
	embedder.SetBreaker(resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	var prober probeport.Prober
	if cfg.Abstention.ProbeURL != "" {
		prober = probe.NewClient(cfg.Abstention.ProbeURL, cfg.Abstention.ProbeTimeout,
			resilience.NewBreaker("probe", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	var onCall oncallport.Provider
	if cfg.Escalation.OnCallURL != "" {
		onCall = oncall.NewClient(cfg.Escalation.OnCallURL, cfg.Escalation.OnCallToken, cfg.Escalation.OnCallTimeout,
			resilience.NewBreaker("oncall", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	notifiers := buildNotifiers(cfg.Notify)

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin, slog.Default())
	defer hub.Close()

	store := postgres.NewStore(pool)
	events := service.NewEventPublisher(queue, hub)
	voiSvc := service.NewVOIService(store, cfg.VOI, metrics)
	batchSvc := service.NewBatchService(store, embedder, cfg.Batching, events, metrics)
	abstentionSvc := service.NewAbstentionService(store, cfg.Abstention.Config, prober, events, metrics)
	notifySvc := service.NewNotificationService(notifiers, cfg.Notify.EnabledEvents, cfg.Server.PublicURL)
	escalationSvc := service.NewEscalationService(store, onCall, notifySvc, events, metrics, cfg.Escalation)
	elicitationSvc := service.NewElicitationService(service.ElicitationDeps{
		Requests: store,
		VOI:      voiSvc,
		Batches:  batchSvc,
		Limiter:  ratelimit.New(cfg.Questions),
		Dedup:    dedup.New(dedupStore, cfg.Cache.DedupTTL),
		Events:   events,
		Metrics:  metrics,
	}, cfg.Escalation.SweepLimit)
	escalationSvc.OnResolved(elicitationSvc.Finalize)

	if queue != nil {
		relay := service.NewEventRelay(queue, hub)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("event relay: %w", err)
		}
		defer relay.Stop()
	}

	sweeps := service.NewSweepService()
	if err := service.RegisterSweeps(sweeps, cfg.Sweep, batchSvc, escalationSvc, elicitationSvc); err != nil {
		return fmt.Errorf("sweeps: %w", err)
	}
	sweeps.Start()
	slog.Info("sweeps scheduled", "jobs", sweeps.Scheduled())

	// --- HTTP ---

	handlers := &elhttp.Handlers{
		Elicitation: elicitationSvc,
		VOI:         voiSvc,
		Batches:     batchSvc,
		Escalations: escalationSvc,
		Abstention:  abstentionSvc,
		Health:      healthCheck(pool, queue),
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(elhttp.SecurityHeaders)
	r.Use(elhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.TenantID)
	r.Use(elhttp.Logger)

	// WebSocket and MCP streams are long-lived and skip the request timeout.
	r.Get("/ws", hub.HandleWS)

	var mcpSrv *elmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = elmcp.NewServer(elmcp.ServerConfig{
			Name:    "elicitor",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, elmcp.ServerDeps{
			Asker:      elicitationSvc,
			Abstention: abstentionSvc,
			Batches:    batchSvc,
			Chains:     escalationSvc,
		})
		r.With(limiter.Handler).Handle("/mcp", mcpSrv.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(limiter.Handler)
		r.Use(middleware.Idempotency(idemCache, idempotencyTTL))
		elhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "mcp", cfg.MCP.Enabled, "nats", queue != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop scheduling sweeps first and let running ones finish.
	select {
	case <-sweeps.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("sweeps still running at shutdown deadline")
	}
	if mcpSrv != nil {
		if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown failed", "error", err)
		}
	}
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifiers creates a notifier for every configured channel through
// the notifier registry.
func buildNotifiers(cfg config.Notify) []notifier.Notifier {
	settings := map[string]map[string]string{}
	if cfg.SlackWebhookURL != "" {
		settings["slack"] = map[string]string{"webhook_url": cfg.SlackWebhookURL}
	}
	if cfg.DiscordWebhookURL != "" {
		settings["discord"] = map[string]string{"webhook_url": cfg.DiscordWebhookURL}
	}
	if cfg.SMTPHost != "" {
		settings["email"] = map[string]string{
			"host":     cfg.SMTPHost,
			"port":     cfg.SMTPPort,
			"from":     cfg.SMTPFrom,
			"user":     cfg.SMTPUser,
			"password": cfg.SMTPPassword,
			"domain":   cfg.EmailDomain,
		}
	}

	var out []notifier.Notifier
	for _, name := range notifier.Available() {
		s, ok := settings[name]
		if !ok {
			continue
		}
		n, err := notifier.New(name, s)
		if err != nil {
			slog.Warn("notifier disabled", "provider", name, "error", err)
			continue
		}
		out = append(out, n)
	}
	slog.Info("notifiers configured", "count", len(out))
	return out
}

func healthCheck(pool *pgxpool.Pool, queue messagequeue.Queue) func(context.Context) map[string]string {
	return func(ctx context.Context) map[string]string {
		deps := map[string]string{"postgres": "ok"}
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pctx); err != nil {
			deps["postgres"] = "unreachable"
		}
		if queue != nil {
			deps["nats"] = "ok"
			if !queue.IsConnected() {
				deps["nats"] = "disconnected"
			}
		}
		return deps
	}
}
