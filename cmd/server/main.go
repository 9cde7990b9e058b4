package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	consenthandler "patron/internal/consent/handler"
	consentservice "patron/internal/consent/service"
	consentstore "patron/internal/consent/store"
	"patron/internal/events"
	identityhandler "patron/internal/identity/handler"
	identityservice "patron/internal/identity/service"
	identitystore "patron/internal/identity/store"
	ledgerhandler "patron/internal/ledger/handler"
	ledgermetrics "patron/internal/ledger/metrics"
	ledgerservice "patron/internal/ledger/service"
	ledgerstore "patron/internal/ledger/store"
	"patron/internal/merge"
	mergehandler "patron/internal/merge/handler"
	"patron/internal/platform/config"
	"patron/internal/platform/httpserver"
	"patron/internal/platform/kafka"
	"patron/internal/platform/logger"
	"patron/internal/platform/metrics"
	"patron/internal/platform/middleware"
	"patron/internal/platform/postgres"
	platformredis "patron/internal/platform/redis"
	"patron/internal/platform/staffauth"
	webhookhandler "patron/internal/webhook/handler"
	webhookmetrics "patron/internal/webhook/metrics"
	"patron/internal/webhook/pipeline"
	"patron/internal/webhook/provider"
	"patron/internal/webhook/replay"
	"patron/migrations"
	"patron/pkg/platform/circuit"
	"patron/pkg/platform/httputil"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("patron stopped with error", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional backing services. Nil members are disabled.
type infra struct {
	db       *sql.DB
	redis    *platformredis.Client
	producer *kafka.Producer
}

func (i *infra) close(ctx context.Context) {
	if i.producer != nil {
		i.producer.Close(ctx)
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	i := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		i.db = db
		if err := migrations.Apply(ctx, db); err != nil {
			i.close(ctx)
			return nil, err
		}
		log.Info("connected to postgres")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		i.close(ctx)
		return nil, err
	}
	i.redis = rc

	producer, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		i.close(ctx)
		return nil, err
	}
	if producer != nil {
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure kafka topic", "topic", producer.Topic(), "error", err)
		}
		i.producer = producer
	}
	return i, nil
}

// purgeableRecorder is a replay store the sweeper can clean and operators
// can query in batches.
type purgeableRecorder interface {
	replay.Purger
	Record(ctx context.Context, provider, nonce string, at time.Time) error
	Seen(ctx context.Context, nonce string) (bool, error)
	SeenAny(ctx context.Context, nonces []string) ([]string, error)
}

func replayStore(cfg config.Server, i *infra) (purgeableRecorder, error) {
	switch cfg.Webhook.ReplayBackend {
	case config.ReplayBackendRedis:
		if i.redis == nil {
			return nil, errors.New("REPLAY_BACKEND=redis requires REDIS_URL")
		}
		return replay.NewRedis(i.redis, cfg.Webhook.Retention()), nil
	case config.ReplayBackendPostgres:
		if i.db == nil {
			return nil, errors.New("REPLAY_BACKEND=postgres requires DATABASE_URL")
		}
		return replay.NewPostgres(i.db), nil
	default:
		return replay.NewInMemory(), nil
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	i, err := connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect infrastructure: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		i.close(closeCtx)
	}()

	dispatcher := events.NewDispatcher(events.WithLogger(log))
	dispatcher.Subscribe(events.LogListener(log))
	if i.producer != nil {
		dispatcher.Subscribe(events.NewKafkaListener(i.producer,
			events.WithBreaker(circuit.New("kafka")),
			events.WithKafkaLogger(log),
		))
	}

	var (
		identityStore identityservice.Store
		identityTx    identityservice.Transactor
		consents      consentservice.Store
		accounts      ledgerservice.Store
	)
	if i.db != nil {
		identityStore, identityTx = identitystore.NewPostgres(i.db), postgres.NewTransactor(i.db)
		consents = consentstore.NewPostgres(i.db)
		accounts = ledgerstore.NewPostgres(i.db)
	} else {
		mem := identitystore.NewInMemory()
		identityStore, identityTx = mem, mem
		consents = consentstore.NewInMemory()
		accounts = ledgerstore.NewInMemory()
	}

	identity := identityservice.New(identityStore, identityTx,
		identityservice.WithLogger(log),
		identityservice.WithPublisher(dispatcher),
		identityservice.WithDefaultRegion(cfg.DefaultRegion),
	)
	consent := consentservice.New(consents, identity,
		consentservice.WithLogger(log),
		consentservice.WithPublisher(dispatcher),
	)
	ledger := ledgerservice.New(accounts,
		ledgerservice.WithLogger(log),
		ledgerservice.WithPublisher(dispatcher),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithConsentChecker(consent, ledgerservice.DefaultNotificationChannel),
		ledgerservice.WithCustomerStatus(identity),
		ledgerservice.WithStampsTarget(cfg.Ledger.StampsTarget),
	)
	merger := merge.New(identityStore, identityTx,
		merge.WithLogger(log),
		merge.WithPublisher(dispatcher),
	)

	nonces, err := replayStore(cfg, i)
	if err != nil {
		return err
	}
	hookMetrics := webhookmetrics.New()
	hooks := pipeline.New(cfg.Webhook, nonces,
		provider.Registry{
			provider.ManychatName: provider.NewManychat(identity, provider.WithManychatLogger(log)),
		},
		pipeline.WithLogger(log),
		pipeline.WithMetrics(hookMetrics),
		pipeline.WithFreshnessWindow(cfg.Webhook.FreshnessWindow),
	)
	sweeper := replay.NewSweeper(nonces, cfg.Webhook.Retention(), cfg.Webhook.SweepInterval,
		replay.WithSweepLogger(log),
		replay.WithSweepObserver(hookMetrics.RecordPurged),
	)
	staff := staffauth.New(cfg.Staff.JWTSigningKey, cfg.Staff.Issuer)

	httpMetrics := metrics.New()
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", health(i))
	r.Handle("/metrics", metrics.Handler())
	identityhandler.New(identity, log).Register(r)
	consenthandler.New(consent, log).Register(r)
	ledgerhandler.New(ledger, identity, log).Register(r)
	webhookhandler.New(hooks, log).Register(r)
	if cfg.Staff.JWTSigningKey != "" {
		mergehandler.New(merger, staff, log).Register(r)
	} else {
		log.Warn("STAFF_JWT_SECRET not set, merge endpoint disabled")
	}
	r.Route("/admin/webhooks", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(cfg.AdminToken, log))
		r.Post("/sweep", sweepNow(sweeper, log))
		r.Post("/nonces", webhookhandler.NewAdmin(nonces, log).HandleNonceCheck)
	})

	srv := httpserver.New(cfg.Addr, otelhttp.NewHandler(r, "patron"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting patron", "addr", cfg.Addr, "replay_backend", string(cfg.Webhook.ReplayBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("nonce sweeper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down patron")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func health(i *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if i.db != nil {
			if err := i.db.PingContext(ctx); err != nil {
				status["postgres"], code = "down", http.StatusServiceUnavailable
			}
		}
		if i.redis != nil {
			if err := i.redis.Health(ctx); err != nil {
				status["redis"], code = "down", http.StatusServiceUnavailable
			}
		}
		if code != http.StatusOK {
			status["status"] = "degraded"
		}
		httputil.WriteJSON(w, code, status)
	}
}

func sweepNow(s *replay.Sweeper, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.SweepAt(r.Context(), time.Now())
		if err != nil {
			log.ErrorContext(r.Context(), "manual nonce sweep failed", "error", err)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int64{"purged": n})
	}
}
